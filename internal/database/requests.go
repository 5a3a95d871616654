package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbconfig "therapyline/pkg/database"
	"therapyline/pkg/interfaces"
	"therapyline/pkg/types"
)

const requestColumns = `id, child_id, therapist_id, status, description,
	requested_at, accepted_at, declined_at, ended_at, cancelled_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CreateRequest inserts a pending request.
// FUNCTIONAL DISCOVERY: the partial unique index on child_id is what rejects
// a second active request, so two tabs creating at once cannot both win.
func (m *Manager) CreateRequest(ctx context.Context, req *types.SessionRequest) error {
	query := m.rebind(`
		INSERT INTO session_requests (id, child_id, status, description, requested_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	return m.write(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query,
			req.ID,
			req.ChildID,
			string(req.Status),
			req.Description,
			req.RequestedAt.UTC(),
		)
		if err != nil {
			if dbconfig.IsUniqueViolation(err) {
				return interfaces.ErrActiveRequestExists
			}
			return fmt.Errorf("failed to insert session request: %w", err)
		}
		return nil
	})
}

// GetRequest retrieves a request by ID
func (m *Manager) GetRequest(ctx context.Context, requestID string) (*types.SessionRequest, error) {
	query := m.rebind(`SELECT ` + requestColumns + ` FROM session_requests WHERE id = ?`)

	req, err := scanRequest(m.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to query session request: %w", err)
	}
	return req, nil
}

// LatestRequestForChild returns the child's most recent request or nil.
func (m *Manager) LatestRequestForChild(ctx context.Context, childID string) (*types.SessionRequest, error) {
	query := m.rebind(`
		SELECT ` + requestColumns + `
		FROM session_requests
		WHERE child_id = ?
		ORDER BY requested_at DESC, id DESC
		LIMIT 1
	`)

	req, err := scanRequest(m.db.QueryRowContext(ctx, query, childID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest session request: %w", err)
	}
	return req, nil
}

// ListRequestsByStatus returns requests in any of the statuses, oldest first.
func (m *Manager) ListRequestsByStatus(ctx context.Context, statuses ...types.Status) ([]*types.SessionRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
	}
	query := m.rebind(`
		SELECT ` + requestColumns + `
		FROM session_requests
		WHERE status IN (` + placeholders(len(statuses)) + `)
		ORDER BY requested_at ASC, id ASC
	`)

	return m.queryRequests(ctx, query, args...)
}

// ListPendingBefore returns pending requests older than the cutoff.
func (m *Manager) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*types.SessionRequest, error) {
	query := m.rebind(`
		SELECT ` + requestColumns + `
		FROM session_requests
		WHERE status = ? AND requested_at < ?
		ORDER BY requested_at ASC, id ASC
	`)

	return m.queryRequests(ctx, query, string(types.StatusPending), cutoff.UTC())
}

// TransitionRequest applies one conditional status change.
// The UPDATE carries the expected statuses and ownership filters in its WHERE
// clause, so of several concurrent callers exactly one matches the row; the
// others see zero rows affected and get ErrTransitionRejected.
func (m *Manager) TransitionRequest(ctx context.Context, t *types.Transition) (*types.SessionRequest, error) {
	query, args, err := buildTransition(t)
	if err != nil {
		return nil, err
	}
	query = m.rebind(query)
	selectQuery := m.rebind(`SELECT ` + requestColumns + ` FROM session_requests WHERE id = ?`)

	var updated *types.SessionRequest
	err = m.write(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if dbconfig.IsUniqueViolation(err) {
				return interfaces.ErrActiveRequestExists
			}
			return fmt.Errorf("failed to update session request: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrTransitionRejected
		}

		updated, err = scanRequest(tx.QueryRowContext(ctx, selectQuery, t.RequestID))
		if err != nil {
			return fmt.Errorf("failed to reload session request: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// buildTransition renders the conditional UPDATE for t with '?' placeholders.
func buildTransition(t *types.Transition) (string, []interface{}, error) {
	if t.RequestID == "" || len(t.From) == 0 || t.To == "" {
		return "", nil, fmt.Errorf("incomplete transition for request %q", t.RequestID)
	}
	at := t.At.UTC()

	sets := []string{"status = ?"}
	args := []interface{}{string(t.To)}

	// Group source statuses by the timestamp column the move stamps. Cancelling
	// a live session ends it instead of stamping cancelled_at.
	var columns []string
	sources := make(map[string][]types.Status)
	for _, from := range t.From {
		column, err := stampColumn(from, t.To)
		if err != nil {
			return "", nil, err
		}
		if _, seen := sources[column]; !seen {
			columns = append(columns, column)
		}
		sources[column] = append(sources[column], from)
	}

	if len(columns) == 1 {
		sets = append(sets, columns[0]+" = ?")
		args = append(args, at)
	} else {
		for _, column := range columns {
			from := sources[column]
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN status IN (%s) THEN ? ELSE %s END",
				column, placeholders(len(from)), column))
			for _, s := range from {
				args = append(args, string(s))
			}
			args = append(args, at)
		}
	}

	if t.AssignTherapist != "" {
		sets = append(sets, "therapist_id = ?")
		args = append(args, t.AssignTherapist)
	}

	where := []string{"id = ?", "status IN (" + placeholders(len(t.From)) + ")"}
	args = append(args, t.RequestID)
	for _, s := range t.From {
		args = append(args, string(s))
	}
	if t.ChildID != "" {
		where = append(where, "child_id = ?")
		args = append(args, t.ChildID)
	}
	if t.TherapistID != "" {
		where = append(where, "therapist_id = ?")
		args = append(args, t.TherapistID)
	}
	if t.AssignTherapist != "" {
		// the assigned therapist is written once
		where = append(where, "therapist_id IS NULL")
	}

	query := "UPDATE session_requests SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ")
	return query, args, nil
}

// stampColumn names the timestamp written by a from -> to move.
func stampColumn(from, to types.Status) (string, error) {
	switch {
	case from == types.StatusPending && to == types.StatusInProgress:
		return "accepted_at", nil
	case from == types.StatusPending && to == types.StatusDeclined:
		return "declined_at", nil
	case from == types.StatusInProgress && to == types.StatusCompleted:
		return "ended_at", nil
	case from == types.StatusPending && to == types.StatusCancelled:
		return "cancelled_at", nil
	case from == types.StatusInProgress && to == types.StatusCancelled:
		return "ended_at", nil
	default:
		return "", fmt.Errorf("transition %s -> %s is not allowed", from, to)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (m *Manager) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*types.SessionRequest, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*types.SessionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

func scanRequest(row rowScanner) (*types.SessionRequest, error) {
	var (
		req         types.SessionRequest
		status      string
		therapistID sql.NullString
		acceptedAt  sql.NullTime
		declinedAt  sql.NullTime
		endedAt     sql.NullTime
		cancelledAt sql.NullTime
	)

	err := row.Scan(
		&req.ID,
		&req.ChildID,
		&therapistID,
		&status,
		&req.Description,
		&req.RequestedAt,
		&acceptedAt,
		&declinedAt,
		&endedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = types.Status(status)
	req.TherapistID = therapistID.String
	req.RequestedAt = req.RequestedAt.UTC()
	req.AcceptedAt = nullTime(acceptedAt)
	req.DeclinedAt = nullTime(declinedAt)
	req.EndedAt = nullTime(endedAt)
	req.CancelledAt = nullTime(cancelledAt)

	return &req, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
