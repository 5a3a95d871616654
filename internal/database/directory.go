package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"therapyline/pkg/interfaces"
	"therapyline/pkg/types"
)

// ErrInvalidLink is returned when a guardian link does not join a parent to a child.
var ErrInvalidLink = errors.New("guardian link must join a parent to a child")

// GetUser retrieves a directory user by ID
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	query := m.rebind(`
		SELECT id, role, name, disability_type, additional_info
		FROM users
		WHERE id = ?
	`)

	var user types.User
	var role string
	err := m.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&role,
		&user.Name,
		&user.DisabilityType,
		&user.AdditionalInfo,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Role = types.Role(role)
	return &user, nil
}

// ChildrenOf returns the children linked to a parent, first linked first.
func (m *Manager) ChildrenOf(ctx context.Context, parentID string) ([]string, error) {
	return m.queryIDs(ctx, m.rebind(`
		SELECT child_id FROM guardian_links
		WHERE parent_id = ?
		ORDER BY position ASC, child_id ASC
	`), parentID)
}

// GuardiansOf returns the parents linked to a child.
func (m *Manager) GuardiansOf(ctx context.Context, childID string) ([]string, error) {
	return m.queryIDs(ctx, m.rebind(`
		SELECT parent_id FROM guardian_links
		WHERE child_id = ?
		ORDER BY parent_id ASC
	`), childID)
}

// UpsertUser inserts or refreshes a directory user.
func (m *Manager) UpsertUser(ctx context.Context, user *types.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	query := m.rebind(`
		INSERT INTO users (id, role, name, disability_type, additional_info, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			name = excluded.name,
			disability_type = excluded.disability_type,
			additional_info = excluded.additional_info,
			updated_at = CURRENT_TIMESTAMP
	`)

	return m.write(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query,
			user.ID,
			string(user.Role),
			user.Name,
			user.DisabilityType,
			user.AdditionalInfo,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
		}
		return nil
	})
}

// LinkChild records a parent as guardian of a child. Linking twice is a no-op.
func (m *Manager) LinkChild(ctx context.Context, parentID, childID string) error {
	parent, err := m.GetUser(ctx, parentID)
	if err != nil {
		return fmt.Errorf("parent %s: %w", parentID, err)
	}
	child, err := m.GetUser(ctx, childID)
	if err != nil {
		return fmt.Errorf("child %s: %w", childID, err)
	}
	if parent.Role != types.RoleParent || child.Role != types.RoleChild {
		return ErrInvalidLink
	}

	query := m.rebind(`
		INSERT INTO guardian_links (parent_id, child_id, position)
		VALUES (?, ?, (SELECT COUNT(*) FROM guardian_links WHERE parent_id = ?))
		ON CONFLICT (parent_id, child_id) DO NOTHING
	`)

	return m.write(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query, parentID, childID, parentID); err != nil {
			return fmt.Errorf("failed to link %s to %s: %w", parentID, childID, err)
		}
		return nil
	})
}

func (m *Manager) queryIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query guardian links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
