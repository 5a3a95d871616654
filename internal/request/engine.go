package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// Engine enforces the session request state machine.
//
//	(none) -create-> pending -accept-> in_progress -end-> completed
//	                 pending -decline-> declined
//	      pending | in_progress -cancel-> cancelled
//
// Every transition is a single conditional update in the store; the engine
// holds no locks of its own.
type Engine struct {
	store     interfaces.RequestStore
	directory interfaces.Directory
	notifier  interfaces.Notifier
	log       *logger.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a request engine.
func NewEngine(store interfaces.RequestStore, directory interfaces.Directory, notifier interfaces.Notifier, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		directory: directory,
		notifier:  notifier,
		log:       log.Named("engine"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// timestamp returns the clock in UTC at the precision every backend keeps.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// ResolveChild returns the child a caller acts for: a child acts for itself,
// a parent for the first child linked to them.
func (e *Engine) ResolveChild(ctx context.Context, user *types.User) (string, error) {
	switch user.Role {
	case types.RoleChild:
		return user.ID, nil
	case types.RoleParent:
		children, err := e.directory.ChildrenOf(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve children of %s: %w", user.ID, err)
		}
		if len(children) == 0 {
			return "", ErrNoChildLinked
		}
		return children[0], nil
	default:
		return "", ErrNoChildLinked
	}
}

// CreateRequest opens a pending request for the child and announces it to
// every connected therapist.
func (e *Engine) CreateRequest(ctx context.Context, childID, description string) (*types.SessionRequest, error) {
	description, err := types.NormalizeDescription(description)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	child, err := e.directory.GetUser(ctx, childID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, ErrNoChildLinked
		}
		return nil, fmt.Errorf("failed to load child %s: %w", childID, err)
	}
	if child.Role != types.RoleChild {
		return nil, ErrNoChildLinked
	}

	req := &types.SessionRequest{
		ID:          uuid.New().String(),
		ChildID:     childID,
		Status:      types.StatusPending,
		Description: description,
		RequestedAt: e.timestamp(),
	}

	if err := e.store.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, interfaces.ErrActiveRequestExists) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Child = child.Summary()

	e.log.Info("Session request created",
		logger.String("request_id", req.ID),
		logger.String("child_id", childID))

	e.notifier.Notify(&types.Notification{
		Event: types.NewEvent(types.EventNewSessionRequest, types.RequestCreatedPayload{
			RequestID:   req.ID,
			Child:       req.Child,
			RequestedAt: req.RequestedAt,
			Status:      req.Status,
			Description: req.Description,
		}),
		Policy: types.AllOfRole(types.RoleTherapist),
	})

	return req, nil
}

// AcceptRequest assigns a pending request to the therapist and makes it live.
// Of several concurrent accepts exactly one succeeds; the rest get
// ErrInvalidState.
func (e *Engine) AcceptRequest(ctx context.Context, requestID, therapistID string) (*types.SessionRequest, error) {
	if !types.IsValidRequestID(requestID) {
		return nil, ErrNotFound
	}

	req, err := e.store.TransitionRequest(ctx, &types.Transition{
		RequestID:       requestID,
		From:            []types.Status{types.StatusPending},
		To:              types.StatusInProgress,
		At:              e.timestamp(),
		AssignTherapist: therapistID,
	})
	if err != nil {
		return nil, e.transitionError(ctx, requestID, err, nil)
	}
	e.attachChild(ctx, req)

	e.log.Info("Session request accepted",
		logger.String("request_id", req.ID),
		logger.String("therapist_id", therapistID))

	notifications := e.childSide(ctx, req)
	notifications = append(notifications, deletedFor(req, types.AllOfRoleExcept(types.RoleTherapist, therapistID)))
	e.notifier.Notify(notifications...)

	return req, nil
}

// DeclineRequest declines a pending request and withdraws it from every
// therapist's queue.
func (e *Engine) DeclineRequest(ctx context.Context, requestID, therapistID string) (*types.SessionRequest, error) {
	if !types.IsValidRequestID(requestID) {
		return nil, ErrNotFound
	}

	req, err := e.store.TransitionRequest(ctx, &types.Transition{
		RequestID: requestID,
		From:      []types.Status{types.StatusPending},
		To:        types.StatusDeclined,
		At:        e.timestamp(),
	})
	if err != nil {
		return nil, e.transitionError(ctx, requestID, err, nil)
	}
	e.attachChild(ctx, req)

	e.log.Info("Session request declined",
		logger.String("request_id", req.ID),
		logger.String("therapist_id", therapistID))

	notifications := e.childSide(ctx, req)
	notifications = append(notifications, deletedFor(req, types.AllOfRole(types.RoleTherapist)))
	e.notifier.Notify(notifications...)

	return req, nil
}

// EndSession completes a live session. Only the assigned therapist may end it.
func (e *Engine) EndSession(ctx context.Context, requestID, therapistID string) (*types.SessionRequest, error) {
	if !types.IsValidRequestID(requestID) {
		return nil, ErrNotFound
	}

	req, err := e.store.TransitionRequest(ctx, &types.Transition{
		RequestID:   requestID,
		From:        []types.Status{types.StatusInProgress},
		To:          types.StatusCompleted,
		At:          e.timestamp(),
		TherapistID: therapistID,
	})
	if err != nil {
		return nil, e.transitionError(ctx, requestID, err, func(current *types.SessionRequest) error {
			if current.Status == types.StatusInProgress && current.TherapistID != therapistID {
				return ErrNotOwner
			}
			return nil
		})
	}
	e.attachChild(ctx, req)

	e.log.Info("Session ended",
		logger.String("request_id", req.ID),
		logger.String("therapist_id", therapistID))

	notifications := e.childSide(ctx, req)
	notifications = append(notifications, &types.Notification{
		Event:  types.NewEvent(types.EventSessionRequestUpdated, updatedPayload(req)),
		Policy: types.SingleUser(therapistID),
	})
	e.notifier.Notify(notifications...)

	return req, nil
}

// CancelRequest withdraws the child's pending or live request. The record is
// kept with status cancelled.
func (e *Engine) CancelRequest(ctx context.Context, requestID, childID string) (*types.SessionRequest, error) {
	if !types.IsValidRequestID(requestID) {
		return nil, ErrNotFound
	}

	req, err := e.store.TransitionRequest(ctx, &types.Transition{
		RequestID: requestID,
		From:      types.ActiveStatuses,
		To:        types.StatusCancelled,
		At:        e.timestamp(),
		ChildID:   childID,
	})
	if err != nil {
		return nil, e.transitionError(ctx, requestID, err, func(current *types.SessionRequest) error {
			if current.ChildID != childID {
				return ErrNotOwner
			}
			return nil
		})
	}
	e.attachChild(ctx, req)

	e.log.Info("Session request cancelled",
		logger.String("request_id", req.ID),
		logger.String("child_id", childID))

	e.notifier.Notify(e.withdrawn(ctx, req)...)
	return req, nil
}

// ListMyRequest returns the child's most recent request in any status, or nil.
func (e *Engine) ListMyRequest(ctx context.Context, childID string) (*types.SessionRequest, error) {
	req, err := e.store.LatestRequestForChild(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest request: %w", err)
	}
	if req != nil {
		e.attachChild(ctx, req)
	}
	return req, nil
}

// ListActiveRequests returns every pending and in_progress request, oldest
// first. Callers partition it into their queue and their live session.
func (e *Engine) ListActiveRequests(ctx context.Context) ([]*types.SessionRequest, error) {
	requests, err := e.store.ListRequestsByStatus(ctx, types.ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}

	children := make(map[string]*types.ChildSummary)
	for _, req := range requests {
		summary, cached := children[req.ChildID]
		if !cached {
			summary = e.childSummary(ctx, req.ChildID)
			children[req.ChildID] = summary
		}
		req.Child = summary
	}
	if requests == nil {
		requests = []*types.SessionRequest{}
	}
	return requests, nil
}

// ExpirePending cancels pending requests older than ttl and returns how many
// were expired. Requests accepted in the meantime are skipped.
func (e *Engine) ExpirePending(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := e.timestamp().Add(-ttl)
	stale, err := e.store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale requests: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		req, err := e.store.TransitionRequest(ctx, &types.Transition{
			RequestID: candidate.ID,
			From:      []types.Status{types.StatusPending},
			To:        types.StatusCancelled,
			At:        e.timestamp(),
		})
		if errors.Is(err, interfaces.ErrTransitionRejected) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("failed to expire request %s: %w", candidate.ID, err)
		}
		e.attachChild(ctx, req)
		e.notifier.Notify(e.withdrawn(ctx, req)...)
		expired++

		e.log.Info("Pending request expired",
			logger.String("request_id", req.ID),
			logger.Time("requested_at", req.RequestedAt))
	}
	return expired, nil
}

// transitionError maps a failed conditional update to a domain error. A
// rejected update is classified by re-reading the record: missing means
// ErrNotFound, ownerCheck may claim ErrNotOwner, anything else is stale state.
func (e *Engine) transitionError(ctx context.Context, requestID string, err error, ownerCheck func(*types.SessionRequest) error) error {
	if !errors.Is(err, interfaces.ErrTransitionRejected) {
		return fmt.Errorf("failed to update request %s: %w", requestID, err)
	}

	current, getErr := e.store.GetRequest(ctx, requestID)
	if errors.Is(getErr, interfaces.ErrRequestNotFound) {
		return ErrNotFound
	}
	if getErr != nil {
		return fmt.Errorf("failed to load request %s: %w", requestID, getErr)
	}
	if ownerCheck != nil {
		if ownerErr := ownerCheck(current); ownerErr != nil {
			return ownerErr
		}
	}
	return ErrInvalidState
}

// withdrawn builds the notifications for a request leaving the active set
// without a therapist's decision.
func (e *Engine) withdrawn(ctx context.Context, req *types.SessionRequest) []*types.Notification {
	notifications := e.childSide(ctx, req)
	return append(notifications, deletedFor(req, types.AllOfRole(types.RoleTherapist)))
}

// childSide addresses session_request_updated to the child and every
// guardian linked to the child.
func (e *Engine) childSide(ctx context.Context, req *types.SessionRequest) []*types.Notification {
	payload := updatedPayload(req)
	notifications := []*types.Notification{{
		Event:  types.NewEvent(types.EventSessionRequestUpdated, payload),
		Policy: types.SingleUser(req.ChildID),
	}}

	guardians, err := e.directory.GuardiansOf(ctx, req.ChildID)
	if err != nil {
		e.log.Warn("Failed to resolve guardians, notifying child only",
			logger.String("child_id", req.ChildID),
			logger.Error(err))
		return notifications
	}
	for _, guardianID := range guardians {
		notifications = append(notifications, &types.Notification{
			Event:  types.NewEvent(types.EventSessionRequestUpdated, payload),
			Policy: types.SingleUser(guardianID),
		})
	}
	return notifications
}

func (e *Engine) attachChild(ctx context.Context, req *types.SessionRequest) {
	req.Child = e.childSummary(ctx, req.ChildID)
}

// childSummary falls back to a bare ID when the directory cannot be read;
// display data is not worth failing a transition over.
func (e *Engine) childSummary(ctx context.Context, childID string) *types.ChildSummary {
	child, err := e.directory.GetUser(ctx, childID)
	if err != nil {
		e.log.Debug("Child profile unavailable",
			logger.String("child_id", childID),
			logger.Error(err))
		return &types.ChildSummary{ID: childID}
	}
	return child.Summary()
}

func updatedPayload(req *types.SessionRequest) types.RequestUpdatedPayload {
	return types.RequestUpdatedPayload{
		RequestID:   req.ID,
		Status:      req.Status,
		TherapistID: req.TherapistID,
		AcceptedAt:  req.AcceptedAt,
		DeclinedAt:  req.DeclinedAt,
		EndedAt:     req.EndedAt,
		CancelledAt: req.CancelledAt,
	}
}

func deletedFor(req *types.SessionRequest, policy types.RecipientPolicy) *types.Notification {
	return &types.Notification{
		Event:  types.NewEvent(types.EventSessionRequestDeleted, types.RequestDeletedPayload{RequestID: req.ID}),
		Policy: policy,
	}
}
