package interfaces

import (
	"context"
	"time"

	"therapyline/pkg/types"
)

// RequestStore persists session requests.
// FUNCTIONAL DISCOVERY: the store owns the two invariants the engine cannot
// enforce in memory: one active request per child, and transitions applied
// only when the stored status still matches.
type RequestStore interface {
	// CreateRequest inserts a pending request. Returns ErrActiveRequestExists
	// when the child already has a pending or in_progress request.
	CreateRequest(ctx context.Context, req *types.SessionRequest) error

	// GetRequest returns ErrRequestNotFound for unknown ids.
	GetRequest(ctx context.Context, requestID string) (*types.SessionRequest, error)

	// LatestRequestForChild returns the most recently requested record for the
	// child regardless of status, or nil when the child has none.
	LatestRequestForChild(ctx context.Context, childID string) (*types.SessionRequest, error)

	// ListRequestsByStatus returns requests in any of the statuses, oldest first.
	ListRequestsByStatus(ctx context.Context, statuses ...types.Status) ([]*types.SessionRequest, error)

	// ListPendingBefore returns pending requests requested before the cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*types.SessionRequest, error)

	// TransitionRequest applies t as one conditional update and returns the
	// updated record. Returns ErrTransitionRejected when no row matched.
	TransitionRequest(ctx context.Context, t *types.Transition) (*types.SessionRequest, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Directory resolves users and guardian links.
type Directory interface {
	// GetUser returns ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, userID string) (*types.User, error)

	// ChildrenOf returns the children linked to a parent in link order.
	ChildrenOf(ctx context.Context, parentID string) ([]string, error)

	// GuardiansOf returns the parents linked to a child.
	GuardiansOf(ctx context.Context, childID string) ([]string, error)

	UpsertUser(ctx context.Context, user *types.User) error
	LinkChild(ctx context.Context, parentID, childID string) error
}
