package types

import (
	"time"
)

// Role identifies what a directory user may do in the request lifecycle.
type Role string

const (
	RoleChild     Role = "child"
	RoleParent    Role = "parent"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
)

// Status is the lifecycle state of a session request.
// FUNCTIONAL DISCOVERY: acceptance moves straight into in_progress, there is
// no separately persisted "accepted" state
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDeclined   Status = "declined"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses are the statuses covered by the one-active-request-per-child rule.
var ActiveStatuses = []Status{StatusPending, StatusInProgress}

// IsActive reports whether the status counts toward the per-child uniqueness rule.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// IsTerminal reports whether no further transition is allowed out of the status.
func (s Status) IsTerminal() bool {
	return s == StatusDeclined || s == StatusCompleted || s == StatusCancelled
}

// SessionRequest is a child's request for a live therapy session.
// Timestamps are written exactly once, by the transition that owns them.
type SessionRequest struct {
	ID          string        `json:"id" db:"id"`
	ChildID     string        `json:"child_id" db:"child_id"`
	Child       *ChildSummary `json:"child,omitempty" db:"-"`
	TherapistID string        `json:"therapist_id,omitempty" db:"therapist_id"`
	Status      Status        `json:"status" db:"status"`
	Description string        `json:"description" db:"description"`
	RequestedAt time.Time     `json:"requested_at" db:"requested_at"`
	AcceptedAt  *time.Time    `json:"accepted_at,omitempty" db:"accepted_at"`
	DeclinedAt  *time.Time    `json:"declined_at,omitempty" db:"declined_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// User is a directory entry as seen by the request subsystem.
type User struct {
	ID             string `json:"id" yaml:"id"`
	Role           Role   `json:"role" yaml:"role"`
	Name           string `json:"name" yaml:"name"`
	DisabilityType string `json:"disability_type,omitempty" yaml:"disability_type"`
	AdditionalInfo string `json:"additional_info,omitempty" yaml:"additional_info"`
}

// ChildSummary is the display subset of a child's profile attached to requests.
type ChildSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DisabilityType string `json:"disability_type,omitempty"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

// Summary returns the display subset of the user's profile.
func (u *User) Summary() *ChildSummary {
	return &ChildSummary{
		ID:             u.ID,
		Name:           u.Name,
		DisabilityType: u.DisabilityType,
		AdditionalInfo: u.AdditionalInfo,
	}
}

// Transition describes one conditional status change applied by a RequestStore.
// The store applies it only when the stored status is one of From and the
// optional ownership filters match, in a single statement.
type Transition struct {
	RequestID string
	From      []Status
	To        Status
	At        time.Time

	// ChildID restricts the update to requests owned by this child when set.
	ChildID string
	// TherapistID restricts the update to requests assigned to this therapist when set.
	TherapistID string
	// AssignTherapist sets therapist_id as part of the update when set.
	AssignTherapist string
}
