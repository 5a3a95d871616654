package types

import "time"

// Push event types delivered to connected clients.
const (
	EventNewSessionRequest     = "new_session_request"
	EventSessionRequestUpdated = "session_request_updated"
	EventSessionRequestDeleted = "session_request_deleted"

	// Control frames exchanged on the delivery channel itself.
	EventRegister   = "register"
	EventRegistered = "registered"
	EventError      = "error"
)

// Event is the frame written to a delivery channel.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
}

// RequestCreatedPayload is the data of new_session_request.
type RequestCreatedPayload struct {
	RequestID   string        `json:"request_id"`
	Child       *ChildSummary `json:"child"`
	RequestedAt time.Time     `json:"requested_at"`
	Status      Status        `json:"status"`
	Description string        `json:"description"`
}

// RequestUpdatedPayload is the data of session_request_updated.
type RequestUpdatedPayload struct {
	RequestID   string     `json:"request_id"`
	Status      Status     `json:"status"`
	TherapistID string     `json:"therapist_id,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// RequestDeletedPayload is the data of session_request_deleted.
type RequestDeletedPayload struct {
	RequestID string `json:"request_id"`
}

// RegisterPayload is the data of the client's register handshake frame.
type RegisterPayload struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// ErrorPayload is the data of an error control frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PolicyKind selects how a RecipientPolicy resolves to channels.
type PolicyKind string

const (
	PolicySingleUser PolicyKind = "single_user"
	PolicyAllOfRole  PolicyKind = "all_of_role"
)

// RecipientPolicy names who should receive an event.
type RecipientPolicy struct {
	Kind   PolicyKind `json:"kind"`
	UserID string     `json:"user_id,omitempty"`
	Role   Role       `json:"role,omitempty"`
	// Except excludes one user from an all_of_role fan-out.
	Except string `json:"except,omitempty"`
}

// SingleUser targets exactly one user's current channel.
func SingleUser(userID string) RecipientPolicy {
	return RecipientPolicy{Kind: PolicySingleUser, UserID: userID}
}

// AllOfRole targets every connected user with the role.
func AllOfRole(role Role) RecipientPolicy {
	return RecipientPolicy{Kind: PolicyAllOfRole, Role: role}
}

// AllOfRoleExcept targets every connected user with the role except one.
func AllOfRoleExcept(role Role, userID string) RecipientPolicy {
	return RecipientPolicy{Kind: PolicyAllOfRole, Role: role, Except: userID}
}

// Notification pairs an event with its recipient policy.
type Notification struct {
	Event  *Event          `json:"event"`
	Policy RecipientPolicy `json:"policy"`
}
