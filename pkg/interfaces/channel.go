package interfaces

import (
	"time"

	"therapyline/pkg/types"
)

// Channel is a push delivery channel held by one connected client.
// Implementations must be safe for concurrent Send calls.
type Channel interface {
	// ID identifies the channel instance, unique per connection.
	ID() string

	// Send queues an event for delivery without waiting for the client.
	Send(event *types.Event) error

	// Close releases the underlying transport.
	Close() error
}

// PresenceEntry is the ephemeral record of one connected user.
type PresenceEntry struct {
	UserID      string
	Role        types.Role
	Channel     Channel
	ConnectedAt time.Time
}

// PresenceRegistry tracks which users are connected and through which channel.
type PresenceRegistry interface {
	Register(userID string, role types.Role, ch Channel) error
	Unregister(ch Channel) bool
	ListByRole(role types.Role) []PresenceEntry
	Lookup(userID string) (PresenceEntry, bool)
}

// Notifier accepts notifications produced by request state changes.
// Delivery is best effort and Notify never blocks on recipients.
type Notifier interface {
	Notify(notifications ...*types.Notification)
}
