package presence

import (
	"sort"
	"sync"
	"time"

	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// Registry maps connected users to their single current delivery channel.
// ARCHITECTURAL DISCOVERY: presence lives only in process memory and is
// rebuilt from client re-registration after a restart.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*interfaces.PresenceEntry // userID -> entry
	byRole    map[types.Role]map[string]struct{}   // role -> userIDs
	byChannel map[string]string                    // channelID -> userID
	now       func() time.Time
	log       *logger.Logger
}

// NewRegistry creates an empty presence registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		entries:   make(map[string]*interfaces.PresenceEntry),
		byRole:    make(map[types.Role]map[string]struct{}),
		byChannel: make(map[string]string),
		now:       time.Now,
		log:       log.Named("presence"),
	}
}

// Register makes ch the user's delivery channel, replacing any previous one.
// FUNCTIONAL DISCOVERY: the replaced channel is left open. Only the most recent
// tab receives pushes; closing the older one would make tabs evict each other
// on every reconnect.
func (r *Registry) Register(userID string, role types.Role, ch interfaces.Channel) error {
	if ch == nil {
		return ErrNilChannel
	}
	if !types.IsValidUserID(userID) {
		return ErrInvalidUserID
	}
	if !types.IsValidRole(role) {
		return ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, exists := r.entries[userID]; exists {
		r.removeLocked(previous)
		r.log.Debug("Presence replaced",
			logger.String("user_id", userID),
			logger.String("previous_channel", previous.Channel.ID()),
			logger.String("channel", ch.ID()))
	}

	// A channel re-registering under a different user leaves its old identity.
	if otherUser, exists := r.byChannel[ch.ID()]; exists && otherUser != userID {
		r.removeLocked(r.entries[otherUser])
	}

	entry := &interfaces.PresenceEntry{
		UserID:      userID,
		Role:        role,
		Channel:     ch,
		ConnectedAt: r.now().UTC(),
	}
	r.entries[userID] = entry
	if r.byRole[role] == nil {
		r.byRole[role] = make(map[string]struct{})
	}
	r.byRole[role][userID] = struct{}{}
	r.byChannel[ch.ID()] = userID

	return nil
}

// Unregister removes the entry whose channel is ch. It reports false when ch
// is not the current channel of any user, which is the case for a tab that
// was superseded by a newer registration.
func (r *Registry) Unregister(ch interfaces.Channel) bool {
	if ch == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userID, exists := r.byChannel[ch.ID()]
	if !exists {
		return false
	}
	r.removeLocked(r.entries[userID])
	return true
}

// removeLocked drops entry from every index. Caller holds the write lock.
func (r *Registry) removeLocked(entry *interfaces.PresenceEntry) {
	if entry == nil {
		return
	}
	delete(r.entries, entry.UserID)
	delete(r.byChannel, entry.Channel.ID())
	if users, exists := r.byRole[entry.Role]; exists {
		delete(users, entry.UserID)
		if len(users) == 0 {
			delete(r.byRole, entry.Role)
		}
	}
}

// ListByRole returns a snapshot of every connected user with the role,
// ordered by user ID.
func (r *Registry) ListByRole(role types.Role) []interfaces.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.byRole[role]
	entries := make([]interfaces.PresenceEntry, 0, len(users))
	for userID := range users {
		entries = append(entries, *r.entries[userID])
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// Lookup returns the user's current entry.
func (r *Registry) Lookup(userID string) (interfaces.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[userID]
	if !exists {
		return interfaces.PresenceEntry{}, false
	}
	return *entry, true
}

// GetStats returns connection counts for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{"total_connections": len(r.entries)}
	for _, role := range []types.Role{types.RoleChild, types.RoleParent, types.RoleTherapist, types.RoleAdmin} {
		stats[string(role)+"_connections"] = len(r.byRole[role])
	}
	return stats
}

// CloseAll removes every entry and closes its channel, used on shutdown so
// long-lived stream handlers return.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	channels := make([]interfaces.Channel, 0, len(r.entries))
	for _, entry := range r.entries {
		channels = append(channels, entry.Channel)
	}
	r.entries = make(map[string]*interfaces.PresenceEntry)
	r.byRole = make(map[types.Role]map[string]struct{})
	r.byChannel = make(map[string]string)
	r.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			r.log.Debug("Failed to close channel", logger.String("channel_id", ch.ID()), logger.Error(err))
		}
	}
	return len(channels)
}
