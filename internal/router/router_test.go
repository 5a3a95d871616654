package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapyline/internal/presence"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

type recordingChannel struct {
	id      string
	mu      sync.Mutex
	events  []*types.Event
	sendErr error
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{id: uuid.NewString()}
}

func (c *recordingChannel) ID() string   { return c.id }
func (c *recordingChannel) Close() error { return nil }
func (c *recordingChannel) Send(event *types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *recordingChannel) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	registry *presence.Registry
	router   *Router
	channels map[string]*recordingChannel
}

func newFixture(t *testing.T, users map[string]types.Role) *fixture {
	t.Helper()
	registry := presence.NewRegistry(logger.Nop())
	f := &fixture{
		registry: registry,
		router:   NewRouter(registry, logger.Nop()),
		channels: make(map[string]*recordingChannel),
	}
	for userID, role := range users {
		ch := newRecordingChannel()
		require.NoError(t, registry.Register(userID, role, ch))
		f.channels[userID] = ch
	}
	return f
}

func TestRouter_SingleUser(t *testing.T) {
	f := newFixture(t, map[string]types.Role{"c1": types.RoleChild, "t1": types.RoleTherapist})

	report, err := f.router.Deliver(&types.Notification{
		Event:  types.NewEvent(types.EventSessionRequestUpdated, nil),
		Policy: types.SingleUser("c1"),
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Targeted: 1, Delivered: 1}, report)
	assert.Equal(t, []string{types.EventSessionRequestUpdated}, f.channels["c1"].received())
	assert.Empty(t, f.channels["t1"].received())
}

func TestRouter_SingleUserOfflineIsDropped(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.router.Deliver(&types.Notification{
		Event:  types.NewEvent(types.EventSessionRequestUpdated, nil),
		Policy: types.SingleUser("c1"),
	})
	require.NoError(t, err)
	assert.Zero(t, report.Targeted)
}

// FUNCTIONAL DISCOVERY: only therapists connected at fan-out time are reached
func TestRouter_AllOfRole(t *testing.T) {
	f := newFixture(t, map[string]types.Role{
		"t1": types.RoleTherapist,
		"t2": types.RoleTherapist,
		"c1": types.RoleChild,
	})

	report, err := f.router.Deliver(&types.Notification{
		Event:  types.NewEvent(types.EventNewSessionRequest, nil),
		Policy: types.AllOfRole(types.RoleTherapist),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, []string{types.EventNewSessionRequest}, f.channels["t1"].received())
	assert.Equal(t, []string{types.EventNewSessionRequest}, f.channels["t2"].received())
	assert.Empty(t, f.channels["c1"].received())

	// A therapist registering afterwards saw nothing.
	late := newRecordingChannel()
	require.NoError(t, f.registry.Register("t3", types.RoleTherapist, late))
	assert.Empty(t, late.received())
}

func TestRouter_AllOfRoleExcept(t *testing.T) {
	f := newFixture(t, map[string]types.Role{"t1": types.RoleTherapist, "t2": types.RoleTherapist})

	recipients, err := f.router.GetRecipients(types.AllOfRoleExcept(types.RoleTherapist, "t1"))
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "t2", recipients[0].UserID)
}

func TestRouter_FailedSendDoesNotStopFanOut(t *testing.T) {
	f := newFixture(t, map[string]types.Role{"t1": types.RoleTherapist, "t2": types.RoleTherapist})
	f.channels["t1"].sendErr = errors.New("buffer full")

	report, err := f.router.Deliver(&types.Notification{
		Event:  types.NewEvent(types.EventSessionRequestDeleted, nil),
		Policy: types.AllOfRole(types.RoleTherapist),
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Targeted: 2, Delivered: 1, Failed: 1}, report)
	assert.Len(t, f.channels["t2"].received(), 1)
}

func TestRouter_InvalidPolicies(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.router.GetRecipients(types.RecipientPolicy{Kind: types.PolicySingleUser})
	assert.ErrorIs(t, err, ErrMissingRecipient)

	_, err = f.router.GetRecipients(types.RecipientPolicy{Kind: types.PolicyAllOfRole})
	assert.ErrorIs(t, err, ErrMissingRole)

	_, err = f.router.GetRecipients(types.RecipientPolicy{Kind: "broadcast"})
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	_, err = f.router.Deliver(nil)
	assert.ErrorIs(t, err, ErrNilNotification)
}
