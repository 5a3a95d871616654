package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapyline/internal/config"
	"therapyline/internal/presence"
	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// stubDirectory serves users from a map.
type stubDirectory map[string]*types.User

func (d stubDirectory) GetUser(_ context.Context, userID string) (*types.User, error) {
	if u, ok := d[userID]; ok {
		return u, nil
	}
	return nil, interfaces.ErrUserNotFound
}
func (d stubDirectory) ChildrenOf(context.Context, string) ([]string, error)  { return nil, nil }
func (d stubDirectory) GuardiansOf(context.Context, string) ([]string, error) { return nil, nil }
func (d stubDirectory) UpsertUser(context.Context, *types.User) error         { return nil }
func (d stubDirectory) LinkChild(context.Context, string, string) error       { return nil }

var testDirectory = stubDirectory{
	"t1": {ID: "t1", Role: types.RoleTherapist, Name: "Dr One"},
	"c1": {ID: "c1", Role: types.RoleChild, Name: "Sam"},
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:     50 * time.Millisecond,
		ReadTimeout:      500 * time.Millisecond,
		WriteTimeout:     time.Second,
		HandshakeTimeout: 300 * time.Millisecond,
		BufferSize:       16,
	}
}

func newTestHandler(t *testing.T) (*presence.Registry, string) {
	t.Helper()
	registry := presence.NewRegistry(logger.Nop())
	server := httptest.NewServer(NewHandler(registry, testDirectory, testConfig(), logger.Nop()))
	t.Cleanup(server.Close)
	return registry, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func register(t *testing.T, client *websocket.Conn, userID string, role types.Role) map[string]interface{} {
	t.Helper()
	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"type": types.EventRegister,
		"data": map[string]interface{}{"user_id": userID, "role": role},
	}))
	return readEvent(t, client)
}

func TestHandler_RegisterAndDeliver(t *testing.T) {
	registry, url := newTestHandler(t)
	client := dial(t, url)

	reply := register(t, client, "t1", types.RoleTherapist)
	assert.Equal(t, types.EventRegistered, reply["type"])

	entry, ok := registry.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, types.RoleTherapist, entry.Role)

	require.NoError(t, entry.Channel.Send(types.NewEvent(types.EventNewSessionRequest, types.RequestCreatedPayload{RequestID: "r1"})))
	frame := readEvent(t, client)
	assert.Equal(t, types.EventNewSessionRequest, frame["type"])
}

func TestHandler_RejectsRoleMismatch(t *testing.T) {
	registry, url := newTestHandler(t)
	client := dial(t, url)

	reply := register(t, client, "c1", types.RoleTherapist)
	assert.Equal(t, types.EventError, reply["type"])
	assert.Equal(t, "forbidden", reply["data"].(map[string]interface{})["code"])

	_, ok := registry.Lookup("c1")
	assert.False(t, ok)
}

func TestHandler_RejectsUnknownUser(t *testing.T) {
	_, url := newTestHandler(t)
	client := dial(t, url)

	reply := register(t, client, "ghost", types.RoleChild)
	assert.Equal(t, "unauthorized", reply["data"].(map[string]interface{})["code"])
}

func TestHandler_RejectsNonRegisterFirstFrame(t *testing.T) {
	_, url := newTestHandler(t)
	client := dial(t, url)

	require.NoError(t, client.WriteJSON(map[string]interface{}{"type": "hello"}))
	reply := readEvent(t, client)
	assert.Equal(t, types.EventError, reply["type"])
	assert.Equal(t, "invalid_registration", reply["data"].(map[string]interface{})["code"])
}

func TestHandler_HandshakeTimeout(t *testing.T) {
	_, url := newTestHandler(t)
	client := dial(t, url)

	reply := readEvent(t, client)
	assert.Equal(t, "handshake_timeout", reply["data"].(map[string]interface{})["code"])
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	registry, url := newTestHandler(t)
	client := dial(t, url)
	register(t, client, "t1", types.RoleTherapist)

	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		_, ok := registry.Lookup("t1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ReconnectReplacesChannel(t *testing.T) {
	registry, url := newTestHandler(t)

	first := dial(t, url)
	register(t, first, "t1", types.RoleTherapist)
	entry, _ := registry.Lookup("t1")
	firstID := entry.Channel.ID()

	second := dial(t, url)
	register(t, second, "t1", types.RoleTherapist)
	entry, _ = registry.Lookup("t1")
	assert.NotEqual(t, firstID, entry.Channel.ID())

	// Closing the superseded tab leaves the new registration in place.
	require.NoError(t, first.Close())
	time.Sleep(100 * time.Millisecond)
	entry, ok := registry.Lookup("t1")
	require.True(t, ok)
	assert.NotEqual(t, firstID, entry.Channel.ID())
}

func TestHandler_HeartbeatKeepsIdleClient(t *testing.T) {
	registry, url := newTestHandler(t)
	client := dial(t, url)
	register(t, client, "t1", types.RoleTherapist)

	// gorilla answers pings only while the client is reading.
	require.NoError(t, client.SetReadDeadline(time.Time{}))
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(3 * testConfig().ReadTimeout)
	_, ok := registry.Lookup("t1")
	assert.True(t, ok, "pongs should extend the read deadline")
}
