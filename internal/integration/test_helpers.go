package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"therapyline/internal/app"
	"therapyline/internal/config"
	"therapyline/internal/identity"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

const seedYAML = `users:
  - id: childA
    role: child
    name: Avery
    disability_type: autism
  - id: childB
    role: child
    name: Blake
  - id: parentA
    role: parent
    name: Pat
    children: [childA]
  - id: T1
    role: therapist
    name: Dr One
  - id: T2
    role: therapist
    name: Dr Two
  - id: T3
    role: therapist
    name: Dr Three
`

// eventWait bounds how long a test waits for a push.
const eventWait = 2 * time.Second

// Harness runs the full application on a loopback port.
type Harness struct {
	t    *testing.T
	app  *app.Application
	base string
}

// NewHarness starts the application with a fresh database and seeded
// directory. It is stopped on test cleanup.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o600))

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "integration.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Directory.SeedFile = seed
	cfg.Requests.RateLimitPerMinute = 10000

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	return &Harness{t: t, app: application, base: application.Addr()}
}

// Call performs an API request as userID and returns status and body.
func (h *Harness) Call(method, path, userID string, body interface{}) (int, []byte) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, "http://"+h.base+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set(identity.HeaderUserID, userID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, data
}

// Create opens a request as userID and fails the test unless it succeeds.
func (h *Harness) Create(userID string) *types.SessionRequest {
	h.t.Helper()
	status, body := h.Call(http.MethodPost, "/api/session-requests", userID, map[string]string{"description": "need to talk"})
	require.Equal(h.t, http.StatusCreated, status, string(body))
	var req types.SessionRequest
	require.NoError(h.t, json.Unmarshal(body, &req))
	return &req
}

// Transition calls PUT /api/session-requests/{id}/{action}.
func (h *Harness) Transition(requestID, action, therapistID string) (int, *types.SessionRequest, string) {
	h.t.Helper()
	status, body := h.Call(http.MethodPut, "/api/session-requests/"+requestID+"/"+action, therapistID, nil)
	if status != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errBody)
		return status, nil, errBody.Error
	}
	var req types.SessionRequest
	require.NoError(h.t, json.Unmarshal(body, &req))
	return status, &req, ""
}

// ListActive returns GET /api/session-requests as a therapist.
func (h *Harness) ListActive(therapistID string) []types.SessionRequest {
	h.t.Helper()
	status, body := h.Call(http.MethodGet, "/api/session-requests", therapistID, nil)
	require.Equal(h.t, http.StatusOK, status, string(body))
	var list []types.SessionRequest
	require.NoError(h.t, json.Unmarshal(body, &list))
	return list
}

// Frame is a received push event with its data left generic.
type Frame struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Client is a registered WebSocket client collecting pushes.
type Client struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan Frame
}

// Connect opens /ws and completes the register handshake.
func (h *Harness) Connect(userID string, role types.Role) *Client {
	h.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+h.base+"/ws", nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })

	require.NoError(h.t, conn.WriteJSON(map[string]interface{}{
		"type": types.EventRegister,
		"data": types.RegisterPayload{UserID: userID, Role: role},
	}))

	c := &Client{t: h.t, conn: conn, frames: make(chan Frame, 64)}
	go c.read()

	registered := c.Expect(types.EventRegistered)
	require.Equal(h.t, userID, registered.Data["user_id"])
	return c
}

func (c *Client) read() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if json.Unmarshal(data, &f) == nil {
			c.frames <- f
		}
	}
}

// Expect returns the next frame, which must have eventType.
func (c *Client) Expect(eventType string) Frame {
	c.t.Helper()
	select {
	case f, ok := <-c.frames:
		require.True(c.t, ok, "connection closed while waiting for %s", eventType)
		require.Equal(c.t, eventType, f.Type, "unexpected frame %+v", f)
		return f
	case <-time.After(eventWait):
		c.t.Fatalf("timed out waiting for %s", eventType)
		return Frame{}
	}
}

// ExpectNothing fails if any frame arrives within d.
func (c *Client) ExpectNothing(d time.Duration) {
	c.t.Helper()
	select {
	case f, ok := <-c.frames:
		if ok {
			c.t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(d):
	}
}
