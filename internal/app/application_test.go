package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapyline/internal/config"
	"therapyline/internal/identity"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

const seedYAML = `users:
  - id: child1
    role: child
    name: Sam
  - id: parent1
    role: parent
    name: Pat
    children: [child1]
  - id: therapist1
    role: therapist
    name: Dr One
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o600))

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "app.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Directory.SeedFile = seed
	return cfg
}

func TestApplication_Lifecycle(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, testConfig(t), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))

	base := "http://" + app.Addr()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Seeded users resolve, and the parent acts for the linked child.
	req, err := http.NewRequest(http.MethodPost, base+"/api/session-requests", nil)
	require.NoError(t, err)
	req.Header.Set(identity.HeaderUserID, "parent1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var created types.SessionRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "child1", created.ChildID)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(stopCtx))
	assert.NoError(t, app.Wait())
}

func TestApplication_StopClosesChannels(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, testConfig(t), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))

	client, _, err := websocket.DefaultDialer.Dial("ws://"+app.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"type": types.EventRegister,
		"data": map[string]interface{}{"user_id": "therapist1", "role": "therapist"},
	}))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), types.EventRegistered))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(stopCtx))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	assert.Error(t, err, "shutdown closes registered sockets")
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApplication(ctx, testConfig(t), logger.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, 5*time.Second) }()

	select {
	case <-app.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("application did not start")
	}
	resp, err := http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Events.QueueSize = 0
	_, err := NewApplication(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewApplication_MissingSeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directory.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewApplication(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
