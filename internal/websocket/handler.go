package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"therapyline/internal/config"
	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// inboundFrame is a client frame; data is decoded once the type is known.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler upgrades /ws requests into registered delivery channels.
// ARCHITECTURAL DISCOVERY: the socket carries no commands. The only client
// frame with meaning is the register handshake; everything else arrives over
// HTTP, so the read loop exists for heartbeat and disconnect detection.
type Handler struct {
	registry  interfaces.PresenceRegistry
	directory interfaces.Directory
	cfg       config.WebSocketConfig
	upgrader  websocket.Upgrader
	log       *logger.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry interfaces.PresenceRegistry, directory interfaces.Directory, cfg config.WebSocketConfig, log *logger.Logger) *Handler {
	return &Handler{
		registry:  registry,
		directory: directory,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			// FUNCTIONAL DISCOVERY: origin policy belongs to the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.Named("websocket"),
	}
}

// ServeHTTP upgrades the request, waits for the register frame and then
// keeps the channel registered until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}

	wsConn := NewConnection(conn, h.cfg.BufferSize, h.cfg.WriteTimeout)

	user, err := h.handshake(r.Context(), wsConn)
	if err != nil {
		h.reject(wsConn, err)
		return
	}

	if err := h.registry.Register(user.ID, user.Role, wsConn); err != nil {
		h.reject(wsConn, err)
		return
	}

	h.log.Info("Channel registered",
		logger.String("user_id", user.ID),
		logger.String("role", string(user.Role)),
		logger.String("channel_id", wsConn.ID()))

	if err := wsConn.Send(types.NewEvent(types.EventRegistered, types.RegisterPayload{UserID: user.ID, Role: user.Role})); err != nil {
		h.log.Warn("Failed to acknowledge registration", logger.Error(err))
	}

	h.serve(wsConn, user)
}

// handshake reads the first frame and resolves it against the directory.
func (h *Handler) handshake(ctx context.Context, c *Connection) (*types.User, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout)); err != nil {
		return nil, err
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrHandshakeTimeout
		}
		return nil, err
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, ErrInvalidJSON
	}
	if frame.Type != types.EventRegister {
		return nil, ErrNotRegistration
	}

	var payload types.RegisterPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return nil, ErrInvalidJSON
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	user, err := h.directory.GetUser(ctx, payload.UserID)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	if user.Role != payload.Role {
		return nil, ErrRoleMismatch
	}
	return user, nil
}

// reject reports a failed handshake to the client and closes the socket.
// The error frame is written directly since the channel was never registered.
func (h *Handler) reject(c *Connection, err error) {
	h.log.Info("Registration rejected", logger.Error(err))

	code := "invalid_registration"
	switch {
	case errors.Is(err, ErrUnknownUser):
		code = "unauthorized"
	case errors.Is(err, ErrRoleMismatch):
		code = "forbidden"
	case errors.Is(err, ErrHandshakeTimeout):
		code = "handshake_timeout"
	}

	if data, marshalErr := json.Marshal(types.NewEvent(types.EventError, types.ErrorPayload{Code: code, Message: err.Error()})); marshalErr == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		_ = c.conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(h.cfg.WriteTimeout))
	_ = c.Close()
}

// serve runs heartbeat and the read loop, unregistering on exit.
// TECHNICAL DISCOVERY: the read deadline must outlast the ping interval, or a
// healthy idle client is dropped between pings.
func (h *Handler) serve(c *Connection, user *types.User) {
	defer func() {
		if h.registry.Unregister(c) {
			h.log.Info("Channel unregistered",
				logger.String("user_id", user.ID),
				logger.String("channel_id", c.ID()))
		}
		_ = c.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.ping(); err != nil {
					_ = c.Close()
					return
				}
			case <-c.Done():
				return
			}
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket closed unexpectedly",
					logger.String("user_id", user.ID),
					logger.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == types.EventRegister {
			_ = c.Send(types.NewEvent(types.EventError, types.ErrorPayload{
				Code:    "unsupported_frame",
				Message: "the socket only accepts a single register frame",
			}))
			continue
		}
		h.log.Debug("Ignoring client frame",
			logger.String("user_id", user.ID),
			logger.String("type", frame.Type))
	}
}
