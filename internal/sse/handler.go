package sse

import (
	"net/http"
	"time"

	"therapyline/internal/identity"
	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// Handler streams push events to the caller resolved by the identity
// middleware. It is the HTTP-only alternative to the WebSocket channel.
type Handler struct {
	registry     interfaces.PresenceRegistry
	bufferSize   int
	keepAlive    time.Duration
	writeTimeout time.Duration
	log          *logger.Logger
}

// NewHandler creates an SSE handler. keepAlive is the comment heartbeat
// interval that stops proxies from closing an idle stream.
func NewHandler(registry interfaces.PresenceRegistry, bufferSize int, keepAlive, writeTimeout time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		registry:     registry,
		bufferSize:   bufferSize,
		keepAlive:    keepAlive,
		writeTimeout: writeTimeout,
		log:          log.Named("sse"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.UserFromContext(r.Context())
	if !ok {
		http.Error(w, identity.ErrMissingCaller.Error(), http.StatusUnauthorized)
		return
	}

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := NewStream(h.bufferSize)
	if err := h.registry.Register(user.ID, user.Role, stream); err != nil {
		h.log.Warn("SSE registration failed", logger.String("user_id", user.ID), logger.Error(err))
		return
	}
	defer func() {
		h.registry.Unregister(stream)
		_ = stream.Close()
		h.log.Debug("SSE client disconnected",
			logger.String("user_id", user.ID),
			logger.String("channel_id", stream.ID()))
	}()

	h.log.Debug("SSE client connected",
		logger.String("user_id", user.ID),
		logger.String("channel_id", stream.ID()))

	_ = stream.Send(types.NewEvent(types.EventRegistered, types.RegisterPayload{UserID: user.ID, Role: user.Role}))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame := <-stream.frames:
			if err := h.write(rc, w, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.write(rc, w, []byte(": keep-alive\n\n")); err != nil {
				return
			}
		case <-stream.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

// write sends one frame with a deadline so a stalled client cannot pin the
// handler goroutine.
func (h *Handler) write(rc *http.ResponseController, w http.ResponseWriter, frame []byte) error {
	if h.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines; the write still proceeds.
		_ = rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	if _, err := w.Write(frame); err != nil {
		h.log.Debug("SSE write failed", logger.Error(err))
		return err
	}
	return rc.Flush()
}
