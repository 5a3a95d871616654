package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"therapyline/internal/router"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// sinkTimeout bounds one external sink publish.
const sinkTimeout = 5 * time.Second

// Sink receives every dispatched notification after local fan-out, for
// consumers outside this process.
type Sink interface {
	Name() string
	Publish(ctx context.Context, n *types.Notification) error
	Close() error
}

// Hub queues notifications produced by request transitions and dispatches them
// from one goroutine, so the request path never waits on slow recipients.
type Hub struct {
	notifications   chan *types.Notification
	shutdownChannel chan struct{}
	done            chan struct{}

	router *router.Router
	sinks  []Sink
	log    *logger.Logger

	running bool
	stopped bool
	mu      sync.RWMutex

	dispatched atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// NewHub creates a hub with a queue of queueSize notifications.
func NewHub(r *router.Router, queueSize int, log *logger.Logger, sinks ...Sink) *Hub {
	return &Hub{
		notifications:   make(chan *types.Notification, queueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		router:          r,
		sinks:           sinks,
		log:             log.Named("hub"),
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	if h.stopped {
		return ErrHubStopped
	}
	h.running = true

	h.log.Info("Starting notification hub",
		logger.Int("queue_size", cap(h.notifications)),
		logger.Int("sinks", len(h.sinks)))

	go h.run(ctx)
	return nil
}

// Stop drains queued notifications, stops the loop and closes the sinks.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.stopped = true
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done

	for _, sink := range h.sinks {
		if err := sink.Close(); err != nil {
			h.log.Warn("Failed to close event sink", logger.String("sink", sink.Name()), logger.Error(err))
		}
	}

	h.log.Info("Notification hub stopped",
		logger.Any("stats", h.GetStats()))
	return nil
}

// Notify queues notifications without blocking. When the hub is not running
// or the queue is full the notification is dropped; clients recover through
// their refresh reads.
func (h *Hub) Notify(notifications ...*types.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, n := range notifications {
		if n == nil {
			continue
		}
		if !h.running {
			h.drop(n, "hub not running")
			continue
		}
		select {
		case h.notifications <- n:
		default:
			h.drop(n, "queue full")
		}
	}
}

func (h *Hub) drop(n *types.Notification, reason string) {
	h.dropped.Add(1)
	h.log.Warn("Dropping notification",
		logger.String("event", n.Event.Type),
		logger.String("reason", reason))
}

// run is the single dispatch loop.
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case n := <-h.notifications:
			h.dispatch(ctx, n)

		case <-h.shutdownChannel:
			h.drain(ctx)
			return

		case <-ctx.Done():
			h.log.Info("Hub context cancelled")
			return
		}
	}
}

// drain dispatches whatever was queued before shutdown.
func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case n := <-h.notifications:
			h.dispatch(ctx, n)
		default:
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, n *types.Notification) {
	if _, err := h.router.Deliver(n); err != nil {
		h.failed.Add(1)
		h.log.Error("Notification fan-out failed",
			logger.String("event", n.Event.Type),
			logger.Error(err))
	} else {
		h.dispatched.Add(1)
	}

	for _, sink := range h.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Publish(sinkCtx, n)
		cancel()
		if err != nil {
			h.log.Warn("Event sink publish failed",
				logger.String("sink", sink.Name()),
				logger.String("event", n.Event.Type),
				logger.Error(err))
		}
	}
}

// IsRunning reports whether Notify currently accepts notifications.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// GetStats returns dispatch counters.
func (h *Hub) GetStats() map[string]int64 {
	return map[string]int64{
		"dispatched": h.dispatched.Load(),
		"dropped":    h.dropped.Load(),
		"failed":     h.failed.Load(),
		"queued":     int64(len(h.notifications)),
	}
}
