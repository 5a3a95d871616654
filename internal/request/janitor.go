package request

import (
	"context"
	"time"

	"therapyline/pkg/logger"
)

// Janitor periodically expires pending requests older than a TTL.
type Janitor struct {
	engine   *Engine
	ttl      time.Duration
	interval time.Duration
	log      *logger.Logger
}

// NewJanitor creates a janitor. A zero ttl disables it.
func NewJanitor(engine *Engine, ttl, interval time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{
		engine:   engine,
		ttl:      ttl,
		interval: interval,
		log:      log.Named("janitor"),
	}
}

// Enabled reports whether pending requests expire at all.
func (j *Janitor) Enabled() bool {
	return j.ttl > 0 && j.interval > 0
}

// Run sweeps every interval until ctx is cancelled. Sweep failures are logged
// and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) error {
	if !j.Enabled() {
		j.log.Debug("Pending request expiry disabled")
		return nil
	}

	j.log.Info("Pending request expiry enabled",
		logger.Duration("ttl", j.ttl),
		logger.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs one expiry pass and returns the number of expired requests.
func (j *Janitor) Sweep(ctx context.Context) int {
	expired, err := j.engine.ExpirePending(ctx, j.ttl)
	if err != nil {
		j.log.Error("Pending request sweep failed", logger.Error(err))
	}
	if expired > 0 {
		j.log.Info("Expired stale pending requests", logger.Int("count", expired))
	}
	return expired
}
