package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/contentcache/internal/logging"
)

// startScheduler starts the two background sweeps: the full cleanup, resumed
// from the persisted schedule, and the max-age sweep, ticking every MaxAge
// from now.
func (e *Engine) startScheduler(ctx context.Context) {
	first := e.firstCleanupDelay(ctx)

	e.bg.Add(2)
	go e.runCleanupLoop(first)
	go e.runExpiryLoop()
}

// firstCleanupDelay returns how long to wait before the first full sweep:
// until LastCleanupRun + CleanupPeriod, or zero if that has passed or no
// sweep was ever recorded.
func (e *Engine) firstCleanupDelay(ctx context.Context) time.Duration {
	rec, ok, err := e.store.ReadSchedule(ctx)
	if err != nil {
		e.logger.Warn(ctx, "failed to read cleanup schedule, sweeping now", "error", err)
		return 0
	}
	if !ok {
		return 0
	}

	delay := rec.LastCleanupRun.Add(e.cfg.CleanupPeriod).Sub(e.now())
	if delay < 0 {
		return 0
	}
	return delay
}

func (e *Engine) runCleanupLoop(first time.Duration) {
	defer e.bg.Done()

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-e.lifetime.Done():
			return
		case <-timer.C:
			// Errors are logged and counted by the sweep itself.
			_, _ = e.sweep(e.lifetime, logging.OpCleanup, e.staleForCleanup, true)
			timer.Reset(e.cfg.CleanupPeriod)
		}
	}
}

func (e *Engine) runExpiryLoop() {
	defer e.bg.Done()

	ticker := time.NewTicker(e.cfg.MaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-e.lifetime.Done():
			return
		case <-ticker.C:
			_, _ = e.sweep(e.lifetime, logging.OpExpire, e.expired, false)
		}
	}
}
