package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/contentcache/fetch"
	"github.com/jmgilman/go/contentcache/internal/metrics"
)

// Stats describes the engine's activity and what it currently stores.
type Stats struct {
	// Activity counters since the engine started.
	Activity metrics.Snapshot `json:"activity"`

	// Fetch counters from the download coordinator.
	Fetch fetch.Stats `json:"fetch"`

	Entries        int       `json:"entries"`
	TotalBytes     int64     `json:"total_bytes"`
	MaxBytes       int64     `json:"max_bytes"`
	LastCleanupRun time.Time `json:"last_cleanup_run,omitzero"`
}

// Stats returns activity counters along with the stored entry count, total
// content size and time of the last full sweep.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if err := e.checkOpen(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Activity: e.metrics.Snapshot(),
		Fetch:    e.fetcher.Stats(),
		MaxBytes: e.cfg.MaxCacheSizeBytes,
	}

	contentKeys, err := e.store.ContentKeys(ctx)
	if err != nil {
		return stats, err
	}
	stats.Entries = len(contentKeys)

	if stats.TotalBytes, err = e.store.TotalSize(ctx); err != nil {
		return stats, err
	}

	rec, ok, err := e.store.ReadSchedule(ctx)
	if err != nil {
		return stats, err
	}
	if ok {
		stats.LastCleanupRun = rec.LastCleanupRun
	}
	return stats, nil
}
