package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/internal/keys"
	"github.com/jmgilman/go/contentcache/internal/logging"
)

// Outcome is the result of an admission.
type Outcome int

const (
	// OutcomeAdmitted means the bytes were written to the store.
	OutcomeAdmitted Outcome = iota
	// OutcomeAlreadyCached means the resource was already stored.
	OutcomeAlreadyCached
	// OutcomeSkipped means nothing was stored, because the resource was too
	// large or could not be obtained.
	OutcomeSkipped
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeAlreadyCached:
		return "already_cached"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Admit stores data for identifier if it is not stored already. If storing it
// would exceed MaxCacheSizeBytes, the least valuable entries are evicted
// first. When the evictable entries cannot free enough space the data is
// written anyway and the cache stays over its limit until the next eviction.
func (e *Engine) Admit(ctx context.Context, identifier string, data []byte) (Outcome, error) {
	if err := checkIdentifier(identifier); err != nil {
		return OutcomeSkipped, err
	}
	if err := e.checkOpen(); err != nil {
		return OutcomeSkipped, err
	}
	return e.admit(ctx, keys.Derive(identifier), data)
}

func (e *Engine) admit(ctx context.Context, key string, data []byte) (Outcome, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	logger := e.logger.WithKey(key)
	start := time.Now()

	present, err := e.store.HasContent(ctx, key)
	if err != nil {
		e.metrics.RecordError()
		return OutcomeSkipped, err
	}
	if present {
		return OutcomeAlreadyCached, nil
	}

	size := int64(len(data))
	if size > e.cfg.MaxFileSizeBytes {
		e.metrics.RecordSkip()
		logger.Info(ctx, "resource exceeds max file size, not cached",
			"size", size, "max_file_size_bytes", e.cfg.MaxFileSizeBytes)
		return OutcomeSkipped, nil
	}

	total, err := e.store.TotalSize(ctx)
	if err != nil {
		e.metrics.RecordError()
		return OutcomeSkipped, err
	}
	if total+size > e.cfg.MaxCacheSizeBytes {
		if err := e.makeRoom(ctx, total+size-e.cfg.MaxCacheSizeBytes); err != nil {
			e.metrics.RecordError()
			return OutcomeSkipped, err
		}
	}

	if err := e.store.WriteEntry(ctx, key, data, e.now()); err != nil {
		e.metrics.RecordError()
		logger.LogOperation(ctx, logging.OpAdmit, time.Since(start), size, err)
		return OutcomeSkipped, err
	}

	e.metrics.RecordAdmission()
	logger.LogOperation(ctx, logging.OpAdmit, time.Since(start), size, nil)
	return OutcomeAdmitted, nil
}

// makeRoom evicts the least valuable entries until bytesToFree bytes are
// released or no candidates remain. Must be called with writeMu held.
func (e *Engine) makeRoom(ctx context.Context, bytesToFree int64) error {
	planned, err := e.planner.Plan(ctx, bytesToFree)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to plan eviction")
	}

	logger := e.logger.WithOperation(logging.OpEvict)

	var freed int64
	for _, key := range planned {
		size, err := e.store.ContentSize(ctx, key)
		if err != nil {
			size = 0
		}
		if err := e.store.RemoveEntry(ctx, key); err != nil {
			logger.WithKey(key).Warn(ctx, "failed to evict entry", "error", err)
			continue
		}
		freed += size
		e.metrics.RecordEviction(size)
		logger.LogEviction(ctx, key, size, "capacity")
	}

	if freed < bytesToFree {
		logger.Warn(ctx, "could not free enough space, cache will exceed its limit",
			"bytes_to_free", bytesToFree, "freed", freed)
	}
	return nil
}
