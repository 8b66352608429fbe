package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/internal/logging"
	"github.com/jmgilman/go/contentcache/store"
)

// Cleanup runs a full sweep. It removes entries whose content is corrupted or
// whose access record is missing or unreadable, entries not accessed within CleanupPeriod, entries
// at least MaxAge old and access records without content. It then records
// the time of the sweep. It returns the number of entries removed.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.sweep(ctx, logging.OpCleanup, e.staleForCleanup, true)
}

// ExpireAged removes entries at least MaxAge old and returns how many were
// removed. Unlike Cleanup it leaves unreadable records and the schedule
// alone.
func (e *Engine) ExpireAged(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.sweep(ctx, logging.OpExpire, e.expired, false)
}

// staleForCleanup reports whether the periodic sweep removes an entry.
func (e *Engine) staleForCleanup(rec store.AccessRecord, err error, now time.Time) bool {
	if err != nil {
		return true
	}
	age := rec.Age(now)
	return age > e.cfg.CleanupPeriod || age >= e.cfg.MaxAge
}

// expired reports whether the max-age sweep removes an entry.
func (e *Engine) expired(rec store.AccessRecord, err error, now time.Time) bool {
	if err != nil {
		return false
	}
	return rec.Age(now) >= e.cfg.MaxAge
}

type stalePredicate func(rec store.AccessRecord, readErr error, now time.Time) bool

func (e *Engine) sweep(ctx context.Context, op logging.Operation, stale stalePredicate, full bool) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()
	now := e.now()
	logger := e.logger.WithOperation(op)

	contentKeys, err := e.store.ContentKeys(ctx)
	if err != nil {
		e.metrics.RecordError()
		return 0, err
	}

	removed := 0
	var errs []error
	for _, key := range contentKeys {
		if full && e.corruptedContent(ctx, key) {
			if err := e.store.RemoveEntry(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
			logger.LogEviction(ctx, key, 0, "corrupted")
			continue
		}

		rec, readErr := e.store.ReadAccess(ctx, key)
		switch {
		case readErr == nil, errors.Is(readErr, store.ErrNotFound):
		case errors.HasCode(readErr, errors.CodeCorrupted):
			logger.WithKey(key).Warn(ctx, "unreadable access record", "error", readErr)
		default:
			// The record may be fine; leave the entry for the next sweep.
			errs = append(errs, readErr)
			continue
		}
		if !stale(rec, readErr, now) {
			continue
		}
		if err := e.store.RemoveEntry(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		logger.LogEviction(ctx, key, 0, string(op))
	}

	if full {
		orphans, err := e.removeOrphanAccess(ctx, contentKeys)
		if err != nil {
			errs = append(errs, err)
		}
		if orphans > 0 {
			logger.Debug(ctx, "removed orphan access records", "count", orphans)
		}
		if err := e.store.WriteSchedule(ctx, store.ScheduleRecord{LastCleanupRun: now}); err != nil {
			errs = append(errs, err)
		}
	}

	e.metrics.RecordCleanup(removed)
	logger.LogCleanup(ctx, op, removed, time.Since(start))

	err = errors.Join(errs...)
	if err != nil {
		e.metrics.RecordError()
		logger.Warn(ctx, "sweep finished with errors", "error", err)
	}
	return removed, err
}

// corruptedContent reports whether key's stored content cannot be measured.
func (e *Engine) corruptedContent(ctx context.Context, key string) bool {
	_, err := e.store.ContentSize(ctx, key)
	if errors.HasCode(err, errors.CodeCorrupted) {
		e.logger.WithKey(key).Warn(ctx, "corrupted content", "error", err)
		return true
	}
	return false
}

// removeOrphanAccess deletes access records whose key has no content.
func (e *Engine) removeOrphanAccess(ctx context.Context, contentKeys []string) (int, error) {
	accessKeys, err := e.store.AccessKeys(ctx)
	if err != nil {
		return 0, err
	}

	present := make(map[string]struct{}, len(contentKeys))
	for _, key := range contentKeys {
		present[key] = struct{}{}
	}

	removed := 0
	var errs []error
	for _, key := range accessKeys {
		if _, ok := present[key]; ok {
			continue
		}
		if err := e.store.RemoveAccess(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
