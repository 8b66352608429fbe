package contentcache

import (
	"context"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/internal/keys"
	"github.com/jmgilman/go/contentcache/internal/logging"
	"github.com/jmgilman/go/contentcache/store"
)

// Retrieve returns the bytes for identifier, from the store if present and
// from the network otherwise. Downloaded bytes are admitted to the store and
// returned even if admission skips them.
func (e *Engine) Retrieve(ctx context.Context, identifier string) ([]byte, error) {
	if err := checkIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	key := keys.Derive(identifier)
	if data, ok := e.lookup(ctx, key); ok {
		return data, nil
	}

	start := time.Now()
	data, err := e.fetcher.Fetch(ctx, identifier)
	if err != nil {
		e.metrics.RecordFetchFailure()
		e.logger.WithKey(key).LogOperation(ctx, logging.OpRetrieve, time.Since(start), 0, err)
		return nil, errors.WithContext(err, "key", key)
	}
	e.metrics.RecordFetch(int64(len(data)))

	if _, err := e.admit(ctx, key, data); err != nil {
		e.logger.WithKey(key).Warn(ctx, "failed to admit fetched resource", "error", err)
	}
	return data, nil
}

// Get returns the bytes for identifier like Retrieve but never fails: any
// error is logged and reported as ok == false.
func (e *Engine) Get(ctx context.Context, identifier string) ([]byte, bool) {
	data, err := e.Retrieve(ctx, identifier)
	if err != nil {
		e.logger.Warn(ctx, "retrieve failed", "error", err, "code", errors.GetCode(err))
		return nil, false
	}
	return data, true
}

// Cache makes sure identifier is stored. A stored resource only has its
// access record bumped. Otherwise it is downloaded and admitted; a failed
// download yields OutcomeSkipped without an error.
func (e *Engine) Cache(ctx context.Context, identifier string) (Outcome, error) {
	if err := checkIdentifier(identifier); err != nil {
		return OutcomeSkipped, err
	}
	if err := e.checkOpen(); err != nil {
		return OutcomeSkipped, err
	}

	key := keys.Derive(identifier)
	logger := e.logger.WithKey(key)

	present, err := e.store.HasContent(ctx, key)
	if err != nil {
		logger.Warn(ctx, "failed to check store, fetching", "error", err)
	}
	if present {
		if _, err := e.store.Touch(ctx, key, e.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn(ctx, "failed to update access record", "error", err)
		}
		return OutcomeAlreadyCached, nil
	}

	data, err := e.fetcher.Fetch(ctx, identifier)
	if err != nil {
		e.metrics.RecordFetchFailure()
		logger.Info(ctx, "fetch failed, resource not cached", "error", err)
		return OutcomeSkipped, nil
	}
	e.metrics.RecordFetch(int64(len(data)))

	outcome, err := e.admit(ctx, key, data)
	if err != nil {
		logger.Warn(ctx, "failed to admit fetched resource", "error", err)
		return OutcomeSkipped, nil
	}
	return outcome, nil
}

// lookup reads key from the content table and records the access. A corrupt
// entry is removed and reported as a miss.
func (e *Engine) lookup(ctx context.Context, key string) ([]byte, bool) {
	logger := e.logger.WithKey(key)

	data, err := e.store.ReadContent(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		e.metrics.RecordMiss()
		logger.LogMiss(ctx, key, "not stored")
		return nil, false
	case errors.HasCode(err, errors.CodeCorrupted):
		e.metrics.RecordMiss()
		e.metrics.RecordError()
		logger.LogMiss(ctx, key, "corrupted")
		e.writeMu.Lock()
		if rerr := e.store.RemoveEntry(ctx, key); rerr != nil {
			logger.Warn(ctx, "failed to remove corrupted entry", "error", rerr)
		}
		e.writeMu.Unlock()
		return nil, false
	default:
		e.metrics.RecordMiss()
		e.metrics.RecordError()
		logger.Warn(ctx, "failed to read content, fetching", "error", err)
		return nil, false
	}

	// ErrNotFound means the entry was removed after the read.
	if _, err := e.store.Touch(ctx, key, e.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn(ctx, "failed to update access record", "error", err)
	}
	e.metrics.RecordHit(int64(len(data)))
	logger.LogHit(ctx, key, int64(len(data)))
	return data, true
}
