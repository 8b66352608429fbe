package contentcache

import (
	"context"
	"fmt"
	"time"

	"github.com/jmgilman/go/contentcache/internal/keys"
	"github.com/jmgilman/go/contentcache/internal/logging"
)

// Remove deletes identifier from the store and from the recency cache, so the
// next retrieval downloads it again. Removing an absent resource is not an
// error.
func (e *Engine) Remove(ctx context.Context, identifier string) error {
	if err := checkIdentifier(identifier); err != nil {
		return err
	}
	if err := e.checkOpen(); err != nil {
		return err
	}

	err := e.removeKey(ctx, keys.Derive(identifier))
	e.fetcher.Forget(identifier)
	return err
}

// RemoveKey deletes the entry stored under a storage key. Since the
// identifier behind a key is not known, the whole recency cache is dropped.
func (e *Engine) RemoveKey(ctx context.Context, key string) error {
	if err := keys.Validate(key); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if err := e.checkOpen(); err != nil {
		return err
	}

	err := e.removeKey(ctx, key)
	e.fetcher.Reset()
	return err
}

func (e *Engine) removeKey(ctx context.Context, key string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()
	err := e.store.RemoveEntry(ctx, key)
	e.logger.WithKey(key).LogOperation(ctx, logging.OpRemove, time.Since(start), 0, err)
	if err != nil {
		e.metrics.RecordError()
	}
	return err
}

// ClearAll empties every table and the recency cache. A table that cannot be
// cleared is skipped; the failures are returned together.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()
	err := e.store.ClearAll(ctx)
	e.fetcher.Reset()
	e.logger.LogOperation(ctx, logging.OpClear, time.Since(start), 0, err)
	if err != nil {
		e.metrics.RecordError()
	}
	return err
}
