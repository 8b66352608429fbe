// Package fetch downloads resources with deduplication and bounded retry.
//
// A Coordinator sits between the cache engine and a Getter. Concurrent
// requests for the same identifier share one download; a download is retried
// with a fixed delay on transport errors and malformed responses, but not
// when the server answers with a non-success status. Recently downloaded
// bytes are kept in a small LRU so a follow-up request does not hit the
// network again.
package fetch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/internal/logging"
	"github.com/jmgilman/go/contentcache/internal/lru"
)

// Defaults for Coordinator options.
const (
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultRecencyCapacity = 64
)

// DefaultContentTypes are the content type prefixes accepted by default.
var DefaultContentTypes = []string{"image/", "application/pdf"}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryDelay sets the fixed delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.delay = d
	}
}

// WithRecencyCapacity sets how many downloads are kept in memory.
func WithRecencyCapacity(n int) Option {
	return func(c *Coordinator) {
		c.capacity = n
	}
}

// WithAcceptedContentTypes replaces the accepted content type prefixes.
// An empty list accepts any content type.
func WithAcceptedContentTypes(prefixes ...string) Option {
	return func(c *Coordinator) {
		c.accepted = make([]string, 0, len(prefixes))
		for _, p := range prefixes {
			c.accepted = append(c.accepted, strings.ToLower(strings.TrimSpace(p)))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logging.New(l)
	}
}

// Stats counts coordinator activity.
type Stats struct {
	// Fetches is the number of download sequences started.
	Fetches int64 `json:"fetches"`
	// Attempts is the number of individual requests made.
	Attempts int64 `json:"attempts"`
	// Failures is the number of download sequences that produced no bytes.
	Failures int64 `json:"failures"`
	// Shared is the number of callers served by another caller's download.
	Shared int64 `json:"shared"`
	// RecentHits is the number of requests served from the recency cache.
	RecentHits int64 `json:"recent_hits"`
}

// Coordinator deduplicates and retries downloads. It is safe for concurrent
// use.
type Coordinator struct {
	getter      Getter
	maxAttempts int
	delay       time.Duration
	capacity    int
	accepted    []string
	logger      *logging.Logger

	recent *lru.Cache[string, []byte]
	group  singleflight.Group

	mu       sync.Mutex
	inFlight map[string]struct{}

	fetches, attempts, failures, shared, recentHits atomic.Int64

	// ctx bounds every download; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Coordinator that makes at most maxAttempts requests per
// download.
func New(getter Getter, maxAttempts int, opts ...Option) (*Coordinator, error) {
	if getter == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "getter is required")
	}
	if maxAttempts < 1 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "max attempts must be at least 1, got %d", maxAttempts)
	}

	c := &Coordinator{
		getter:      getter,
		maxAttempts: maxAttempts,
		delay:       DefaultRetryDelay,
		capacity:    DefaultRecencyCapacity,
		accepted:    DefaultContentTypes,
		logger:      logging.NewNop(),
		inFlight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.delay < 0 {
		return nil, errors.New(errors.CodeInvalidConfig, "retry delay must not be negative")
	}
	if c.capacity < 1 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "recency capacity must be at least 1, got %d", c.capacity)
	}

	c.recent = lru.New[string, []byte](c.capacity)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Fetch returns the bytes for identifier. A recently downloaded identifier is
// served from memory. If a download for identifier is already running, Fetch
// waits for it and returns its result instead of starting another one.
//
// The download itself is not bound to ctx, so a caller giving up does not
// abort it for other waiters; ctx only bounds how long this caller waits.
func (c *Coordinator) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	if identifier == "" {
		return nil, errors.New(errors.CodeInvalidInput, "identifier is required")
	}
	if data, ok := c.recent.Get(identifier); ok {
		c.recentHits.Add(1)
		return data, nil
	}

	ch := c.group.DoChan(identifier, func() (any, error) {
		return c.download(ctx, identifier)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CodeTimeout, "gave up waiting for download")
	}
}

func (c *Coordinator) download(callerCtx context.Context, identifier string) ([]byte, error) {
	c.markInFlight(identifier)
	defer c.clearInFlight(identifier)

	// A download that finished just before this one was scheduled.
	if data, ok := c.recent.Get(identifier); ok {
		c.recentHits.Add(1)
		return data, nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(callerCtx))
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.fetches.Add(1)
	logger := c.logger.With("identifier", identifier)
	start := time.Now()

	attempt := 0
	data, err := backoff.Retry(ctx,
		func() ([]byte, error) {
			attempt++
			c.attempts.Add(1)
			return c.attempt(ctx, identifier)
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.delay)),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug(ctx, "fetch attempt failed, retrying",
				"attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		c.failures.Add(1)
		if errors.IsRetryable(err) {
			err = errors.Wrapf(err, errors.CodeNetwork, "fetch failed after %d attempts", attempt)
		}
		err = errors.WithContext(err, "attempts", attempt)
		logger.LogOperation(ctx, logging.OpFetch, time.Since(start), 0, err)
		return nil, err
	}

	logger.LogOperation(ctx, logging.OpFetch, time.Since(start), int64(len(data)), nil)
	c.recent.Put(identifier, data)
	return data, nil
}

// attempt makes one request. Transport errors and malformed success
// responses are retryable; a non-success status is permanent.
func (c *Coordinator) attempt(ctx context.Context, identifier string) ([]byte, error) {
	resp, err := c.getter.Get(ctx, identifier)
	if err != nil {
		var ce errors.Error
		if errors.As(err, &ce) && !ce.Classification().IsRetryable() {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(errors.Wrap(err, errors.CodeTimeout, "download canceled"))
		}
		return nil, errors.Wrap(err, errors.CodeNetwork, "request failed")
	}
	if resp == nil {
		return nil, errors.New(errors.CodeNetwork, "empty response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backoff.Permanent(errors.WithContext(
			errors.Newf(errors.CodeRejected, "server responded with status %d", resp.StatusCode),
			"status", resp.StatusCode))
	}
	if !c.acceptable(resp.ContentType) {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeUnsupportedContent, "unexpected content type %q", resp.ContentType),
			"content_type", resp.ContentType)
	}

	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

func (c *Coordinator) acceptable(contentType string) bool {
	if len(c.accepted) == 0 {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return false
	}
	for _, prefix := range c.accepted {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (c *Coordinator) markInFlight(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[identifier] = struct{}{}
}

func (c *Coordinator) clearInFlight(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, identifier)
}

// InFlight reports whether a download for identifier is running.
func (c *Coordinator) InFlight(identifier string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[identifier]
	return ok
}

// Forget drops identifier from the recency cache.
func (c *Coordinator) Forget(identifier string) {
	c.recent.Remove(identifier)
}

// Reset empties the recency cache.
func (c *Coordinator) Reset() {
	c.recent.Clear()
}

// Stats returns activity counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Fetches:    c.fetches.Load(),
		Attempts:   c.attempts.Load(),
		Failures:   c.failures.Load(),
		Shared:     c.shared.Load(),
		RecentHits: c.recentHits.Load(),
	}
}

// Close aborts running downloads. Fetch must not be called afterwards.
func (c *Coordinator) Close() {
	c.cancel()
}
