package contentcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/fetch"
	"github.com/jmgilman/go/contentcache/internal/eviction"
	"github.com/jmgilman/go/contentcache/internal/logging"
	"github.com/jmgilman/go/contentcache/internal/metrics"
	"github.com/jmgilman/go/contentcache/store"
)

// Engine is a content cache over three durable tables. It is safe for
// concurrent use.
type Engine struct {
	cfg     Config
	store   *store.Store
	fetcher *fetch.Coordinator
	planner *eviction.Planner
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	preloadConcurrency int

	// writeMu serializes admission, removal and sweeps so the capacity check
	// and the writes it guards see a consistent table.
	writeMu sync.Mutex

	// mu orders Close against the start of background preloads.
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// lifetime is canceled by Close to stop sweeps and background preloads.
	lifetime context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup
	preloads sync.WaitGroup
}

// New opens the tables and returns a ready Engine. Unless WithoutScheduler is
// given, background cleanup sweeps start immediately and run until Close.
func New(ctx context.Context, cfg Config, content, access, schedule store.Table, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.preloadConcurrency < 1 {
		return nil, fmt.Errorf("%w: preload concurrency must be at least 1, got %d", ErrInvalidConfig, o.preloadConcurrency)
	}

	s, err := store.New(content, access, schedule)
	if err != nil {
		return nil, err
	}

	logger := logging.NewNop()
	if o.logger != nil {
		logger = logging.New(o.logger.With("component", "contentcache"))
	}

	getter := o.getter
	if getter == nil {
		getter = fetch.NewHTTPGetter()
	}
	fetchOpts := []fetch.Option{
		fetch.WithRetryDelay(o.retryDelay),
		fetch.WithRecencyCapacity(o.recencyCapacity),
	}
	if o.logger != nil {
		fetchOpts = append(fetchOpts, fetch.WithLogger(o.logger.With("component", "fetch")))
	}
	if o.contentTypesSet {
		fetchOpts = append(fetchOpts, fetch.WithAcceptedContentTypes(o.contentTypes...))
	}
	fetcher, err := fetch.New(getter, cfg.MaxRetries, fetchOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := s.Open(ctx); err != nil {
		fetcher.Close()
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to open tables")
	}

	e := &Engine{
		cfg:                cfg,
		store:              s,
		fetcher:            fetcher,
		logger:             logger,
		metrics:            metrics.New(),
		now:                o.now,
		preloadConcurrency: o.preloadConcurrency,
	}
	e.planner = eviction.NewPlanner(storeSource{s: s}, e.now)
	e.lifetime, e.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if o.scheduler {
		e.startScheduler(ctx)
	}

	logger.Info(ctx, "content cache ready",
		"cleanup_period", cfg.CleanupPeriod,
		"max_age", cfg.MaxAge,
		"max_file_size_bytes", cfg.MaxFileSizeBytes,
		"max_cache_size_bytes", cfg.MaxCacheSizeBytes,
		"max_retries", cfg.MaxRetries,
		"scheduler", o.scheduler,
	)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close stops the background sweeps, aborts running downloads, waits for
// background preloads and closes the tables. It is safe to call more than
// once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed.Store(true)
		e.mu.Unlock()

		e.cancel()
		e.fetcher.Close()
		e.bg.Wait()
		e.preloads.Wait()
		e.closeErr = e.store.Close()
	})
	return e.closeErr
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

func checkIdentifier(identifier string) error {
	if identifier == "" {
		return ErrInvalidIdentifier
	}
	return nil
}

// storeSource lists eviction candidates from the store. Keys without a
// readable access record or size are left to cleanup.
type storeSource struct {
	s *store.Store
}

func (src storeSource) Candidates(ctx context.Context) ([]eviction.Candidate, error) {
	contentKeys, err := src.s.ContentKeys(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]eviction.Candidate, 0, len(contentKeys))
	for _, key := range contentKeys {
		rec, err := src.s.ReadAccess(ctx, key)
		if err != nil {
			continue
		}
		size, err := src.s.ContentSize(ctx, key)
		if err != nil {
			continue
		}
		candidates = append(candidates, eviction.Candidate{
			Key:          key,
			AccessCount:  rec.AccessCount,
			LastAccessed: rec.LastAccessed,
			Size:         size,
		})
	}
	return candidates, nil
}
