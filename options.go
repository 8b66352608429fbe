package contentcache

import (
	"log/slog"
	"time"

	"github.com/jmgilman/go/contentcache/fetch"
)

// Defaults for engine options.
const (
	DefaultRetryDelay         = fetch.DefaultRetryDelay
	DefaultRecencyCapacity    = fetch.DefaultRecencyCapacity
	DefaultPreloadConcurrency = 4
)

type options struct {
	getter             fetch.Getter
	logger             *slog.Logger
	now                func() time.Time
	retryDelay         time.Duration
	recencyCapacity    int
	contentTypes       []string
	contentTypesSet    bool
	preloadConcurrency int
	scheduler          bool
}

func defaultOptions() *options {
	return &options{
		now:                time.Now,
		retryDelay:         DefaultRetryDelay,
		recencyCapacity:    DefaultRecencyCapacity,
		preloadConcurrency: DefaultPreloadConcurrency,
		scheduler:          true,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithGetter sets the network getter. Defaults to fetch.NewHTTPGetter().
func WithGetter(g fetch.Getter) Option {
	return func(o *options) {
		o.getter = g
	}
}

// WithLogger sets the logger. Without one the engine logs nothing.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the time source used for access records and sweeps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRetryDelay sets the fixed delay between download attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithRecencyCapacity sets how many recent downloads are kept in memory.
func WithRecencyCapacity(n int) Option {
	return func(o *options) {
		o.recencyCapacity = n
	}
}

// WithAcceptedContentTypes replaces the accepted content type prefixes.
// Calling it with no arguments accepts any content type.
func WithAcceptedContentTypes(prefixes ...string) Option {
	return func(o *options) {
		o.contentTypes = prefixes
		o.contentTypesSet = true
	}
}

// WithPreloadConcurrency bounds how many identifiers a preload fetches at
// once.
func WithPreloadConcurrency(n int) Option {
	return func(o *options) {
		o.preloadConcurrency = n
	}
}

// WithoutScheduler disables the background cleanup sweeps. Cleanup and
// ExpireAged can still be called directly.
func WithoutScheduler() Option {
	return func(o *options) {
		o.scheduler = false
	}
}
