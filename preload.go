package contentcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/internal/logging"
)

// PreloadReport lists what a preload did with each identifier.
type PreloadReport struct {
	Admitted      []string `json:"admitted"`
	AlreadyCached []string `json:"already_cached"`
	Skipped       []string `json:"skipped"`
}

// Total returns the number of identifiers in the report.
func (r PreloadReport) Total() int {
	return len(r.Admitted) + len(r.AlreadyCached) + len(r.Skipped)
}

// Preload caches identifiers in the background and returns immediately.
// Each identifier is handled on its own; one failing does not affect the
// others. Close waits for running preloads.
func (e *Engine) Preload(ctx context.Context, identifiers ...string) {
	e.mu.RLock()
	if e.closed.Load() {
		e.mu.RUnlock()
		return
	}
	e.preloads.Add(1)
	e.mu.RUnlock()

	// Detach from the caller but stop when the engine closes.
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.lifetime, cancel)

	go func() {
		defer e.preloads.Done()
		defer cancel()
		defer stop()

		report, err := e.PreloadWait(pctx, identifiers...)
		if err != nil {
			e.logger.Warn(pctx, "preload finished with errors", "error", err)
		}
		e.logger.Debug(pctx, "preload finished",
			"admitted", len(report.Admitted),
			"already_cached", len(report.AlreadyCached),
			"skipped", len(report.Skipped))
	}()
}

// PreloadWait caches identifiers and waits for all of them. Downloads run
// concurrently, bounded by the preload concurrency. The returned error joins
// the errors of identifiers that could not be processed at all, such as empty
// identifiers; download failures only show up as skipped.
func (e *Engine) PreloadWait(ctx context.Context, identifiers ...string) (PreloadReport, error) {
	if err := e.checkOpen(); err != nil {
		return PreloadReport{}, err
	}

	start := time.Now()
	var (
		mu     sync.Mutex
		report PreloadReport
		errs   []error
	)

	var g errgroup.Group
	g.SetLimit(e.preloadConcurrency)
	for _, identifier := range identifiers {
		g.Go(func() error {
			outcome, err := e.Cache(ctx, identifier)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("preload %q: %w", identifier, err))
				report.Skipped = append(report.Skipped, identifier)
				return nil
			}
			switch outcome {
			case OutcomeAdmitted:
				report.Admitted = append(report.Admitted, identifier)
			case OutcomeAlreadyCached:
				report.AlreadyCached = append(report.AlreadyCached, identifier)
			default:
				report.Skipped = append(report.Skipped, identifier)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.LogOperation(ctx, logging.OpPreload, time.Since(start), int64(report.Total()), nil)
	return report, errors.Join(errs...)
}
