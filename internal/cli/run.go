package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jmgilman/go/contentcache"
	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/fetch"
	"github.com/jmgilman/go/contentcache/internal/logging"
	"github.com/jmgilman/go/contentcache/store"
	"github.com/jmgilman/go/contentcache/store/fsstore"
	"github.com/jmgilman/go/contentcache/store/s3"
	"github.com/jmgilman/go/contentcache/store/sqlite"
)

// Option adjusts how Run builds the engine.
type Option func(*runOptions)

type runOptions struct {
	getter fetch.Getter
}

// WithGetter replaces the HTTP getter.
func WithGetter(g fetch.Getter) Option {
	return func(o *runOptions) {
		o.getter = g
	}
}

// Run executes cfg.Command. Results go to out and logs to errOut.
func Run(ctx context.Context, cfg Config, out, errOut io.Writer, opts ...Option) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	limits := cfg.Cache
	if cfg.ConfigFile != "" {
		var err error
		if limits, err = contentcache.LoadConfigFile(cfg.ConfigFile); err != nil {
			return err
		}
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	content, access, schedule, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeBackend(); cerr != nil {
			logger.Warn("failed to close backend", "error", cerr)
		}
	}()

	engineOpts := []contentcache.Option{
		contentcache.WithLogger(logger),
		contentcache.WithoutScheduler(),
	}
	if ro.getter != nil {
		engineOpts = append(engineOpts, contentcache.WithGetter(ro.getter))
	}

	engine, err := contentcache.New(ctx, limits, content, access, schedule, engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("failed to close cache", "error", cerr)
		}
	}()

	return dispatch(ctx, engine, cfg, out)
}

func dispatch(ctx context.Context, engine *contentcache.Engine, cfg Config, out io.Writer) error {
	switch cfg.Command {
	case "get":
		return runGet(ctx, engine, cfg, out)
	case "cache":
		return runCache(ctx, engine, cfg, out)
	case "preload":
		report, err := engine.PreloadWait(ctx, cfg.Args...)
		if perr := printResult(out, cfg.JSON, report, func(w io.Writer) {
			for _, id := range report.Admitted {
				fmt.Fprintf(w, "%s\t%s\n", contentcache.OutcomeAdmitted, id)
			}
			for _, id := range report.AlreadyCached {
				fmt.Fprintf(w, "%s\t%s\n", contentcache.OutcomeAlreadyCached, id)
			}
			for _, id := range report.Skipped {
				fmt.Fprintf(w, "%s\t%s\n", contentcache.OutcomeSkipped, id)
			}
		}); perr != nil {
			return perr
		}
		return err
	case "remove":
		return runRemove(ctx, engine, cfg)
	case "clear":
		return engine.ClearAll(ctx)
	case "cleanup":
		removed, err := engine.Cleanup(ctx)
		if err != nil {
			return err
		}
		return printResult(out, cfg.JSON, map[string]int{"removed": removed}, func(w io.Writer) {
			fmt.Fprintf(w, "removed %d entries\n", removed)
		})
	case "stats":
		stats, err := engine.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, stats)
	}
	return fmt.Errorf("%w: unknown command %q", ErrUsage, cfg.Command)
}

func runGet(ctx context.Context, engine *contentcache.Engine, cfg Config, out io.Writer) error {
	data, err := engine.Retrieve(ctx, cfg.Args[0])
	if err != nil {
		return err
	}
	if cfg.Out == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(cfg.Out, data, 0o644); err != nil {
		return errors.WithContext(errors.Wrap(err, errors.CodeStorage, "failed to write output"), "path", cfg.Out)
	}
	return nil
}

func runCache(ctx context.Context, engine *contentcache.Engine, cfg Config, out io.Writer) error {
	results := make(map[string]string, len(cfg.Args))
	for _, id := range cfg.Args {
		outcome, err := engine.Cache(ctx, id)
		if err != nil {
			return err
		}
		results[id] = outcome.String()
	}
	return printResult(out, cfg.JSON, results, func(w io.Writer) {
		for _, id := range cfg.Args {
			fmt.Fprintf(w, "%s\t%s\n", results[id], id)
		}
	})
}

func runRemove(ctx context.Context, engine *contentcache.Engine, cfg Config) error {
	var errs []error
	for _, arg := range cfg.Args {
		var err error
		if cfg.ByKey {
			err = engine.RemoveKey(ctx, arg)
		} else {
			err = engine.Remove(ctx, arg)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackend returns the three tables for cfg.Backend and a func releasing
// backend resources after the engine is closed.
func openBackend(cfg Config) (content, access, schedule store.Table, closeFn func() error, err error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendFS:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, nil, nil, errors.Wrap(err, errors.CodeStorage, "failed to create cache directory")
		}
		c, a, s := fsstore.NewTables(osfs.New(cfg.Dir))
		return c, a, s, noop, nil

	case BackendSQLite:
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		c, a, s := db.Tables()
		return c, a, s, db.Close, nil

	case BackendS3:
		client, err := s3.NewClient(s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		c, a, s := client.Tables()
		return c, a, s, noop, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("%w: unknown backend %q", ErrUsage, cfg.Backend)
}

func printResult(out io.Writer, asJSON bool, v any, text func(io.Writer)) error {
	if asJSON {
		return printJSON(out, v)
	}
	text(out)
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteError reports err on w, as JSON when asJSON is set.
func WriteError(w io.Writer, err error, asJSON bool) {
	if asJSON {
		_ = printJSON(w, errors.ToJSON(err))
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// ExitCode maps err to the process exit status: 0 for success, 2 for usage
// errors and 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	default:
		return 1
	}
}
