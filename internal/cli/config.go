// Package cli implements the contentcache command.
package cli

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jmgilman/go/contentcache"
	"github.com/jmgilman/go/contentcache/errors"
)

// EnvPrefix prefixes every environment variable the command reads.
const EnvPrefix = "CONTENTCACHE_"

// ErrUsage marks errors caused by bad command-line input.
var ErrUsage = errors.New(errors.CodeInvalidInput, "usage error")

// Backend names.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config holds the parsed command line.
type Config struct {
	Cache      contentcache.Config
	ConfigFile string
	Backend    string
	Dir        string
	DBPath     string
	S3         S3Config
	LogLevel   string
	JSON       bool
	Out        string
	ByKey      bool
	Timeout    time.Duration

	Command string
	Args    []string
}

// S3Config holds the object store settings for the s3 backend.
type S3Config struct {
	Endpoint  string `env:"S3_ENDPOINT"`
	Bucket    string `env:"S3_BUCKET" envDefault:"contentcache"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	UseSSL    bool   `env:"S3_USE_SSL"`
	Prefix    string `env:"S3_PREFIX"`
}

type envConfig struct {
	CleanupPeriod     time.Duration `env:"CLEANUP_PERIOD" envDefault:"24h"`
	MaxAge            time.Duration `env:"MAX_AGE" envDefault:"720h"`
	MaxFileSizeBytes  int64         `env:"MAX_FILE_SIZE_BYTES" envDefault:"10485760"`
	MaxCacheSizeBytes int64         `env:"MAX_CACHE_SIZE_BYTES" envDefault:"209715200"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`

	Backend  string        `env:"BACKEND" envDefault:"fs"`
	Dir      string        `env:"DIR" envDefault:".contentcache"`
	DBPath   string        `env:"DB" envDefault:"contentcache.db"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"warn"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"5m"`

	S3 S3Config
}

const usageText = `Usage: contentcache [flags] <command> [args]

Commands:
  get <identifier>           print the resource, fetching it if needed
  cache <identifier>...      store resources that are not stored yet
  preload <identifier>...    store resources concurrently and report outcomes
  remove <identifier>...     remove resources (storage keys with -key)
  clear                      remove everything
  cleanup                    run a full cleanup sweep
  stats                      print cache statistics

Flags:
`

// ParseConfig reads defaults from the environment and then parses args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var e envConfig
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		Cache: contentcache.Config{
			CleanupPeriod:     e.CleanupPeriod,
			MaxAge:            e.MaxAge,
			MaxFileSizeBytes:  e.MaxFileSizeBytes,
			MaxCacheSizeBytes: e.MaxCacheSizeBytes,
			MaxRetries:        e.MaxRetries,
		},
		Backend:  e.Backend,
		Dir:      e.Dir,
		DBPath:   e.DBPath,
		S3:       e.S3,
		LogLevel: e.LogLevel,
		Timeout:  e.Timeout,
	}

	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML file with cache limits (overrides "+EnvPrefix+"* limits)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: fs, sqlite or s3")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "cache directory for the fs backend")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "database file for the sqlite backend")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&cfg.JSON, "json", false, "print results and errors as JSON")
	fs.StringVar(&cfg.Out, "out", "", "write get output to this file instead of stdout")
	fs.BoolVar(&cfg.ByKey, "key", false, "treat remove arguments as storage keys")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, fmt.Errorf("%w: missing command", ErrUsage)
	}
	cfg.Command, cfg.Args = rest[0], rest[1:]

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendFS, BackendSQLite, BackendS3:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrUsage, c.Backend)
	}

	switch c.Command {
	case "get":
		if len(c.Args) != 1 {
			return fmt.Errorf("%w: get takes exactly one identifier", ErrUsage)
		}
	case "cache", "preload", "remove":
		if len(c.Args) == 0 {
			return fmt.Errorf("%w: %s needs at least one argument", ErrUsage, c.Command)
		}
	case "clear", "cleanup", "stats":
		if len(c.Args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrUsage, c.Command)
		}
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, c.Command)
	}
	return nil
}

func usage(fs *flag.FlagSet) {
	_, _ = io.WriteString(fs.Output(), usageText)
	fs.PrintDefaults()
}
