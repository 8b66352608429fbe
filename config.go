package contentcache

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/contentcache/errors"
)

// Config holds the limits the engine enforces. Every field is required; the
// engine applies no defaults of its own.
type Config struct {
	// CleanupPeriod is the interval between full cleanup sweeps. An entry not
	// accessed for longer than this is removed by the sweep.
	CleanupPeriod time.Duration `env:"CLEANUP_PERIOD" yaml:"cleanup_period"`

	// MaxAge is the age beyond which an entry is expired regardless of how
	// often it was accessed.
	MaxAge time.Duration `env:"MAX_AGE" yaml:"max_age"`

	// MaxFileSizeBytes is the largest single resource that will be stored.
	MaxFileSizeBytes int64 `env:"MAX_FILE_SIZE_BYTES" yaml:"max_file_size_bytes"`

	// MaxCacheSizeBytes bounds the total size of stored content.
	MaxCacheSizeBytes int64 `env:"MAX_CACHE_SIZE_BYTES" yaml:"max_cache_size_bytes"`

	// MaxRetries is the number of download attempts made per fetch.
	MaxRetries int `env:"MAX_RETRIES" yaml:"max_retries"`
}

// Validate checks that every field is set to a usable value.
func (c Config) Validate() error {
	switch {
	case c.CleanupPeriod <= 0:
		return fmt.Errorf("%w: cleanup period must be positive, got %s", ErrInvalidConfig, c.CleanupPeriod)
	case c.MaxAge <= 0:
		return fmt.Errorf("%w: max age must be positive, got %s", ErrInvalidConfig, c.MaxAge)
	case c.MaxFileSizeBytes <= 0:
		return fmt.Errorf("%w: max file size must be positive, got %d", ErrInvalidConfig, c.MaxFileSizeBytes)
	case c.MaxCacheSizeBytes <= 0:
		return fmt.Errorf("%w: max cache size must be positive, got %d", ErrInvalidConfig, c.MaxCacheSizeBytes)
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	return nil
}

// ConfigFromEnv reads a Config from environment variables named prefix
// followed by the field's env tag, e.g. CONTENTCACHE_MAX_AGE. Every variable
// must be set. Durations use Go syntax ("24h", "90m").
func ConfigFromEnv(prefix string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:          prefix,
		RequiredIfNoDef: true,
	}); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a Config from a YAML file.
//
//	cleanup_period: 24h
//	max_age: 720h
//	max_file_size_bytes: 10485760
//	max_cache_size_bytes: 209715200
//	max_retries: 3
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidConfig, "failed to read config file"), "path", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document into a Config and validates it.
// Unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
