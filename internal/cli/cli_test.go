package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/fetch"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("contentcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(newFlagSet(), []string{"stats"})
	require.NoError(t, err)

	assert.Equal(t, "stats", cfg.Command)
	assert.Empty(t, cfg.Args)
	assert.Equal(t, BackendFS, cfg.Backend)
	assert.Equal(t, ".contentcache", cfg.Dir)
	assert.Equal(t, 24*time.Hour, cfg.Cache.CleanupPeriod)
	assert.Equal(t, 720*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, int64(10<<20), cfg.Cache.MaxFileSizeBytes)
	assert.Equal(t, int64(200<<20), cfg.Cache.MaxCacheSizeBytes)
	assert.Equal(t, 3, cfg.Cache.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, "contentcache", cfg.S3.Bucket)
}

func TestParseConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("CONTENTCACHE_MAX_RETRIES", "7")
	t.Setenv("CONTENTCACHE_BACKEND", "sqlite")
	t.Setenv("CONTENTCACHE_DB", "/tmp/env.db")
	t.Setenv("CONTENTCACHE_S3_ENDPOINT", "localhost:9000")

	cfg, err := ParseConfig(newFlagSet(), []string{
		"-db", "/tmp/flag.db", "-json", "-key", "-timeout", "10s",
		"remove", "abc", "def",
	})
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Cache.MaxRetries)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/tmp/flag.db", cfg.DBPath)
	assert.Equal(t, "localhost:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.JSON)
	assert.True(t, cfg.ByKey)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "remove", cfg.Command)
	assert.Equal(t, []string{"abc", "def"}, cfg.Args)
}

func TestParseConfig_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"-nope", "stats"}},
		{"unknown backend", []string{"-backend", "tape", "stats"}},
		{"get without identifier", []string{"get"}},
		{"get with two identifiers", []string{"get", "a", "b"}},
		{"cache without identifiers", []string{"cache"}},
		{"stats with arguments", []string{"stats", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(newFlagSet(), tt.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUsage)
			assert.Equal(t, 2, ExitCode(err))
		})
	}
}

func TestParseConfig_BadEnv(t *testing.T) {
	t.Setenv("CONTENTCACHE_MAX_RETRIES", "lots")

	_, err := ParseConfig(newFlagSet(), []string{"stats"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUsage)
}

func TestParseConfig_Help(t *testing.T) {
	_, err := ParseConfig(newFlagSet(), []string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

// images serves fixed bodies and counts calls.
type images struct {
	bodies map[string][]byte
	calls  atomic.Int64
}

func (i *images) Get(_ context.Context, identifier string) (*fetch.Response, error) {
	i.calls.Add(1)
	body, ok := i.bodies[identifier]
	if !ok {
		return &fetch.Response{StatusCode: 404, ContentType: "text/plain"}, nil
	}
	return &fetch.Response{StatusCode: 200, ContentType: "image/png", Body: body}, nil
}

func testCLIConfig(t *testing.T, command string, args ...string) Config {
	t.Helper()
	cfg, err := ParseConfig(newFlagSet(), append([]string{
		"-dir", filepath.Join(t.TempDir(), "cache"), command,
	}, args...))
	require.NoError(t, err)
	return cfg
}

func run(t *testing.T, cfg Config, getter fetch.Getter) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Run(context.Background(), cfg, &out, &errOut, WithGetter(getter))
	return out.String(), err
}

func TestRun_GetCachesContent(t *testing.T) {
	getter := &images{bodies: map[string][]byte{"https://example.com/a.png": []byte("png-a")}}
	cfg := testCLIConfig(t, "get", "https://example.com/a.png")

	out, err := run(t, cfg, getter)
	require.NoError(t, err)
	assert.Equal(t, "png-a", out)

	// A second process reads from disk.
	out, err = run(t, cfg, getter)
	require.NoError(t, err)
	assert.Equal(t, "png-a", out)
	assert.Equal(t, int64(1), getter.calls.Load())
}

func TestRun_GetToFile(t *testing.T) {
	getter := &images{bodies: map[string][]byte{"a": []byte("png-a")}}
	cfg := testCLIConfig(t, "get", "a")
	cfg.Out = filepath.Join(t.TempDir(), "a.png")

	out, err := run(t, cfg, getter)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(cfg.Out)
	require.NoError(t, err)
	assert.Equal(t, "png-a", string(data))
}

func TestRun_GetMissing(t *testing.T) {
	cfg := testCLIConfig(t, "get", "missing")

	_, err := run(t, cfg, &images{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeRejected, errors.GetCode(err))
	assert.Equal(t, 1, ExitCode(err))
}

func TestRun_CacheAndStats(t *testing.T) {
	getter := &images{bodies: map[string][]byte{"a": []byte("aaaa"), "b": []byte("bb")}}
	dir := filepath.Join(t.TempDir(), "cache")

	cfg := testCLIConfig(t, "cache", "a", "b", "missing")
	cfg.Dir = dir
	out, err := run(t, cfg, getter)
	require.NoError(t, err)
	assert.Equal(t, "admitted\ta\nadmitted\tb\nskipped\tmissing\n", out)

	cfg.JSON = true
	cfg.Args = []string{"a"}
	out, err = run(t, cfg, getter)
	require.NoError(t, err)
	var outcomes map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes))
	assert.Equal(t, map[string]string{"a": "already_cached"}, outcomes)

	stats := testCLIConfig(t, "stats")
	stats.Dir = dir
	out, err = run(t, stats, getter)
	require.NoError(t, err)

	var decoded struct {
		Entries    int   `json:"entries"`
		TotalBytes int64 `json:"total_bytes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 2, decoded.Entries)
	assert.Equal(t, int64(6), decoded.TotalBytes)
}

func TestRun_Preload(t *testing.T) {
	getter := &images{bodies: map[string][]byte{"a": []byte("a"), "b": []byte("b")}}
	cfg := testCLIConfig(t, "preload", "a", "b", "c")
	cfg.JSON = true

	out, err := run(t, cfg, getter)
	require.NoError(t, err)

	var report struct {
		Admitted []string `json:"admitted"`
		Skipped  []string `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.ElementsMatch(t, []string{"a", "b"}, report.Admitted)
	assert.Equal(t, []string{"c"}, report.Skipped)
}

func TestRun_RemoveClearCleanup(t *testing.T) {
	getter := &images{bodies: map[string][]byte{"a": []byte("a"), "b": []byte("b")}}
	dir := filepath.Join(t.TempDir(), "cache")

	step := func(command string, args ...string) string {
		cfg := testCLIConfig(t, command, args...)
		cfg.Dir = dir
		out, err := run(t, cfg, getter)
		require.NoError(t, err, command)
		return out
	}

	step("cache", "a", "b")
	step("remove", "a")
	assert.Equal(t, "admitted\ta\nalready_cached\tb\n", step("cache", "a", "b"))

	step("clear")
	assert.Equal(t, "removed 0 entries\n", step("cleanup"))
	assert.Equal(t, "admitted\ta\n", step("cache", "a"))
}

func TestRun_RemoveByKeyRejectsBadKey(t *testing.T) {
	cfg := testCLIConfig(t, "remove", "not a key")
	cfg.ByKey = true

	_, err := run(t, cfg, &images{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestRun_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"cleanup_period: 1h\nmax_age: 2h\nmax_file_size_bytes: 2\nmax_cache_size_bytes: 100\nmax_retries: 1\n"), 0o600))

	getter := &images{bodies: map[string][]byte{"big": []byte("too big")}}
	cfg := testCLIConfig(t, "cache", "big")
	cfg.ConfigFile = path

	out, err := run(t, cfg, getter)
	require.NoError(t, err)
	assert.Equal(t, "skipped\tbig\n", out)

	cfg.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = run(t, cfg, getter)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestRun_SQLiteBackend(t *testing.T) {
	getter := &images{bodies: map[string][]byte{"a": []byte("sqlite-a")}}
	cfg := testCLIConfig(t, "get", "a")
	cfg.Backend = BackendSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "cache.db")

	out, err := run(t, cfg, getter)
	require.NoError(t, err)
	assert.Equal(t, "sqlite-a", out)

	out, err = run(t, cfg, getter)
	require.NoError(t, err)
	assert.Equal(t, "sqlite-a", out)
	assert.Equal(t, int64(1), getter.calls.Load())
}

func TestRun_BadLogLevel(t *testing.T) {
	cfg := testCLIConfig(t, "stats")
	cfg.LogLevel = "chatty"

	_, err := run(t, cfg, &images{})
	assert.ErrorIs(t, err, ErrUsage)
}

func TestWriteError(t *testing.T) {
	err := errors.WithContext(errors.New(errors.CodeRejected, "server said no"), "status", 404)

	var text bytes.Buffer
	WriteError(&text, err, false)
	assert.True(t, strings.HasPrefix(text.String(), "Error: "))
	assert.Contains(t, text.String(), "server said no")

	var js bytes.Buffer
	WriteError(&js, err, true)
	var resp errors.Response
	require.NoError(t, json.Unmarshal(js.Bytes(), &resp))
	assert.Equal(t, string(errors.CodeRejected), resp.Code)
	assert.Equal(t, "server said no", resp.Message)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(ErrUsage))
	assert.Equal(t, 1, ExitCode(errors.New(errors.CodeNetwork, "down")))
}
