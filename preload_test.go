package contentcache

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/contentcache/fetch"
)

func TestPreloadWait(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.getter.set("a", []byte("A"))
	h.getter.set("b", []byte("B"))
	_, err := h.engine.Admit(ctx, "c", []byte("C"))
	require.NoError(t, err)

	report, err := h.engine.PreloadWait(ctx, "a", "b", "c", "missing")
	require.NoError(t, err)

	sort.Strings(report.Admitted)
	assert.Equal(t, []string{"a", "b"}, report.Admitted)
	assert.Equal(t, []string{"c"}, report.AlreadyCached)
	assert.Equal(t, []string{"missing"}, report.Skipped)
	assert.Equal(t, 4, report.Total())

	assert.True(t, h.stored(t, "a"))
	assert.True(t, h.stored(t, "b"))
}

func TestPreloadWait_IsolatesBadIdentifiers(t *testing.T) {
	h := newHarness(t, testConfig())
	h.getter.set("ok", []byte("fine"))

	report, err := h.engine.PreloadWait(context.Background(), "", "ok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.Equal(t, []string{"ok"}, report.Admitted)
	assert.Equal(t, []string{""}, report.Skipped)
}

func TestPreloadWait_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	getter := fetch.GetterFunc(func(context.Context, string) (*fetch.Response, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return &fetch.Response{StatusCode: 200, ContentType: "image/gif", Body: []byte("gif")}, nil
	})
	h := newHarness(t, testConfig(), WithGetter(getter), WithPreloadConcurrency(2))

	ids := []string{"1", "2", "3", "4", "5", "6"}
	report, err := h.engine.PreloadWait(context.Background(), ids...)
	require.NoError(t, err)
	assert.Len(t, report.Admitted, len(ids))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPreload_Background(t *testing.T) {
	h := newHarness(t, testConfig())
	h.getter.set("bg", []byte("background"))

	ctx, cancel := context.WithCancel(context.Background())
	h.engine.Preload(ctx, "bg")
	cancel()

	require.Eventually(t, func() bool { return h.stored(t, "bg") }, time.Second, 5*time.Millisecond)
}

func TestPreload_CloseWaits(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Bool
	getter := fetch.GetterFunc(func(ctx context.Context, _ string) (*fetch.Response, error) {
		started.Store(true)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &fetch.Response{StatusCode: 200, ContentType: "image/png", Body: []byte("x")}, nil
	})
	h := newHarness(t, testConfig(), WithGetter(getter))

	h.engine.Preload(context.Background(), "slow")
	require.Eventually(t, started.Load, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.engine.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Close did not abort the running preload")
	}
}
