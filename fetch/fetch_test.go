package fetch

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/contentcache/errors"
)

func ok(body string) *Response {
	return &Response{StatusCode: 200, ContentType: "image/png", Body: []byte(body)}
}

// scripted returns a Getter that replays results in order and counts calls.
func scripted(calls *atomic.Int32, results ...func() (*Response, error)) Getter {
	return GetterFunc(func(_ context.Context, _ string) (*Response, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(results) {
			n = len(results) - 1
		}
		return results[n]()
	})
}

func newCoordinator(t *testing.T, g Getter, attempts int, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	c, err := New(g, attempts, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_Validation(t *testing.T) {
	g := GetterFunc(func(context.Context, string) (*Response, error) { return ok("x"), nil })

	_, err := New(nil, 3)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = New(g, 0)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = New(g, 1, WithRecencyCapacity(0))
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = New(g, 1, WithRetryDelay(-time.Second))
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestFetch_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	transient := func() (*Response, error) { return nil, stderrors.New("connection reset") }
	g := scripted(&calls, transient, transient, func() (*Response, error) { return ok("data"), nil })

	c := newCoordinator(t, g, 3)
	data, err := c.Fetch(context.Background(), "https://example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
	assert.Equal(t, int32(3), calls.Load())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Fetches)
	assert.Equal(t, int64(3), stats.Attempts)
	assert.Zero(t, stats.Failures)
}

func TestFetch_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	g := scripted(&calls, func() (*Response, error) { return nil, stderrors.New("dial tcp: refused") })

	c := newCoordinator(t, g, 3)
	_, err := c.Fetch(context.Background(), "https://example.com/a.png")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNetwork, errors.GetCode(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Failures)
	assert.False(t, c.InFlight("https://example.com/a.png"))
}

func TestFetch_RejectedStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := scripted(&calls, func() (*Response, error) {
		return &Response{StatusCode: 404, ContentType: "text/html"}, nil
	})

	c := newCoordinator(t, g, 5)
	_, err := c.Fetch(context.Background(), "https://example.com/missing.png")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeRejected))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_ContentTypeMismatchIsRetried(t *testing.T) {
	var calls atomic.Int32
	html := func() (*Response, error) {
		return &Response{StatusCode: 200, ContentType: "text/html; charset=utf-8", Body: []byte("<html>")}, nil
	}
	g := scripted(&calls, html, func() (*Response, error) {
		return &Response{StatusCode: 200, ContentType: "application/pdf", Body: []byte("%PDF")}, nil
	})

	c := newCoordinator(t, g, 3)
	data, err := c.Fetch(context.Background(), "https://example.com/doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ContentTypeMismatchExhausts(t *testing.T) {
	var calls atomic.Int32
	g := scripted(&calls, func() (*Response, error) {
		return &Response{StatusCode: 200, ContentType: "text/plain"}, nil
	})

	c := newCoordinator(t, g, 2)
	_, err := c.Fetch(context.Background(), "https://example.com/doc")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnsupportedContent))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_PermanentGetterErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := scripted(&calls, func() (*Response, error) {
		return nil, errors.New(errors.CodeInvalidInput, "bad url")
	})

	c := newCoordinator(t, g, 4)
	_, err := c.Fetch(context.Background(), "::")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_AcceptedContentTypes(t *testing.T) {
	g := GetterFunc(func(context.Context, string) (*Response, error) {
		return &Response{StatusCode: 200, ContentType: "TEXT/Plain", Body: []byte("hi")}, nil
	})

	c := newCoordinator(t, g, 1, WithAcceptedContentTypes("text/"))
	data, err := c.Fetch(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	anyType := newCoordinator(t, g, 1, WithAcceptedContentTypes())
	_, err = anyType.Fetch(context.Background(), "x")
	assert.NoError(t, err)
}

func TestFetch_EmptyIdentifier(t *testing.T) {
	c := newCoordinator(t, GetterFunc(func(context.Context, string) (*Response, error) { return ok(""), nil }), 1)
	_, err := c.Fetch(context.Background(), "")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestFetch_ConcurrentCallersShareOneDownload(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	g := GetterFunc(func(context.Context, string) (*Response, error) {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return ok("shared"), nil
	})

	c := newCoordinator(t, g, 3)
	const id = "https://example.com/shared.png"

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Fetch(context.Background(), id)
	}()
	<-started
	assert.True(t, c.InFlight(id))

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(context.Background(), id)
		}(i)
	}

	// Give the followers time to join the running download.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, c.InFlight(id))
}

func TestFetch_RecencyCache(t *testing.T) {
	var calls atomic.Int32
	g := scripted(&calls, func() (*Response, error) { return ok("v"), nil })

	c := newCoordinator(t, g, 1)
	ctx := context.Background()

	_, err := c.Fetch(ctx, "a")
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().RecentHits)

	c.Forget("a")
	_, err = c.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	c.Reset()
	_, err = c.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_CallerCancelDoesNotAbortDownload(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	g := GetterFunc(func(ctx context.Context, _ string) (*Response, error) {
		defer close(done)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return ok("late"), nil
	})

	c := newCoordinator(t, g, 1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "slow")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.InFlight("slow") }, time.Second, time.Millisecond)
	cancel()
	err := <-errCh
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))

	close(release)
	<-done
	require.Eventually(t, func() bool { return !c.InFlight("slow") }, time.Second, time.Millisecond)

	data, err := c.Fetch(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, []byte("late"), data)
}

func TestClose_AbortsDownload(t *testing.T) {
	g := GetterFunc(func(ctx context.Context, _ string) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	c, err := New(g, 3, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), "blocked")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.InFlight("blocked") }, time.Second, time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("download was not aborted by Close")
	}
}
