package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
)

// Response is the result of a single network request.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Getter performs one network request for identifier. A transport failure
// is returned as an error; any HTTP status is returned as a Response.
type Getter interface {
	Get(ctx context.Context, identifier string) (*Response, error)
}

// GetterFunc adapts a function to Getter.
type GetterFunc func(ctx context.Context, identifier string) (*Response, error)

// Get calls f.
func (f GetterFunc) Get(ctx context.Context, identifier string) (*Response, error) {
	return f(ctx, identifier)
}

// HTTPGetter fetches identifiers as URLs with net/http.
type HTTPGetter struct {
	client      *http.Client
	headers     http.Header
	maxBodySize int64
}

// HTTPOption configures an HTTPGetter.
type HTTPOption func(*HTTPGetter)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) HTTPOption {
	return func(g *HTTPGetter) {
		g.client = client
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) HTTPOption {
	return func(g *HTTPGetter) {
		if g.headers == nil {
			g.headers = make(http.Header)
		}
		g.headers.Set(key, value)
	}
}

// WithTimeout sets a per-request timeout on a copy of the client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(g *HTTPGetter) {
		c := *g.client
		c.Timeout = d
		g.client = &c
	}
}

// WithMaxBodySize rejects bodies larger than n bytes with TOO_LARGE.
// Zero means unlimited.
func WithMaxBodySize(n int64) HTTPOption {
	return func(g *HTTPGetter) {
		g.maxBodySize = n
	}
}

// NewHTTPGetter returns a Getter over net/http.
func NewHTTPGetter(opts ...HTTPOption) *HTTPGetter {
	g := &HTTPGetter{client: http.DefaultClient}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = http.DefaultClient
	}
	return g
}

// Get issues a GET for identifier and reads the whole body.
func (g *HTTPGetter) Get(ctx context.Context, identifier string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifier, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid request url")
	}
	for k, vals := range g.headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return out, nil
	}

	body := io.Reader(resp.Body)
	if g.maxBodySize > 0 {
		if resp.ContentLength > g.maxBodySize {
			return nil, errors.Newf(errors.CodeTooLarge, "content length %d exceeds %d bytes", resp.ContentLength, g.maxBodySize)
		}
		body = io.LimitReader(resp.Body, g.maxBodySize+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "failed to read response body")
	}
	if g.maxBodySize > 0 && int64(len(data)) > g.maxBodySize {
		return nil, errors.New(errors.CodeTooLarge, fmt.Sprintf("body exceeds %d bytes", g.maxBodySize))
	}
	out.Body = data
	return out, nil
}
