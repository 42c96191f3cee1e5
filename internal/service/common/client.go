//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oshokin/beta-publisher/internal/logger"
	"github.com/oshokin/beta-publisher/internal/version"
)

// DefaultTimeout bounds connecting, the TLS handshake and waiting for response headers.
const DefaultTimeout = 60 * time.Second

// ErrBadHTTPStatus is returned for any non-200 response.
var ErrBadHTTPStatus = errors.New("unexpected http status")

var errURLRequired = errors.New("url must be provided")

// Client wraps http.Client with timeouts and request logging.
type Client struct {
	// http is the underlying client; its transport logs every request.
	http *http.Client
	// timeout applies to each network phase, not to the whole body transfer.
	timeout time.Duration
	// base is the transport wrapped by the logging layer.
	base http.RoundTripper
}

// Option configures client behaviour.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTransport replaces the base transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// NewClient builds a client. Large downloads are not cut off by a global
// deadline; only the connection phases are bounded.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.base == nil {
		dialer := &net.Dialer{Timeout: c.timeout}

		//nolint:exhaustruct // Remaining transport fields keep net/http defaults.
		c.base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   c.timeout,
			ResponseHeaderTimeout: c.timeout,
			IdleConnTimeout:       c.timeout,
		}
	}

	c.http = &http.Client{Transport: &loggingTransport{base: c.base}}

	return c
}

// HTTP exposes the configured client for libraries that take an *http.Client.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Get performs a GET and fails on any status other than 200.
// The caller closes the body of a successful response.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, errURLRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", url, resp.Status, ErrBadHTTPStatus)
	}

	return resp, nil
}

// Download streams the body of url into dst and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, url string, dst io.Writer) (int64, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		return written, fmt.Errorf("read body of %s: %w", url, err)
	}

	return written, nil
}

// loggingTransport logs one line per request and one per response.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(ctx)
		req.Header.Set("User-Agent", version.UserAgent())
	}

	logger.Infof(ctx, "--> %s %s", req.Method, req.URL.Redacted())

	started := time.Now()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Errorf(ctx, "<-- HTTP FAILED: %v", err)
		return nil, err
	}

	logger.Infof(ctx, "<-- %s %s (%s)", resp.Status, req.URL.Redacted(), time.Since(started).Round(time.Millisecond))

	return resp, nil
}
