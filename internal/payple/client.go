package payple

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-settlement/pkg/resilience"
)

// maxResponseSize bounds the response body read from Payple.
const maxResponseSize = 1 << 20

// Client calls the Payple partner API. Every request runs through the
// resilience executor, so transient failures are retried and a persistently
// failing partner trips the breaker.
type Client struct {
	cfg    Config
	http   *http.Client
	exec   *resilience.Executor
	tokens TokenCache
	now    func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithExecutor sets the executor guarding every request.
func WithExecutor(exec *resilience.Executor) ClientOption {
	return func(c *Client) { c.exec = exec }
}

// WithTokenCache sets where access tokens are cached.
func WithTokenCache(tc TokenCache) ClientOption {
	return func(c *Client) { c.tokens = tc }
}

// NewClient creates a Client. Without options it uses an instrumented HTTP
// client, an in-memory token cache and the default breaker and retry
// settings.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(cfg)
	}
	if c.tokens == nil {
		c.tokens = NewMemoryTokenCache()
	}
	if c.exec == nil {
		c.exec = NewExecutor(resilience.DefaultBreakerConfig(), resilience.DefaultRetryConfig())
	}
	return c
}

// NewHTTPClient returns an otelhttp instrumented client honoring the connect
// and read timeouts of cfg.
func NewHTTPClient(cfg Config) *http.Client {
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "payple " + r.URL.Path
			}),
		),
	}
}

// NewExecutor builds the breaker and retrier used in front of Payple. Only
// transient failures are retried or counted by the breaker.
func NewExecutor(bc resilience.BreakerConfig, rc resilience.RetryConfig, opts ...resilience.BreakerOption) *resilience.Executor {
	opts = append([]resilience.BreakerOption{resilience.WithFailurePredicate(IsTransient)}, opts...)
	return resilience.NewExecutor(
		resilience.NewBreaker("payple", bc, opts...),
		resilience.NewRetrier(rc, IsTransient),
	)
}

// Breaker returns the circuit breaker guarding the client.
func (c *Client) Breaker() *resilience.Breaker { return c.exec.Breaker() }

type callOptions struct {
	token   string
	timeout time.Duration
}

type callOption func(*callOptions)

func withToken(token string) callOption {
	return func(o *callOptions) { o.token = token }
}

// withTimeout overrides the read timeout of one request.
func withTimeout(d time.Duration) callOption {
	return func(o *callOptions) { o.timeout = d }
}

// post sends in as JSON to path and decodes the response into out.
func (c *Client) post(ctx context.Context, op, path string, in, out any, opts ...callOption) error {
	o := callOptions{timeout: c.cfg.ReadTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", op)
	}

	attempt := 0
	return c.exec.Execute(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			zctx.From(ctx).Debug("Retrying Payple request", zap.String("op", op), zap.Int("attempt", attempt))
		}
		return c.do(ctx, op, path, body, out, o)
	})
}

func (c *Client) do(ctx context.Context, op, path string, body []byte, out any, o callOptions) error {
	// The read timeout covers connecting as well; the dialer enforces the
	// connect timeout on its own.
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout+o.timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "create %s request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ExternalServiceError{Op: op, Transient: !errors.Is(err, context.Canceled), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Transient: true, Err: errors.Wrap(err, "read body")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return &ExternalServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  transient,
			Err:        errors.Errorf("unexpected status: %s", snippet(data)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
