// Package fetcher provides the rate-limited HTTP client used for every
// outbound call to third-party APIs.
package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"guildkeeper/internal/observability/tracing"
	"guildkeeper/internal/resilience/retry"
	"guildkeeper/pkg/ratelimit"
)

// RequestOptions describes the request sent on every attempt.
type RequestOptions struct {
	// Method defaults to GET.
	Method string

	// Header is cloned for every attempt.
	Header http.Header

	// Body is re-sent on every attempt.
	Body []byte
}

// FetchOptions selects the bucket and retry policy of one call.
type FetchOptions struct {
	// Domain names the rate limit bucket. Empty means ratelimit.DefaultDomain.
	Domain string

	// MaxRetries overrides the domain's retry count when non-nil.
	// Zero means exactly one attempt.
	MaxRetries *int

	// Timeout overrides ClientConfig.Timeout for each attempt.
	Timeout time.Duration
}

// Retries is a helper for setting FetchOptions.MaxRetries inline.
func Retries(n int) *int {
	return &n
}

// Client performs HTTP requests under per-domain sliding-window limits and
// retries 429, 5xx and network failures with exponential backoff.
//
// Thread safety: Client is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *ratelimit.DomainLimiter
	config  ClientConfig
	metrics *Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records attempts and retries in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger replaces slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTracer replaces the application tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithHTTPClient replaces the underlying transport client. Its Timeout is
// ignored in favour of the per-attempt timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client that draws capacity from limiter.
func NewClient(cfg ClientConfig, limiter *ratelimit.DomainLimiter, opts ...Option) *Client {
	c := &Client{
		limiter: limiter,
		config:  cfg,
		logger:  slog.Default(),
		tracer:  tracing.GetTracer(),
		sleep:   ratelimit.SleepContext,
		now:     time.Now,
	}

	c.http = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := validateURL(req.Context(), req.URL.String(), c.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "fetcher"))
	return c
}

// FetchWithRetry performs the request described by req against rawURL.
//
// Before every attempt the caller waits for capacity in the domain bucket.
// A 429 is retried after the Retry-After delay when present, otherwise
// after BaseDelay*2^attempt; 5xx and network errors use the same backoff.
// Any other status is returned immediately. After MaxRetries+1 failed
// attempts the error wraps ErrRetriesExhausted and the last failure
// (a *retry.HTTPError or the transport error).
//
// The per-attempt timeout keeps running until the returned body is closed,
// so callers must always close it.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL string, req RequestOptions, opts FetchOptions) (*http.Response, error) {
	if err := validateURL(ctx, rawURL, c.config.DenyPrivateIPs); err != nil {
		return nil, err
	}

	domain := opts.Domain
	if domain == "" {
		domain = ratelimit.DefaultDomain
	}
	bucket := c.limiter.Config(domain)

	maxRetries := bucket.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "fetcher.FetchWithRetry",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", rawURL),
			attribute.String("ratelimit.domain", domain),
		),
	)
	defer span.End()

	logger := c.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("domain", domain),
	)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		waited, err := c.limiter.Wait(ctx, domain)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limit wait aborted")
			return nil, fmt.Errorf("wait for %s capacity: %w", domain, err)
		}
		if waited > 0 {
			logger.Debug("waited for rate limit capacity", slog.Duration("waited", waited))
		}

		httpReq, cancel, err := c.newRequest(ctx, method, rawURL, req, timeout)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request")
			return nil, err
		}

		start := c.now()
		resp, err := c.http.Do(httpReq)
		elapsed := c.now().Sub(start)

		var (
			delay  time.Duration
			reason string
		)
		switch {
		case err != nil:
			cancel()
			if ctx.Err() != nil {
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "cancelled")
				return nil, ctx.Err()
			}
			c.metrics.recordAttempt(domain, OutcomeNetworkError, elapsed)
			lastErr = err
			reason = ReasonNetwork
			delay = retry.Backoff(bucket.BaseDelay, attempt)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.metrics.recordAttempt(domain, OutcomeRetryStatus, elapsed)
			httpErr := &retry.HTTPError{
				StatusCode: resp.StatusCode,
				Message:    http.StatusText(resp.StatusCode),
			}
			delay = retry.Backoff(bucket.BaseDelay, attempt)
			reason = ReasonServerError
			if resp.StatusCode == http.StatusTooManyRequests {
				reason = ReasonRateLimited
				if d, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
					delay = d
					httpErr.RetryAfter = d
				}
			}
			discard(resp.Body)
			cancel()
			lastErr = httpErr

		default:
			outcome := OutcomeSuccess
			if resp.StatusCode >= 400 {
				outcome = OutcomeHTTPError
			}
			c.metrics.recordAttempt(domain, outcome, elapsed)
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			span.SetAttributes(
				attribute.Int("http.status_code", resp.StatusCode),
				attribute.Int("http.attempts", attempt+1),
			)
			return resp, nil
		}

		if attempt == maxRetries {
			break
		}

		c.metrics.recordRetry(domain, reason)
		logger.Warn("request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxRetries+1),
			slog.String("reason", reason),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		if err := c.sleep(ctx, delay); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
	}

	c.metrics.recordExhausted(domain)
	err := fmt.Errorf("%w: %s %s after %d attempts: %w", ErrRetriesExhausted, method, rawURL, maxRetries+1, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "retries exhausted")
	logger.Error("request failed after retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr))
	return nil, err
}

// FetchJSON calls FetchWithRetry and decodes a 2xx JSON body into v.
// Other statuses return a *retry.HTTPError carrying the start of the body.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, req RequestOptions, opts FetchOptions, v any) error {
	if req.Header == nil {
		req.Header = make(http.Header)
	} else {
		req.Header = req.Header.Clone()
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if len(req.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.FetchWithRetry(ctx, rawURL, req, opts)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := string(bytes.TrimSpace(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &retry.HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	limited := io.LimitReader(resp.Body, c.config.MaxBodySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > c.config.MaxBodySize {
		return fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.config.MaxBodySize)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

// Stats reports the state of every domain bucket used so far.
func (c *Client) Stats(ctx context.Context) map[string]ratelimit.BucketStats {
	return c.limiter.Stats(ctx)
}

// ResetBucket forgets the recorded requests of domain.
func (c *Client) ResetBucket(ctx context.Context, domain string) error {
	return c.limiter.Reset(ctx, domain)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, opts RequestOptions, timeout time.Duration) (*http.Request, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if opts.Header != nil {
		req.Header = opts.Header.Clone()
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	return req, cancel, nil
}

// cancelOnClose releases the attempt context once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// discard drains a bounded amount so the connection can be reused.
func discard(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}

// IsRetriesExhausted reports whether err is a final failure after retries and
// returns the last HTTP error when there was one.
func IsRetriesExhausted(err error) (*retry.HTTPError, bool) {
	if !errors.Is(err, ErrRetriesExhausted) {
		return nil, false
	}
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, true
}
