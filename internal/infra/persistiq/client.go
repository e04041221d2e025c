// Package persistiq is the HTTP transport for the PersistIQ REST API. It
// handles authentication headers, client-side rate limiting, retries with
// exponential backoff and decoding of responses into extract.Page values.
package persistiq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NickLeoMartin/tap-persistiq/internal/config"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
)

var _ extract.Fetcher = (*Client)(nil)

// RetryObserver is told about every scheduled retry before the client sleeps.
type RetryObserver func(attempt int, wait time.Duration, err error)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithRetryObserver registers a hook invoked before each retry sleep.
func WithRetryObserver(fn RetryObserver) Option { return func(c *Client) { c.onRetry = fn } }

// WithRateLimiter replaces the limiter built from config.
func WithRateLimiter(rl *common.RateLimiter) Option { return func(c *Client) { c.rateLimiter = rl } }

// Client talks to the PersistIQ API.
type Client struct {
	baseURL     *url.URL
	accessToken string
	userAgent   string

	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	retry       config.RetryConfig
	onRetry     RetryObserver

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a client from the tap configuration. cfg must already
// have defaults applied.
func NewClient(cfg *config.Config, log *logger.Logger, tracer trace.Tracer, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}

	c := &Client{
		baseURL:     base,
		accessToken: cfg.AccessToken,
		userAgent:   cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout.Duration,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		// PersistIQ allows 1000 calls per minute by default.
		rateLimiter: common.NewWindowRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Per.Duration),
		retry:       cfg.Retry,
		logger:      log.With("component", "persistiq.client"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check verifies the access token by requesting the first page of users.
func (c *Client) Check(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "persistiq.check")
	defer span.End()

	_, err := c.Fetch(ctx, extract.Request{
		Stream:  "users",
		Path:    "users",
		Query:   url.Values{"page": []string{"1"}},
		DataKey: "users",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "access check failed")
		return fmt.Errorf("access token check failed: %w", err)
	}
	return nil
}

// Fetch performs a GET for req, retrying transient failures up to the
// configured attempt ceiling.
func (c *Client) Fetch(ctx context.Context, req extract.Request) (extract.Page, error) {
	ctx, span := c.tracer.Start(ctx, "persistiq.fetch",
		trace.WithAttributes(
			attribute.String("stream", req.Stream),
			attribute.String("path", req.Path),
			attribute.String("page", req.Query.Get("page")),
		))
	defer span.End()

	var (
		page    extract.Page
		attempt = 1
	)
	operation := func() error {
		var err error
		page, err = c.do(ctx, req)
		if err == nil {
			return nil
		}
		if extract.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		span.AddEvent("retry_scheduled", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("wait", wait.String()),
		))
		c.logger.Warn(ctx, "transient error, retrying",
			"stream", req.Stream,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err,
		)
		if c.onRetry != nil {
			c.onRetry(attempt, wait, err)
		}
		attempt++
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return extract.Page{}, fmt.Errorf("fetch %s canceled after %d attempt(s): %w", req.Path, attempt, errors.Join(ctxErr, err))
		}
		if extract.IsRetryable(err) {
			// The context backoff stops early when the deadline falls before
			// the next wait; that is an expiry, not an exhausted budget.
			if _, ok := ctx.Deadline(); ok && attempt < c.retry.MaxAttempts {
				return extract.Page{}, fmt.Errorf("fetch %s abandoned after %d attempt(s), deadline precedes next retry: %w",
					req.Path, attempt, errors.Join(context.DeadlineExceeded, err))
			}
			return extract.Page{}, fmt.Errorf("fetch %s failed after %d attempt(s): %w", req.Path, attempt, err)
		}
		return extract.Page{}, err
	}

	span.SetAttributes(
		attribute.String("page_kind", page.Kind.String()),
		attribute.Int("record_count", len(page.Records)),
		attribute.Bool("has_next", page.HasNext()),
	)
	return page, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retry.InitialWait.Duration
	expo.MaxInterval = c.retry.MaxWait.Duration
	expo.Multiplier = c.retry.Multiplier
	// Deterministic delays: every retry waits strictly longer than the last
	// until MaxInterval is reached.
	expo.RandomizationFactor = 0
	// The attempt ceiling bounds the retries, not wall time.
	expo.MaxElapsedTime = 0

	maxRetries := 0
	if c.retry.MaxAttempts > 1 {
		maxRetries = c.retry.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries)), ctx)
}

// do executes a single HTTP round trip and maps the outcome.
func (c *Client) do(ctx context.Context, req extract.Request) (extract.Page, error) {
	ctx, span := c.tracer.Start(ctx, "persistiq.do_request")
	defer span.End()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return extract.Page{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	endpoint := c.endpoint(req.Path, req.Query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return extract.Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.accessToken)
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	span.SetAttributes(attribute.String("url", endpoint))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return extract.Page{}, fmt.Errorf("request canceled: %w", ctx.Err())
		}
		return extract.Page{}, extract.NewTransientTransportError(0, nil, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.Int("status_code", resp.StatusCode),
		attribute.String("status", resp.Status),
	)

	c.updateRateLimits(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return extract.Page{}, extract.NewTransientTransportError(resp.StatusCode, nil, fmt.Errorf("reading body: %w", err))
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		span.RecordError(err)
		return extract.Page{}, err
	}

	page, err := decodePage(req, body)
	if err != nil {
		span.RecordError(err)
		return extract.Page{}, err
	}
	return page, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// classifyStatus maps non-2xx responses onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return extract.NewTransientTransportError(status, errorMessages(body), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return extract.NewAuthError(status, errorMessages(body))
	default:
		return extract.NewClientRequestError(status, errorMessages(body))
	}
}

// errorMessages extracts "reason: message" pairs from a PersistIQ error
// payload, falling back to the raw body.
func errorMessages(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	var payload struct {
		Status string          `json:"status"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil || len(payload.Error) == 0 {
		return []string{truncate(string(trimmed), 512)}
	}

	type detail struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	format := func(d detail) string {
		switch {
		case d.Reason != "" && d.Message != "":
			return d.Reason + ": " + d.Message
		case d.Message != "":
			return d.Message
		default:
			return d.Reason
		}
	}

	var list []detail
	if err := json.Unmarshal(payload.Error, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, d := range list {
			if m := format(d); m != "" {
				msgs = append(msgs, m)
			}
		}
		return msgs
	}
	var one detail
	if err := json.Unmarshal(payload.Error, &one); err == nil && format(one) != "" {
		return []string{format(one)}
	}
	var text string
	if err := json.Unmarshal(payload.Error, &text); err == nil && text != "" {
		return []string{text}
	}
	return []string{truncate(string(trimmed), 512)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// updateRateLimits tightens the limiter when the API advertises its quota via
// X-RateLimit headers. It keeps 10% headroom.
func (c *Client) updateRateLimits(headers http.Header) {
	remainingVal, _ := strconv.ParseInt(headers.Get("X-RateLimit-Remaining"), 10, 64)
	resetVal, _ := strconv.ParseInt(headers.Get("X-RateLimit-Reset"), 10, 64)
	limitVal, _ := strconv.ParseInt(headers.Get("X-RateLimit-Limit"), 10, 64)

	if remainingVal > 0 && resetVal > 0 && limitVal > 0 {
		duration := time.Until(time.Unix(resetVal, 0))
		if duration > 0 {
			rps := float64(remainingVal) / duration.Seconds()
			burst := int(remainingVal / 10)
			if burst < 1 {
				burst = 1
			}
			c.rateLimiter.UpdateLimits(rps*0.9, burst)
		}
	}
}
