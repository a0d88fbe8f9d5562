// Package delivery transmits queued event batches to the ingestion
// endpoint and drives the flush cycle. The client judges responses by
// status class only; the scheduler turns those judgements into queue
// operations.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	akerrors "github.com/attrkit/attrkit/pkg/attrkit/errors"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
)

// DefaultTimeout bounds a single delivery request.
const DefaultTimeout = 30 * time.Second

// Outcome is the scheduler-facing judgement of one send.
type Outcome int

const (
	// OutcomeSuccess confirms delivery; the batch can be acknowledged.
	OutcomeSuccess Outcome = iota

	// OutcomeRetryable means the batch should be requeued with backoff.
	OutcomeRetryable

	// OutcomePermanent means the server rejected the batch; retrying
	// would yield the same rejection.
	OutcomePermanent

	// OutcomeRateLimited means the server asked us to slow down,
	// possibly with an explicit Retry-After delay.
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Result describes one delivery attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

// Client posts JSON event batches to one ingestion endpoint with bearer
// authentication.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying HTTP client, e.g. one with
// platform-specific transport settings.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request. Non-positive values keep the default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientLogger sets the client logger. Nil disables logging.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient validates the endpoint and returns a ready client.
func NewClient(endpoint, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, &akerrors.ValidationError{Field: "apiKey", Message: "api key is required"}
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &akerrors.ValidationError{Field: "endpoint", Message: fmt.Sprintf("invalid endpoint URL %q", endpoint)}
	}

	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send posts one batch and classifies the response. Network errors and
// timeouts come back retryable; status codes map per the shared error
// taxonomy. An empty batch is a successful no-op.
func (c *Client) Send(ctx context.Context, events []event.Event) Result {
	if len(events) == 0 {
		return Result{Outcome: OutcomeSuccess}
	}

	body, err := json.Marshal(events)
	if err != nil {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("encode batch: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomePermanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		derr := &akerrors.DeliveryError{Endpoint: c.endpoint, Message: "request failed", Err: err}
		if c.logger != nil {
			c.logger.Warn("batch send failed",
				slog.Int("events", len(events)),
				slog.String("error", err.Error()),
			)
		}
		return Result{Outcome: OutcomeRetryable, Err: derr}
	}
	defer resp.Body.Close()

	// Body content is advisory only; drain it so the connection can be
	// reused, but cap the read.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result := Result{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Outcome = OutcomeSuccess
	} else {
		switch akerrors.ClassifyStatus(resp.StatusCode) {
		case akerrors.CategoryRateLimited:
			result.Outcome = OutcomeRateLimited
			result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		case akerrors.CategoryRetryable:
			result.Outcome = OutcomeRetryable
		default:
			result.Outcome = OutcomePermanent
		}
	}

	if result.Outcome != OutcomeSuccess {
		result.Err = &akerrors.DeliveryError{
			StatusCode: resp.StatusCode,
			Endpoint:   c.endpoint,
			Message:    fmt.Sprintf("server returned %s", resp.Status),
			RetryAfter: result.RetryAfter,
		}
	}

	if c.logger != nil {
		c.logger.Debug("batch sent",
			slog.Int("events", len(events)),
			slog.Int("status", resp.StatusCode),
			slog.String("outcome", result.Outcome.String()),
		)
	}
	return result
}

// parseRetryAfter handles the delta-seconds form; the HTTP-date form is
// rare from ingestion endpoints and falls back to zero (caller applies
// its own backoff).
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
