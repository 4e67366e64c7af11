package knms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/services"
)

const (
	// DefaultTimeout bounds one match request. Large batches are slow.
	DefaultTimeout = 120 * time.Second
	// DefaultRate is the default number of requests per second.
	DefaultRate = 1.0

	maxResponseBytes = 64 << 20
)

// Matcher sends one batch of names to a match service.
type Matcher interface {
	Match(ctx context.Context, names []string) ([]Row, error)
}

// Client posts name batches to the match endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

var _ Matcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRate sets the maximum request rate. Non-positive values disable pacing.
func WithRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithTimeout sets the per-request timeout. It has no effect on a client
// supplied through WithHTTPClient.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "knms")
	}
}

// NewClient creates a match service client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "knms", "new client", "base url required", nil)
	}
	client := &Client{
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), 1),
		timeout: DefaultTimeout,
		logger:  logging.NewComponentLogger(nil, "knms"),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}
	return client, nil
}

// Match posts names as a JSON array and parses the response.
func (c *Client) Match(ctx context.Context, names []string) ([]Row, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("knms rate limiter: %w", err)
	}

	payload, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode knms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "knms", "build request", c.baseURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ctxErr
		}
		if isTimeout(err) {
			return nil, services.Wrap(services.ErrTimeout, "knms", "match",
				fmt.Sprintf("%d names (latency=%v)", len(names), latency), err)
		}
		return nil, services.Wrap(services.ErrTransient, "knms", "match",
			fmt.Sprintf("%d names (latency=%v)", len(names), latency), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, services.Wrap(services.ErrTimeout, "knms", "read response", "", err)
		}
		return nil, services.Wrap(services.ErrTransient, "knms", "read response", "", err)
	}

	logging.WithContext(ctx, c.logger).Debug("knms request complete",
		logging.Int("names", len(names)),
		logging.Int("status", resp.StatusCode),
		logging.Duration("latency", latency),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, len(names))
	}
	return ParseResponse(body)
}

// StatusError records a non-200 response.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("knms returned %d (retry after %v)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("knms returned %d", e.StatusCode)
}

func statusError(resp *http.Response, count int) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	detail := fmt.Sprintf("%d names", count)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		statusErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return services.Wrap(services.ErrRateLimited, "knms", "match", detail, statusErr)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return services.Wrap(services.ErrTimeout, "knms", "match", detail, statusErr)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "knms", "match", detail, statusErr)
	default:
		return services.Wrap(services.ErrMalformed, "knms", "match", "request rejected: "+detail, statusErr)
	}
}

// RetryAfter returns the server's requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter, true
	}
	return 0, false
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := when.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
