// Package client provides the HTTP client for bulk endpoints, with quota
// tracking, retries and error classification.
package client

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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bulk-request-client/pkg/logging"
	"github.com/Sternrassler/bulk-request-client/pkg/ratelimit"
)

// Client is the bulk endpoint HTTP client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis client for shared quota state
	Redis *redis.Client

	// BaseURL of the API, e.g. "https://api.example.com/v2"
	BaseURL string

	// UserAgent header sent with every request
	UserAgent string

	// AuthToken is sent as a bearer token when set
	AuthToken string

	// QuotaThreshold blocks requests when the remaining quota is below it
	QuotaThreshold int

	// Timeout per HTTP attempt
	Timeout time.Duration

	// MaxAttempts overrides the per error class attempt count when positive
	MaxAttempts int

	// InitialBackoff overrides the per error class initial backoff when positive
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, baseURL, userAgent string) Config {
	return Config{
		Redis:          redis,
		BaseURL:        baseURL,
		UserAgent:      userAgent,
		QuotaThreshold: ratelimit.DefaultThresholdCritical,
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new bulk client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.QuotaThreshold < 1 {
		return nil, fmt.Errorf("quota_threshold must be >= 1 (got %d)", cfg.QuotaThreshold)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := logging.NewLogger("bulk-client")

	rateLimiter := ratelimit.NewTracker(cfg.Redis, logger)
	th := rateLimiter.Thresholds()
	th.Critical = cfg.QuotaThreshold
	if th.Warning <= th.Critical {
		th.Warning = th.Critical * 4
	}
	if th.Healthy < th.Warning {
		th.Healthy = th.Warning
	}
	rateLimiter.SetThresholds(th)

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rateLimiter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs an HTTP request with quota gating, retries and error
// classification.
//
// Retryable failures (5xx, 429, network) are retried with backoff and
// reported as errors once exhausted. Other 4xx responses are returned to the
// caller as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	path := req.URL.Path

	startTime := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("path", path).
			Msg("Request blocked by rate limiter")
		httpRequestsTotal.WithLabelValues(path, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	c.logger.Debug().
		Str("path", path).
		Str("method", req.Method).
		Msg("Executing bulk request")

	var resp *http.Response
	attempt := 0

	retryErr := retryWithBackoff(ctx, func() error {
		attempt++
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("path", path).Msg("HTTP request failed")
			httpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			httpRequestsTotal.WithLabelValues(path, "network_error").Inc()
			return &APIError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        reqErr,
			}
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}

		httpRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			httpErrorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("path", path).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Int("attempt", attempt).
				Msg("Bulk request error")

			if shouldRetry(errClass) {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Message:    resp.Status,
				}
			}
		}

		return nil
	}, classifyError, c.retryConfig)

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// Post sends body as JSON to path, relative to the base URL.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.Do(req)
}

// retryConfig applies the configured overrides to the per class defaults.
func (c *Client) retryConfig(errorClass ErrorClass) RetryConfig {
	config := RetryConfigForErrorClass(errorClass)
	if c.config.MaxAttempts > 0 {
		config.MaxAttempts = c.config.MaxAttempts
	}
	if c.config.InitialBackoff > 0 {
		config.InitialBackoff = c.config.InitialBackoff
	}
	return config
}

// CallBudget returns the longest a single Do call can take: every attempt
// running into Timeout, the largest jittered backoff between attempts, and
// one throttle wait. Deadlines around Do shorter than this cut retries off.
func (c *Client) CallBudget() time.Duration {
	var budget time.Duration
	for _, class := range []ErrorClass{ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork} {
		config := c.retryConfig(class)
		d := time.Duration(config.MaxAttempts) * c.config.Timeout
		for attempt := 1; attempt < config.MaxAttempts; attempt++ {
			d += backoffFor(config, attempt) * 6 / 5
		}
		budget = max(budget, d)
	}
	return budget + c.rateLimiter.ThrottleDelay()
}

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyError recovers the error class of an attempt failure.
func classifyError(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the quota tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
