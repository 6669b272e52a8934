package userapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// UserLookup resolves a user identifier to a record. Absence is reported as
// ErrUserNotFound, never as a transport error.
type UserLookup interface {
	GetUser(ctx context.Context, id int) (models.UserRecord, error)
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUpstreamFailure = errors.New("user api failure")
)

// Client is the HTTP client for the user API (GET /users/{id}).
type Client struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewClient creates a user API client with default retry settings.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	return NewClientWithRetry(baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewClientWithRetry creates a user API client with explicit retry settings.
func NewClientWithRetry(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("user api base URL is required")
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}

	return &Client{
		baseURL:        baseURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker installs a breaker around individual lookup calls.
// When the circuit is open, GetUser fails fast without an HTTP request.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// GetUser resolves id to a user record. A backend 404 maps to ErrUserNotFound
// immediately; transient failures are retried with exponential backoff.
func (c *Client) GetUser(ctx context.Context, id int) (models.UserRecord, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UserLookupRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.UserRecord{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		user, err := c.callAPI(ctx, id)
		if err == nil {
			return user, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return models.UserRecord{}, err
		}
	}

	return models.UserRecord{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Client) callAPI(ctx context.Context, id int) (models.UserRecord, error) {
	if c.breaker == nil {
		return c.doLookup(ctx, id)
	}

	var user models.UserRecord
	err := c.breaker.Call(func() error {
		var callErr error
		user, callErr = c.doLookup(ctx, id)
		if errors.Is(callErr, ErrUserNotFound) {
			// A clean 404 is a healthy upstream answer, not a failure.
			return nil
		}
		return callErr
	})
	if err != nil {
		return models.UserRecord{}, err
	}
	if user == (models.UserRecord{}) {
		return models.UserRecord{}, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	return user, nil
}

func (c *Client) doLookup(ctx context.Context, id int) (models.UserRecord, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/users/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		observability.UserLookupsTotal.WithLabelValues("error").Inc()
		return models.UserRecord{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UserLookupsTotal.WithLabelValues("error").Inc()
		observability.UserLookupDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.UserRecord{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.UserRecord{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UserLookupsTotal.WithLabelValues(status).Inc()
	observability.UserLookupDuration.WithLabelValues(status).Observe(duration)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.UserRecord{}, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return models.UserRecord{}, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("read response body: %w", err)
	}

	var user models.UserRecord
	if err := json.Unmarshal(body, &user); err != nil {
		return models.UserRecord{}, fmt.Errorf("parse response: %w", err)
	}
	if user.ID == 0 {
		user.ID = id
	}
	return user, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserNotFound) {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection") {
		return true
	}

	return false
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
