// Package teacherapi talks HTTP to the teacher-side server: it fetches
// distributed material and feedback, and delivers recorded responses.
package teacherapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"classlink/internal/models"
)

const (
	userAgent = "ClassLink/1.0"

	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 5
	defaultRateBurst = 10

	// fetch retries cover a briefly overloaded teacher laptop
	fetchAttempts     = 3
	fetchInitialDelay = 500 * time.Millisecond
	fetchMaxDelay     = 4 * time.Second
)

var (
	// ErrNotFound means the server has nothing for this device right now.
	ErrNotFound = errors.New("nothing available")
	// ErrNoServer means no base URL has been set yet.
	ErrNoServer = errors.New("teacher server address unknown")
)

type Options struct {
	BaseURL    string
	DeviceID   string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client handles API requests with rate limiting.
type Client struct {
	deviceID    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger

	mu      sync.RWMutex
	baseURL string
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaultRateBurst
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		deviceID:    opts.DeviceID,
		httpClient:  opts.HTTPClient,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		logger:      opts.Logger,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
	}
}

// SetBaseURL points the client at a newly discovered server.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// FetchMaterial returns the material currently distributed to deviceID.
func (c *Client) FetchMaterial(ctx context.Context, deviceID string) (*models.Material, error) {
	var material models.Material
	endpoint := "/api/materials/" + url.PathEscape(deviceID)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &material, fetchAttempts); err != nil {
		return nil, fmt.Errorf("failed to fetch material: %w", err)
	}
	return &material, nil
}

// FetchFeedback returns the feedback the teacher returned to deviceID.
func (c *Client) FetchFeedback(ctx context.Context, deviceID string) (*models.Feedback, error) {
	var feedback models.Feedback
	endpoint := "/api/feedback/" + url.PathEscape(deviceID)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &feedback, fetchAttempts); err != nil {
		return nil, fmt.Errorf("failed to fetch feedback: %w", err)
	}
	return &feedback, nil
}

type submitRequest struct {
	DeviceID string `json:"device_id"`
	models.PendingResponse
}

// Transmit delivers one response in a single attempt. Retrying is the
// caller's business.
func (c *Client) Transmit(ctx context.Context, response models.PendingResponse) error {
	body, err := json.Marshal(submitRequest{DeviceID: c.deviceID, PendingResponse: response})
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/responses", body, nil, 1); err != nil {
		return fmt.Errorf("failed to submit response %s: %w", response.ID, err)
	}
	return nil
}

// doRequest performs the HTTP request, retrying network errors, 429 and 5xx
// up to attempts times with doubling delay.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body []byte, result any, attempts int) error {
	base := c.BaseURL()
	if base == "" {
		return ErrNoServer
	}
	fullURL := base + endpoint

	var lastErr error
	delay := fetchInitialDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		retry, err := c.once(ctx, method, fullURL, body, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == attempts {
			break
		}

		c.logger.Warn("teacher_api_retry",
			"method", method,
			"endpoint", endpoint,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = minDuration(delay*2, fetchMaxDelay)
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, fullURL string, body []byte, result any) (retry bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// only fetches distinguish "nothing available"; a submit just needs 2xx
	expectsBody := result != nil
	switch {
	case expectsBody && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent):
		return false, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return shouldRetry(resp.StatusCode), fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if !expectsBody {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return false, nil
}

// shouldRetry determines if an HTTP status code warrants a retry
func shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
