// Package api implements the network and drive metadata APIs over JSON/HTTPS.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/config"
	"github.com/cryptdrive/cdrive/internal/http"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/ratelimit"
)

const (
	retryWaitMin = 1 * time.Second
	retryWaitMax = 30 * time.Second

	// interval between two API usage log lines
	metricsWindow = 30 * time.Second

	maxErrorBody = 1024
)

// retryLogger adapts zerolog to retryablehttp.LeveledLogger
type retryLogger struct {
	logger *logging.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Info and Debug both map to debug; retryablehttp logs every request at these levels
func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// apiMetrics tracks API usage statistics
type apiMetrics struct {
	sync.Mutex
	totalCalls    int64
	windowStart   time.Time
	callsInWindow int64
}

// Client talks to the network API (buckets, presigned URLs) and the drive API
// (folders, file entries). It satisfies cloud.NetworkAPI and cloud.DriveAPI.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	token      string
	limiter    *ratelimit.RateLimiter
	logger     *logging.Logger
	metrics    *apiMetrics
}

// NewClient creates a new API client
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("API base URL is empty, set api_url in the config file or CDRIVE_API_URL")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	httpClient, err := http.ConfigureHTTPClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	return newClient(cfg.APIBaseURL, cfg.Token, httpClient, cfg.APIMaxRetries,
		ratelimit.NewAPIRateLimiter(cfg.RateLimit, logger), logger), nil
}

func newClient(baseURL, token string, httpClient *nethttp.Client, retryMax int, limiter *ratelimit.RateLimiter, logger *logging.Logger) *Client {
	log := logger.Component("api")

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	if retryMax >= 0 {
		retryClient.RetryMax = retryMax
	}
	retryClient.RetryWaitMin = retryWaitMin
	retryClient.RetryWaitMax = retryWaitMax
	retryClient.Logger = retryLogger{logger: log}
	// Return the last response after retries so status codes can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		limiter:    limiter,
		logger:     log,
		metrics: &apiMetrics{
			windowStart: time.Now(),
		},
	}
}

// doRequest performs an HTTP request with authentication and rate limiting
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}
	c.recordCall()

	var reqBody interface{}
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = jsonData
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, storage.AbortedOr(ctx, method+" "+path, fmt.Errorf("request failed: %w", err))
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Str("retry_after", resp.Header.Get("Retry-After")).
			Msg("throttled by the API")
	}
	return resp, nil
}

func (c *Client) recordCall() {
	c.metrics.Lock()
	defer c.metrics.Unlock()

	c.metrics.totalCalls++
	c.metrics.callsInWindow++

	if elapsed := time.Since(c.metrics.windowStart); elapsed >= metricsWindow {
		c.logger.Debug().
			Float64("req_per_sec", float64(c.metrics.callsInWindow)/elapsed.Seconds()).
			Int64("total_calls", c.metrics.totalCalls).
			Msg("API usage")
		c.metrics.callsInWindow = 0
		c.metrics.windowStart = time.Now()
	}
}

// doJSON performs a request, checks for a 2xx status and decodes the
// response into out when out is non-nil. name is used for conflict errors.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out interface{}, name string) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(op, name, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
}

// errNotFound is wrapped by lookups that found no matching entry
var errNotFound = errors.New("not found")

// IsNotFound reports whether err is a failed lookup.
func IsNotFound(err error) bool {
	if errors.Is(err, errNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == nethttp.StatusNotFound
}
