package scanmatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultFetchTimeout bounds one HTTP request of a map download
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of download attempts per map
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// Valetudo map exports stay far below this
	maxMapBytes = 50 << 20
)

// MapClient downloads robot maps from the Valetudo REST API
// (/api/v2/robot/state/map). Failed requests and non-200 answers are retried
// with doubling delays; a Retry-After header lengthens the delay. Payloads
// that do not decode are returned immediately.
type MapClient struct {
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// FetchOption configures a MapClient
type FetchOption func(*MapClient)

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) FetchOption {
	return func(c *MapClient) { c.timeout = d }
}

// WithMaxRetries sets the number of attempts, at least one is always made
func WithMaxRetries(n int) FetchOption {
	return func(c *MapClient) { c.attempts = max(n, 1) }
}

// WithBaseBackoff sets the delay before the second attempt
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *MapClient) { c.backoff = d }
}

// WithHTTPClient replaces the HTTP client; WithTimeout is then ignored
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *MapClient) { c.client = client }
}

// WithFetchLogger logs failed attempts
func WithFetchLogger(logger *zap.Logger) FetchOption {
	return func(c *MapClient) { c.logger = logger }
}

// NewMapClient creates a map client
func NewMapClient(opts ...FetchOption) *MapClient {
	c := &MapClient{
		timeout:  DefaultFetchTimeout,
		attempts: DefaultMaxRetries,
		backoff:  defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	c.logger = orNop(c.logger)
	return c
}

// FetchMapFromAPI downloads and decodes one map with a throwaway MapClient
func FetchMapFromAPI(ctx context.Context, apiURL string, opts ...FetchOption) (*ValetudoMap, error) {
	return NewMapClient(opts...).Fetch(ctx, apiURL)
}

// Fetch downloads and decodes the map at apiURL
func (c *MapClient) Fetch(ctx context.Context, apiURL string) (*ValetudoMap, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch map: API URL is empty")
	}

	var lastErr error
	delay := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		body, hint, err := c.get(ctx, apiURL)
		if err == nil {
			m, err := DecodeMapData(body)
			if err != nil {
				return nil, fmt.Errorf("fetch map: %w", err)
			}
			return m, nil
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}

		wait := max(delay, hint)
		c.logger.Warn("map download failed",
			zap.String("url", apiURL),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch map: %w", ctx.Err())
		case <-time.After(wait):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("fetch map: all %d attempts failed: %w", c.attempts, lastErr)
}

// get performs one request. On failure it also returns the server's
// Retry-After hint, zero when absent.
func (c *MapClient) get(ctx context.Context, apiURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: %w", apiURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, retryAfter(resp.Header), fmt.Errorf("GET %s: status %d", apiURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMapBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", apiURL, err)
	}
	return data, 0, nil
}

// retryAfter reads a Retry-After header given in seconds
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
