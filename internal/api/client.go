package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/tokenfeed/internal/metrics"
)

// Default retry policy.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 500 * time.Millisecond
)

// RetryFunc observes a scheduled retry. attempt is the 1-based number of the
// attempt that just failed.
type RetryFunc func(resource string, attempt int, delay time.Duration, err error)

// Client provides access to the token REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	maxAttempts int
	baseDelay   time.Duration
	onRetry     RetryFunc
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry policy. maxAttempts counts the first try;
// values below 1 mean a single attempt.
func WithRetries(maxAttempts int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithOnRetry registers a retry observer.
func WithOnRetry(fn RetryFunc) ClientOption {
	return func(c *Client) {
		c.onRetry = fn
	}
}
