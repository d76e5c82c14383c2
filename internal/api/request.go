package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/rickgao/tokenfeed/internal/auth"
	"github.com/rickgao/tokenfeed/internal/metrics"
)

// APIError represents an HTTP error status from the REST API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ApplicationError is a 2xx response whose envelope says "success":false.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return "api reported failure"
	}
	return "api reported failure: " + e.Message
}

// DecodeError is a response body that is not a valid envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// FetchError is returned when a fetch gives up, either because attempts ran
// out or because the last error was not retryable.
type FetchError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Resource, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Request describes one REST call.
type Request struct {
	Resource string // Label for logs and metrics
	Method   string // Defaults to GET
	Path     string
	Query    url.Values
}

// Retryable reports whether err should consume another attempt.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return true
	}
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Transport failure.
	return true
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	auth.SetBearer(req.Header, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// fetchOnce performs one attempt and unwraps the envelope.
func (c *Client) fetchOnce(ctx context.Context, req Request) (*Envelope, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	body, err := c.doRequest(ctx, method, req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Failed() {
		return nil, &ApplicationError{Message: env.Error}
	}
	return &env, nil
}

// FetchWithRetry performs req, retrying retryable failures. The delay after
// failed attempt i (0-based) is baseDelay*2^i. Concurrent calls for the same
// resource are not coalesced.
func (c *Client) FetchWithRetry(ctx context.Context, req Request) (*Envelope, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.baseDelay << uint(min(c.maxAttempts, 20))

	attempts := 0
	var lastErr error

	op := func() (*Envelope, error) {
		attempts++
		env, err := c.fetchOnce(ctx, req)
		if err == nil {
			c.metrics.IncFetch(req.Resource, metrics.OutcomeSuccess)
			return env, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			c.metrics.IncFetch(req.Resource, metrics.OutcomeFailure)
			return nil, backoff.Permanent(err)
		}
		if attempts >= c.maxAttempts {
			c.metrics.IncFetch(req.Resource, metrics.OutcomeFailure)
		} else {
			c.metrics.IncFetch(req.Resource, metrics.OutcomeRetry)
		}
		return nil, err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn("retrying request",
			"resource", req.Resource,
			"path", req.Path,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
		if c.onRetry != nil {
			c.onRetry(req.Resource, attempts, delay, err)
		}
	}

	env, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return env, nil
	}

	cause := lastErr
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = ctxErr
	}
	if cause == nil {
		cause = err
	}
	return nil, &FetchError{Resource: req.Resource, Attempts: attempts, Err: cause}
}

// fetchData runs req and decodes the envelope's data field into T.
func fetchData[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T

	env, err := c.FetchWithRetry(ctx, req)
	if err != nil {
		return out, err
	}
	if !hasData(env.Data) {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", req.Resource, err)
	}
	return out, nil
}

func hasData(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
