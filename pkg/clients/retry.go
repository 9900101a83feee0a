package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryConfig configures retry behavior for HTTP calls
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryFunc      func(resp *http.Response, err error) bool
	CircuitBreaker *CircuitBreaker
}

// DefaultRetryConfig returns sensible defaults for HTTP retries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		RetryFunc:  DefaultShouldRetry,
	}
}

// NoRetryConfig disables retries entirely. Used for non-idempotent calls
// that must reach the server at most once.
func NoRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 0,
		RetryFunc:  func(*http.Response, error) bool { return false },
	}
}

// DefaultShouldRetry determines if a request should be retried.
// Retries on network errors, server errors, and rate limits.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// newRetryPolicy builds a failsafe retry policy from the config
//
//nolint:bodyclose // [*http.Response] here is a generic type parameter, not a response
func newRetryPolicy(config RetryConfig) retrypolicy.RetryPolicy[*http.Response] {
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	retryFunc := config.RetryFunc
	if retryFunc == nil {
		retryFunc = DefaultShouldRetry
	}

	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(config.BaseDelay, config.MaxDelay).
		WithMaxRetries(config.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			return retryFunc(resp, err)
		}).
		Build()
}

// DoWithRetry executes an HTTP request with backoff retry and an optional
// circuit breaker. The request body, if any, is snapshotted so every
// attempt sends a fresh copy.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, config RetryConfig) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}

	attempt := func() (*http.Response, error) {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		attemptReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
		if err != nil {
			return nil, err
		}
		attemptReq.Header = req.Header.Clone()
		if bodyBytes != nil {
			attemptReq.ContentLength = int64(len(bodyBytes))
		}
		return client.Do(attemptReq)
	}

	run := func() (*http.Response, error) {
		return failsafe.With(newRetryPolicy(config)).WithContext(ctx).Get(attempt)
	}

	if config.CircuitBreaker == nil {
		return run()
	}

	var resp *http.Response
	var err error
	cbErr := config.CircuitBreaker.Call(func() error {
		resp, err = run()
		if err != nil {
			return err
		}
		if resp != nil && resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		return nil
	})
	if cbErr != nil && err == nil && resp == nil {
		return nil, cbErr
	}
	return resp, err
}
