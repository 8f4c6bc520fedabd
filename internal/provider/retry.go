package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// retryPolicy bounds retries of model API calls on transient failures
// (network errors, 5xx, 429). Delays grow exponentially from BaseDelay.
type retryPolicy struct {
	Retries   int
	BaseDelay time.Duration
}

var defaultRetry = retryPolicy{Retries: 2, BaseDelay: time.Second}

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func (p retryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxElapsedTime = 0
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// do executes an HTTP request, retrying transient errors. Non-retryable
// responses (including 4xx other than 429) are returned to the caller.
func (p retryPolicy) do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	attempt := 0
	op := func() (*http.Response, error) {
		attempt++
		req, err := buildReq()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &retryableError{statusCode: resp.StatusCode, body: string(body)}
		}
		return resp, nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying model request", "attempt", attempt+1, "backoff", wait, "error", err)
	}

	resp, err := backoff.RetryNotifyWithData(op, p.newBackOff(ctx), notify)
	if err != nil {
		var re *retryableError
		if errors.As(err, &re) || attempt > p.Retries {
			return nil, fmt.Errorf("gave up after %d retries: %w", p.Retries, err)
		}
		return nil, err
	}
	return resp, nil
}
