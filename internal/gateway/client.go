// Package gateway talks to a OneBot v11 implementation: it posts send actions
// to the HTTP API and receives message events over HTTP or WebSocket.
package gateway

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
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"cqbridge/internal/metrics"
)

// ClientConfig configures the OneBot HTTP API client.
type ClientConfig struct {
	APIBase     string
	AccessToken string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     time.Duration // fixed wait between timed-out attempts
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Client posts actions to the gateway HTTP API. Only timeouts are retried.
type Client struct {
	base        string
	token       string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:        strings.TrimRight(cfg.APIBase, "/"),
		token:       cfg.AccessToken,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		http:        cfg.HTTPClient,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Call posts params as JSON to <apiBase>/<action> and returns the decoded
// response body. Errors are ErrTimeout, *StatusError, *RejectedError, or a
// wrapped transport error.
func (c *Client) Call(ctx context.Context, action string, params any) (gjson.Result, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal %s params: %w", action, err)
	}
	url := c.base + "/" + action

	attempt := 0
	op := func() (gjson.Result, error) {
		attempt++
		c.metrics.DeliveryAttempt()
		res, err := c.attempt(ctx, url, body)
		if err == nil {
			return res, nil
		}
		if !isTimeout(err) || ctx.Err() != nil {
			return gjson.Result{}, backoff.Permanent(err)
		}
		c.logger.Warn("gateway request timed out", "action", action, "attempt", attempt, "max_attempts", c.maxAttempts)
		return gjson.Result{}, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.backoff), uint64(c.maxAttempts-1)), ctx)
	res, err := backoff.RetryWithData(op, b)
	if err != nil && isTimeout(err) && ctx.Err() == nil {
		return gjson.Result{}, ErrTimeout
	}
	return res, err
}

func (c *Client) attempt(ctx context.Context, url string, body []byte) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	res := gjson.ParseBytes(data)
	if res.Get("status").String() == "failed" {
		return res, &RejectedError{Reason: failureReason(res)}
	}
	return res, nil
}

// failureReason picks the most specific explanation a OneBot reply carries.
func failureReason(res gjson.Result) string {
	if m := res.Get("message").String(); m != "" {
		return m
	}
	if w := res.Get("wording").String(); w != "" {
		return w
	}
	return "Unknown error"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
