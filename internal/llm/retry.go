package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryClient wraps a Client with exponential backoff on transient
// failures: transport errors, 408, 429 and 5xx. Anything else, such as
// a malformed response or a 4xx rejection, is returned immediately.
type RetryClient struct {
	inner    Client
	attempts uint64
	base     time.Duration
	logger   *slog.Logger
}

// NewRetryClient wraps inner. attempts is the number of retries after
// the first call; zero disables retry.
func NewRetryClient(inner Client, attempts int, base time.Duration, logger *slog.Logger) *RetryClient {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{inner: inner, attempts: uint64(attempts), base: base, logger: logger}
}

func (c *RetryClient) backoff() retry.Backoff {
	b := retry.NewExponential(c.base)
	b = retry.WithCappedDuration(10*c.base, b)
	b = retry.WithJitter(c.base/4, b)
	return retry.WithMaxRetries(c.attempts, b)
}

// Chat calls the wrapped client, retrying transient failures.
func (c *RetryClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out *ChatResponse
	attempt := 0
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		resp, err := c.inner.Chat(ctx, req)
		if err == nil {
			out = resp
			return nil
		}
		if ctx.Err() == nil && IsTransient(err) && uint64(attempt) <= c.attempts {
			c.logger.Warn("reasoning engine call failed, retrying",
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping passes through to the wrapped client without retry.
func (c *RetryClient) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
