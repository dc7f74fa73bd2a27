package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/promptlens/core/internal/apperrors"
)

const providerName = "openai"

// ResilientClient wraps a completion client with a rate limiter, a circuit
// breaker, and bounded retries. The breaker trips after consecutive provider
// failures; while open, calls fail fast with a transient provider error so
// job-level retry policies can back off instead of hammering the API.
type ResilientClient struct {
	inner    Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
}

var _ Client = (*ResilientClient)(nil)

// ResilientOption configures a ResilientClient.
type ResilientOption func(*ResilientClient)

// WithRateLimit caps outbound calls at rps requests per second.
func WithRateLimit(rps float64) ResilientOption {
	return func(c *ResilientClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

// WithRetryAttempts sets how many times a failing call is attempted.
func WithRetryAttempts(n int) ResilientOption {
	return func(c *ResilientClient) {
		if n > 0 {
			c.attempts = uint(n)
		}
	}
}

// NewResilientClient wraps inner with provider resilience.
func NewResilientClient(inner Client, opts ...ResilientOption) *ResilientClient {
	c := &ResilientClient{
		inner:    inner,
		attempts: 3,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete runs the completion through the limiter, breaker, and retry loop.
// Context cancellation and open-breaker rejections are not retried.
func (c *ResilientClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response

	err := retry.Do(
		func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}

			result, err := c.breaker.Execute(func() (any, error) {
				return c.inner.Complete(ctx, req)
			})
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return retry.Unrecoverable(err)
				}
				if ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return err
			}

			resp = result.(*Response)

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		transient := errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) ||
			ctx.Err() != nil
		return nil, apperrors.NewProviderError(providerName, transient, err)
	}

	return resp, nil
}
