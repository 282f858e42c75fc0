// Package reliability provides bounded retry with exponential backoff and
// per-dependency circuit breaking for remote marketplace calls.
package reliability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Executor composes the two policies as breaker(key, retry(op)): all retries
// of one logical operation count as a single breaker outcome, and an open
// circuit fails fast without consuming any retry budget.
type Executor struct {
	breakers *BreakerRegistry
	retry    RetryPolicy
	logger   *zap.Logger
	onRetry  func(key string, attempt int, err error)
	paused   func(key string) time.Duration
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithRetryHook observes every retry, typically to count them
func WithRetryHook(fn func(key string, attempt int, err error)) ExecutorOption {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// WithPauseLookup makes retries of key wait out any pause the rate limiter
// holds for it, so a 429 is not answered with more calls
func WithPauseLookup(fn func(key string) time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.paused = fn
	}
}

// NewExecutor creates an Executor
func NewExecutor(breakers *BreakerRegistry, retry RetryPolicy, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		breakers: breakers,
		retry:    retry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op under the breaker for key with retries inside it
func (e *Executor) Execute(ctx context.Context, key string, op func(context.Context) error) error {
	policy := e.retry
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.Warn("Retrying marketplace call",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.onRetry != nil {
			e.onRetry(key, attempt, err)
		}
		if userHook != nil {
			userHook(attempt, err, delay)
		}
	}

	if e.paused != nil {
		hint := policy.MinDelay
		if hint == nil {
			hint = RetryAfterHint
		}
		policy.MinDelay = func(err error) time.Duration {
			return max(hint(err), e.paused(key))
		}
	}

	return e.breakers.Get(key).Execute(ctx, func(ctx context.Context) error {
		return policy.Do(ctx, op)
	})
}

// Breakers exposes the registry for status reporting
func (e *Executor) Breakers() *BreakerRegistry {
	return e.breakers
}

// Call is Execute for operations that return a value
func Call[T any](ctx context.Context, e *Executor, key string, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, key, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
