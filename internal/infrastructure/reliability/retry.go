package reliability

import (
	"context"
	"math"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// RetryPolicy configures bounded retry with exponential backoff
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt; a
	// permanently failing operation runs MaxRetries+1 times
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	ShouldRetry func(error) bool
	// MinDelay is the least a failure must wait before the next attempt,
	// whatever the backoff says. Defaults to RetryAfterHint.
	MinDelay func(error) time.Duration
	// MaxRetryAfter bounds a server supplied Retry-After hint. Defaults to 5m.
	MaxRetryAfter time.Duration
	// OnRetry is called before sleeping ahead of retry number attempt (1-based)
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 retries, 1s base delay, 30s cap and factor 2
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before retry n (0-indexed):
// min(BaseDelay × Multiplier^n, MaxDelay)
func (p RetryPolicy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, the predicate rejects its error, the retry
// budget is spent or ctx ends. The last error from op is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !shouldRetry(err) || ctx.Err() != nil {
			return err
		}

		delay := p.Delay(attempt)
		if floor := p.minDelay(err); floor > delay {
			delay = floor
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

func (p RetryPolicy) minDelay(err error) time.Duration {
	var d time.Duration
	if p.MinDelay != nil {
		d = p.MinDelay(err)
	} else {
		d = RetryAfterHint(err)
	}
	limit := p.MaxRetryAfter
	if limit <= 0 {
		limit = defaultMaxRetryAfter
	}
	return min(d, limit)
}

const defaultMaxRetryAfter = 5 * time.Minute

// RetryAfterHint returns the Retry-After a marketplace attached to a rate
// limited error, or 0
func RetryAfterHint(err error) time.Duration {
	if me, ok := marketplace.AsMarketplaceError(err); ok && me.Kind == marketplace.ErrorKindRateLimited {
		return me.RetryAfter
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
