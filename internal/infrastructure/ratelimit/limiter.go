// Package ratelimit schedules outbound marketplace calls under per-marketplace
// budgets: a concurrency cap, a minimum spacing between starts, a refreshing
// request reservoir and a pause window driven by 429 responses.
package ratelimit

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Call priorities. Lower values are dispatched first.
const (
	PriorityOrder   = 1
	PriorityDefault = 5
	PrioritySync    = 7
)

// ErrLimiterClosed is returned for jobs still queued when a limiter closes
var ErrLimiterClosed = errors.New("ratelimit: limiter closed")

// Policy is the runtime budget of one marketplace
type Policy struct {
	// MaxConcurrent caps calls in flight, 0 for unbounded
	MaxConcurrent int
	// MinSpacing is the minimum gap between two call starts
	MinSpacing time.Duration
	// Reservoir is the number of calls allowed per ReservoirRefresh, 0 for unbounded
	Reservoir        int
	ReservoirRefresh time.Duration
	// DefaultRetryAfter is the pause applied to a 429 without a Retry-After hint
	DefaultRetryAfter time.Duration
	// MaxPause bounds any single pause
	MaxPause time.Duration
}

// PolicyFrom converts stored connection settings into a runtime policy
func PolicyFrom(p marketplace.RateLimitPolicy) Policy {
	return Policy{
		MaxConcurrent:    p.MaxConcurrent,
		MinSpacing:       p.MinSpacing,
		Reservoir:        p.Reservoir,
		ReservoirRefresh: p.ReservoirRefresh,
	}.withDefaults()
}

// DefaultPolicy returns the built-in policy for a marketplace
func DefaultPolicy(name marketplace.Name) Policy {
	return PolicyFrom(marketplace.DefaultRateLimitPolicy(name))
}

func (p Policy) withDefaults() Policy {
	if p.DefaultRetryAfter <= 0 {
		p.DefaultRetryAfter = 60 * time.Second
	}
	if p.MaxPause <= 0 {
		p.MaxPause = 5 * time.Minute
	}
	if p.Reservoir > 0 && p.ReservoirRefresh <= 0 {
		p.ReservoirRefresh = time.Minute
	}
	return p
}

// Stats is a point-in-time view of a limiter
type Stats struct {
	Marketplace       string    `json:"marketplace"`
	Queued            int       `json:"queued"`
	InFlight          int       `json:"in_flight"`
	MaxConcurrent     int       `json:"max_concurrent"`
	ReservoirEnforced bool      `json:"reservoir_enforced"`
	Reservoir         int       `json:"reservoir"`
	ReservoirResetAt  time.Time `json:"reservoir_reset_at,omitempty"`
	PausedUntil       time.Time `json:"paused_until,omitempty"`
	Dispatched        uint64    `json:"dispatched"`
	Pauses            uint64    `json:"pauses"`
}

// Limiter dispatches queued calls for a single marketplace.
//
// A dispatcher goroutine owns the decision of when the head of the queue may
// start. Calls run on their own goroutines and release their concurrency slot
// when they return.
//
// Thread Safety: all methods are safe for concurrent use.
type Limiter struct {
	name   marketplace.Name
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	policy   Policy
	queue    jobQueue
	seq      uint64
	inFlight int
	closed   bool

	// reservoir state; quotaObserved enables it from response headers alone
	reservoir        int
	reservoirResetAt time.Time
	observedLimit    int
	quotaObserved    bool

	pausedUntil time.Time
	spacing     *rate.Limiter

	dispatched uint64
	pauses     uint64

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLimiter creates a limiter and starts its dispatcher
func NewLimiter(name marketplace.Name, policy Policy, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		name:   name,
		logger: logger.With(zap.String("marketplace", name.String())),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	l.applyPolicyLocked(policy.withDefaults(), l.now())
	go l.run()
	return l
}

// Name returns the marketplace this limiter guards
func (l *Limiter) Name() marketplace.Name {
	return l.name
}

// Submit queues fn and returns a channel receiving its result. Jobs of equal
// priority start in submission order.
func (l *Limiter) Submit(ctx context.Context, priority int, fn func(context.Context) error) <-chan error {
	j, err := l.enqueue(ctx, priority, fn)
	if err != nil {
		done := make(chan error, 1)
		done <- err
		return done
	}
	return j.done
}

// Schedule queues fn and blocks until it has run. If ctx ends while the job is
// still queued it is withdrawn and ctx.Err() is returned; a job that already
// started is awaited.
func (l *Limiter) Schedule(ctx context.Context, priority int, fn func(context.Context) error) error {
	j, err := l.enqueue(ctx, priority, fn)
	if err != nil {
		return err
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		l.mu.Lock()
		if j.index >= 0 {
			heap.Remove(&l.queue, j.index)
			l.mu.Unlock()
			l.signal()
			return ctx.Err()
		}
		l.mu.Unlock()
		return <-j.done
	}
}

func (l *Limiter) enqueue(ctx context.Context, priority int, fn func(context.Context) error) (*job, error) {
	j := &job{
		priority: priority,
		ctx:      ctx,
		fn:       fn,
		done:     make(chan error, 1),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLimiterClosed
	}
	l.seq++
	j.seq = l.seq
	heap.Push(&l.queue, j)
	l.mu.Unlock()

	l.signal()
	return j, nil
}

// Pause stops dispatching for retryAfter, or the policy default when zero.
// The pause is clamped to MaxPause and never shortens an existing pause.
func (l *Limiter) Pause(retryAfter time.Duration) time.Time {
	l.mu.Lock()
	if retryAfter <= 0 {
		retryAfter = l.policy.DefaultRetryAfter
	}
	if retryAfter > l.policy.MaxPause {
		retryAfter = l.policy.MaxPause
	}
	until := l.now().Add(retryAfter)
	if until.After(l.pausedUntil) {
		l.pausedUntil = until
		l.pauses++
	}
	until = l.pausedUntil
	l.mu.Unlock()

	l.logger.Warn("Marketplace rate limited, pausing dispatch",
		zap.Duration("retry_after", retryAfter),
		zap.Time("paused_until", until),
	)
	l.signal()
	return until
}

// PauseRemaining returns how long dispatch stays paused, 0 when it is not
func (l *Limiter) PauseRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(l.pausedUntil.Sub(l.now()), 0)
}

// ObserveQuota replaces the reservoir with the budget reported by the
// marketplace. Live headers take precedence over the configured reservoir
// until the reported reset time passes.
func (l *Limiter) ObserveQuota(q marketplace.Quota) {
	l.mu.Lock()
	now := l.now()
	if q.Limit > 0 {
		l.observedLimit = q.Limit
	}
	remaining := q.Remaining
	if remaining < 0 {
		remaining = 0
	}
	l.reservoir = remaining
	l.quotaObserved = true
	switch {
	case q.ResetAt.After(now):
		l.reservoirResetAt = q.ResetAt
	case l.reservoirResetAt.After(now):
		// keep the current window
	case l.policy.ReservoirRefresh > 0:
		l.reservoirResetAt = now.Add(l.policy.ReservoirRefresh)
	default:
		l.reservoirResetAt = now.Add(l.policy.DefaultRetryAfter)
	}
	l.mu.Unlock()
	l.signal()
}

// UpdatePolicy swaps the budget at runtime without dropping queued jobs
func (l *Limiter) UpdatePolicy(p Policy) {
	l.mu.Lock()
	l.applyPolicyLocked(p.withDefaults(), l.now())
	l.mu.Unlock()
	l.signal()
}

func (l *Limiter) applyPolicyLocked(p Policy, now time.Time) {
	old := l.policy
	l.policy = p

	if p.MinSpacing > 0 {
		if l.spacing == nil {
			l.spacing = rate.NewLimiter(rate.Every(p.MinSpacing), 1)
		} else {
			l.spacing.SetLimitAt(now, rate.Every(p.MinSpacing))
		}
	} else {
		l.spacing = nil
	}

	switch {
	case p.Reservoir <= 0:
		if !l.quotaObserved {
			l.reservoir = 0
			l.reservoirResetAt = time.Time{}
		}
	case old.Reservoir <= 0 && !l.quotaObserved:
		l.reservoir = p.Reservoir
		l.reservoirResetAt = now.Add(p.ReservoirRefresh)
	default:
		if l.reservoir > p.Reservoir && l.observedLimit == 0 {
			l.reservoir = p.Reservoir
		}
		if next := now.Add(p.ReservoirRefresh); l.reservoirResetAt.IsZero() || next.Before(l.reservoirResetAt) {
			l.reservoirResetAt = next
		}
	}
}

// Stats returns the current limiter state
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{
		Marketplace:       l.name.String(),
		Queued:            l.queue.Len(),
		InFlight:          l.inFlight,
		MaxConcurrent:     l.policy.MaxConcurrent,
		ReservoirEnforced: l.reservoirEnforcedLocked(),
		Dispatched:        l.dispatched,
		Pauses:            l.pauses,
	}
	if s.ReservoirEnforced {
		s.Reservoir = l.reservoir
		s.ReservoirResetAt = l.reservoirResetAt
	}
	if l.pausedUntil.After(l.now()) {
		s.PausedUntil = l.pausedUntil
	}
	return s
}

// Close stops the dispatcher. Queued jobs fail with ErrLimiterClosed;
// running jobs are left to finish.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for l.queue.Len() > 0 {
		j := heap.Pop(&l.queue).(*job)
		j.done <- ErrLimiterClosed
	}
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh
}

func (l *Limiter) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Limiter) run() {
	defer close(l.doneCh)
	for {
		wait := l.dispatchReady()
		if wait <= 0 {
			select {
			case <-l.stopCh:
				return
			case <-l.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-l.stopCh:
			timer.Stop()
			return
		case <-l.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// dispatchReady starts every job the budget currently allows and returns how
// long to wait before the next attempt, or 0 to wait for a signal.
func (l *Limiter) dispatchReady() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.queue.Len() > 0 {
		if l.closed {
			return 0
		}
		if head := l.queue[0]; head.ctx.Err() != nil {
			heap.Pop(&l.queue)
			head.done <- head.ctx.Err()
			continue
		}
		now := l.now()

		if l.policy.MaxConcurrent > 0 && l.inFlight >= l.policy.MaxConcurrent {
			return 0
		}
		if now.Before(l.pausedUntil) {
			return l.pausedUntil.Sub(now)
		}

		l.refillLocked(now)
		if l.reservoirEnforcedLocked() && l.reservoir <= 0 {
			wait := l.reservoirResetAt.Sub(now)
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			return wait
		}

		if l.spacing != nil {
			r := l.spacing.ReserveN(now, 1)
			if d := r.DelayFrom(now); d > 0 {
				r.CancelAt(now)
				return d
			}
		}

		j := heap.Pop(&l.queue).(*job)
		if l.reservoirEnforcedLocked() {
			l.reservoir--
		}
		l.inFlight++
		l.dispatched++
		go l.execute(j)
	}
	return 0
}

func (l *Limiter) reservoirEnforcedLocked() bool {
	return l.policy.Reservoir > 0 || l.quotaObserved
}

func (l *Limiter) refillLocked(now time.Time) {
	if !l.reservoirEnforcedLocked() || now.Before(l.reservoirResetAt) {
		return
	}
	if l.policy.Reservoir <= 0 {
		// Header-driven budget with no configured refresh: lift it until the
		// next response reports a fresh window.
		l.quotaObserved = false
		l.observedLimit = 0
		return
	}
	size := l.policy.Reservoir
	if l.observedLimit > 0 {
		size = l.observedLimit
	}
	l.reservoir = size
	l.reservoirResetAt = now.Add(l.policy.ReservoirRefresh)
}

func (l *Limiter) execute(j *job) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ratelimit: job panicked: %v", r)
			l.logger.Error("Rate limited job panicked", zap.Any("panic", r))
		}
		l.mu.Lock()
		l.inFlight--
		l.mu.Unlock()
		l.signal()
		j.done <- err
	}()
	err = j.fn(j.ctx)
}
