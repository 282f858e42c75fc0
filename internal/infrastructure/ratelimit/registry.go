package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"go.uber.org/zap"
)

// Registry holds one Limiter per marketplace. Marketplaces without a
// configured limiter run unthrottled.
type Registry struct {
	mu       sync.RWMutex
	limiters map[marketplace.Name]*Limiter
	logger   *zap.Logger
	onPause  func(name marketplace.Name, until time.Time)

	// applied to policies that leave them unset
	retryAfter time.Duration
	maxPause   time.Duration
}

var _ marketplace.QuotaObserver = (*Registry)(nil)

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithPauseHook observes every pause, typically to count them
func WithPauseHook(fn func(name marketplace.Name, until time.Time)) RegistryOption {
	return func(r *Registry) {
		r.onPause = fn
	}
}

// WithPauseBounds sets the 429 pause defaults for every configured limiter
func WithPauseBounds(defaultRetryAfter, maxPause time.Duration) RegistryOption {
	return func(r *Registry) {
		r.retryAfter = defaultRetryAfter
		r.maxPause = maxPause
	}
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		limiters: make(map[marketplace.Name]*Limiter),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure installs or updates the limiter for name
func (r *Registry) Configure(name marketplace.Name, policy Policy) *Limiter {
	if r.retryAfter > 0 {
		policy.DefaultRetryAfter = r.retryAfter
	}
	if r.maxPause > 0 {
		policy.MaxPause = r.maxPause
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		l.UpdatePolicy(policy)
		return l
	}
	l := NewLimiter(name, policy, r.logger)
	r.limiters[name] = l
	r.logger.Info("Rate limiter configured",
		zap.String("marketplace", name.String()),
		zap.Int("max_concurrent", policy.MaxConcurrent),
		zap.Duration("min_spacing", policy.MinSpacing),
		zap.Int("reservoir", policy.Reservoir),
	)
	return l
}

// Get returns the limiter for name if one is configured
func (r *Registry) Get(name marketplace.Name) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Execute runs fn under the limiter for name. A rate-limited result pauses the
// marketplace for the hinted duration before the error is returned.
func (r *Registry) Execute(ctx context.Context, name marketplace.Name, priority int, fn func(context.Context) error) error {
	l, ok := r.Get(name)
	if !ok {
		return fn(ctx)
	}
	return l.Schedule(ctx, priority, func(ctx context.Context) error {
		err := fn(ctx)
		if me, ok := marketplace.AsMarketplaceError(err); ok && me.Kind == marketplace.ErrorKindRateLimited {
			r.pause(l, me.RetryAfter)
		}
		return err
	})
}

// Do is Execute for calls that return a value
func Do[T any](ctx context.Context, r *Registry, name marketplace.Name, priority int, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, name, priority, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// ObserveQuota forwards response budget headers to the marketplace limiter
func (r *Registry) ObserveQuota(name marketplace.Name, quota marketplace.Quota) {
	if l, ok := r.Get(name); ok {
		l.ObserveQuota(quota)
	}
}

// ObserveRateLimited pauses the marketplace as soon as a 429 is seen, before
// any retry of the same call is attempted
func (r *Registry) ObserveRateLimited(name marketplace.Name, retryAfter time.Duration) {
	if l, ok := r.Get(name); ok {
		r.pause(l, retryAfter)
	}
}

// PauseRemaining reports how long name stays paused after a 429
func (r *Registry) PauseRemaining(name marketplace.Name) time.Duration {
	if l, ok := r.Get(name); ok {
		return l.PauseRemaining()
	}
	return 0
}

func (r *Registry) pause(l *Limiter, retryAfter time.Duration) {
	until := l.Pause(retryAfter)
	if r.onPause != nil {
		r.onPause(l.Name(), until)
	}
}

// Reload configures a limiter for every active connection from stored settings
func (r *Registry) Reload(ctx context.Context, repo marketplace.ConnectionSettingsRepository) error {
	settings, err := repo.FindActive(ctx)
	if err != nil {
		return err
	}
	for _, s := range settings {
		r.Configure(s.Marketplace, PolicyFrom(s.RateLimit))
	}
	return nil
}

// Stats returns the state of every limiter ordered by marketplace
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	stats := make([]Stats, 0, len(r.limiters))
	for _, l := range r.limiters {
		stats = append(stats, l.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Marketplace < stats[j].Marketplace
	})
	return stats
}

// Close stops every limiter
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, l := range r.limiters {
		l.Close()
		delete(r.limiters, name)
	}
}
