package reliability

import (
	"sort"
	"sync"
	"time"
)

// BreakerRegistry holds one circuit breaker per dependency key. Breakers are
// created lazily and live for the lifetime of the registry.
type BreakerRegistry struct {
	config   BreakerConfig
	now      func() time.Time
	onChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// RegistryOption configures a BreakerRegistry
type RegistryOption func(*BreakerRegistry)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) RegistryOption {
	return func(r *BreakerRegistry) {
		r.now = now
	}
}

// WithStateChangeHook observes every breaker transition. The hook runs while
// the breaker is locked and must not call back into it.
func WithStateChangeHook(fn StateChangeFunc) RegistryOption {
	return func(r *BreakerRegistry) {
		r.onChange = fn
	}
}

// NewBreakerRegistry creates an empty registry
func NewBreakerRegistry(config BreakerConfig, opts ...RegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		config:   config,
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for key, creating it on first use
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := NewCircuitBreaker(key, r.config)
	b.now = r.now
	b.onChange = r.onChange
	r.breakers[key] = b
	return b
}

// Reset closes the breaker for key if it exists
func (r *BreakerRegistry) Reset(key string) bool {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
	return ok
}

// Snapshot returns the state of every breaker sorted by key
func (r *BreakerRegistry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
