package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a circuit breaker
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a trial call
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns threshold 5 and a 30s reset timeout
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// StateChangeFunc observes breaker transitions
type StateChangeFunc func(key string, from, to State)

// CircuitBreaker guards one dependency.
// CLOSED → OPEN after FailureThreshold consecutive failures; OPEN → HALF_OPEN
// once ResetTimeout has elapsed, admitting a single trial; the trial closes
// the circuit on success and reopens it on failure.
type CircuitBreaker struct {
	key      string
	config   BreakerConfig
	now      func() time.Time
	onChange StateChangeFunc

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(key string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	return &CircuitBreaker{
		key:    key,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs op through the breaker. A panic in op counts as a failure
// and is re-raised once the outcome is recorded.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) (err error) {
	if err := b.acquire(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.record(fmt.Errorf("panic in %s call: %v", b.key, r))
			panic(r)
		}
		b.record(err)
	}()
	return op(ctx)
}

// State returns the current state
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot returns a consistent view of the breaker
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Key:         b.key,
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// Reset forces the breaker closed
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.transition(StateClosed)
}

func (b *CircuitBreaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.config.ResetTimeout {
			return &CircuitOpenError{Key: b.key, RetryAfter: b.config.ResetTimeout - elapsed}
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			return &CircuitOpenError{Key: b.key}
		}
		b.trialInFlight = true
	}
	return nil
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasTrial := b.trialInFlight
	b.trialInFlight = false

	if err != nil && isBreakerNeutral(err) {
		return
	}
	if err == nil {
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if wasTrial || b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
		b.transition(StateOpen)
	}
}

// transition must be called with mu held
func (b *CircuitBreaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(b.key, from, to)
	}
}

// BreakerSnapshot is a read-only view used for status reporting
type BreakerSnapshot struct {
	Key         string    `json:"key"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}
