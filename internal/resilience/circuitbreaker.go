// Package resilience provides the circuit breaker that protects chatvoice's
// outbound credential calls.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open).
// After MaxFailures consecutive failures it rejects calls with
// [ErrCircuitOpen] for ResetTimeout, then lets exactly one probe through.
// A successful probe closes it; a failed probe re-opens it.
// [GuardedIssuer] wraps a token issuer with a breaker so that a revoked
// subscription key fails fast instead of hitting the issuance endpoint on
// every chat line.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Do] when the breaker is open,
// or half-open with its probe already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state: all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		onChange:     cfg.OnStateChange,
		now:          cfg.Now,
	}
}

// Do runs fn if the breaker allows it. A cancelled ctx is checked before fn
// runs and does not count as a failure; neither does an fn error that wraps
// ctx.Err().
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if callErr != nil && ctx.Err() != nil && errors.Is(callErr, ctx.Err()) {
		cb.release(probe)
		return callErr
	}
	cb.notify(cb.record(probe, callErr))
	return callErr
}

type transition struct {
	from, to State
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, t *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, nil, ErrCircuitOpen
		}
		t = cb.setLocked(StateHalfOpen)
		cb.probing = true
		return true, t, nil
	case StateHalfOpen:
		if cb.probing {
			return false, nil, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil, nil
	}
	return false, nil, nil
}

// release returns an unused probe slot.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(probe bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if err == nil {
		cb.failures = 0
		if cb.state != StateClosed {
			return cb.setLocked(StateClosed)
		}
		return nil
	}

	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		if cb.state != StateOpen {
			return cb.setLocked(StateOpen)
		}
	}
	return nil
}

// setLocked changes state. The mutex must be held.
func (cb *CircuitBreaker) setLocked(to State) *transition {
	from := cb.state
	cb.state = to
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	switch t.to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "from", t.from.String())
	default:
		slog.Info("circuit breaker state change", "name", cb.name,
			"from", t.from.String(), "to", t.to.String())
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, t.from, t.to)
	}
}

// State returns the current [State] of the breaker. An open breaker whose
// reset timeout has elapsed reports [StateHalfOpen]; the transition itself
// happens on the next [CircuitBreaker.Do].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var t *transition
	if cb.state != StateClosed {
		t = cb.setLocked(StateClosed)
	}
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	cb.notify(t)
}
