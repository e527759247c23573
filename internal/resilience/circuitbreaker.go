package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker tripped on consecutive failures. Calls
	// are rejected with [ErrCircuitOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. A limited
	// number of calls pass through; if they all succeed the breaker closes,
	// and any failure re-opens it.
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
	// before the breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing the backend
	// again. Default: 30s.
	Cooldown time.Duration

	// ProbeQuorum is the number of successful probe calls required to close
	// the breaker from half-open. It also caps the probes in flight.
	// Default: 3.
	ProbeQuorum int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeQuorum int

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuorum <= 0 {
		cfg.ProbeQuorum = 3
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeQuorum: cfg.ProbeQuorum,
		state:       StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state a limited
// number of probe calls are permitted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

// allow decides whether a call may proceed and whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeWins = 0
		slog.Info("circuit breaker half-open", "name", cb.name)
		cb.probes++
		return true, nil

	case StateHalfOpen:
		if cb.probes >= cb.probeQuorum {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil

	default:
		return false, nil
	}
}

// record applies the call outcome to the breaker state.
func (cb *CircuitBreaker) record(probe bool, callErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A probe whose window already ended (another probe tripped the breaker)
	// must not touch the counters.
	if probe && cb.state != StateHalfOpen {
		return
	}

	if callErr != nil {
		if probe {
			cb.trip()
			slog.Warn("circuit breaker re-opened", "name", cb.name)
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.failures)
		}
		return
	}

	if probe {
		cb.probeWins++
		if cb.probeWins >= cb.probeQuorum {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeWins = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// trip moves the breaker to open. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.probes = 0
	cb.probeWins = 0
}

// State returns the current [State] of the breaker. If the breaker is open
// and the cooldown has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeWins = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
