// Package circuitbreaker guards calls to the identity provider so that a
// failing upstream is not hammered with token exchanges.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed State = iota
	// StateOpen blocks all requests immediately.
	StateOpen
	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

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

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many probes are in flight in the
// half-open state.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is the number of probe successes needed to close.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxHalfOpenRequests caps concurrent probes.
	MaxHalfOpenRequests int `mapstructure:"max_half_open_requests"`
	// OnStateChange is called synchronously, in transition order, after the
	// breaker lock is released. It must not call the breaker.
	OnStateChange func(name string, from, to State) `mapstructure:"-"`
}

// DefaultConfig returns a circuit breaker config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	name   string
	config Config

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	lastFailure      time.Time
	halfOpenRequests int
	pending          []transition

	// notifyMu is taken before mu is released so callbacks run in order.
	notifyMu sync.Mutex
}

type transition struct {
	from, to State
}

// New creates a new circuit breaker with the given name and config.
func New(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = 1
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState reports half-open once the open timeout has elapsed.
// Callers hold cb.mu.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

// Allow checks if a request should be let through. Every successful Allow
// must be paired with RecordSuccess, RecordFailure or Release.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.unlock()

	switch cb.currentState() {
	case StateOpen:
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.state == StateOpen {
			cb.setState(StateHalfOpen)
		}
		if cb.halfOpenRequests >= cb.config.MaxHalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
	}

	return nil
}

// RecordSuccess records a successful upstream call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.unlock()

	switch cb.currentState() {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.releaseProbe()
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// RecordFailure records a failed upstream call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.unlock()

	cb.lastFailure = time.Now()

	switch cb.currentState() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		cb.releaseProbe()
		cb.setState(StateOpen)
	}
}

// Release frees a slot taken by Allow without counting the call either way.
// Used when the caller went away or the upstream rejected the input itself.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState() == StateHalfOpen {
		cb.releaseProbe()
	}
}

func (cb *CircuitBreaker) releaseProbe() {
	if cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	case StateOpen:
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
		cb.halfOpenRequests = 0
	}

	if cb.config.OnStateChange != nil {
		cb.pending = append(cb.pending, transition{from: oldState, to: newState})
	}
}

// unlock releases mu and then delivers queued state changes. Callers hold mu.
func (cb *CircuitBreaker) unlock() {
	if len(cb.pending) == 0 {
		cb.mu.Unlock()
		return
	}

	changes := cb.pending
	cb.pending = nil
	cb.notifyMu.Lock()
	cb.mu.Unlock()
	defer cb.notifyMu.Unlock()

	for _, c := range changes {
		cb.config.OnStateChange(cb.name, c.from, c.to)
	}
}
