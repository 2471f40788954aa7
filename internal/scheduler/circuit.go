package scheduler

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CircuitState is a module's health state.
type CircuitState uint8

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// CircuitBreaker tracks a module's consecutive failures and quarantines it
// once failureThreshold is reached, reopening for one probe after
// resetTimeout. clock is backoff.Clock (the same time-abstraction the
// backoff package uses for its own retry timers) so tests can inject a fake
// clock instead of sleeping.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	failureThreshold int
	resetTimeout     time.Duration
	openedAt         time.Time
	clock            backoff.Clock
}

func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		clock:            backoff.SystemClock,
	}
}

// WithClock overrides the time source (for tests).
func (cb *CircuitBreaker) WithClock(c backoff.Clock) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.clock = c
	return cb
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == Open && cb.clock.Now().Sub(cb.openedAt) > cb.resetTimeout {
		cb.state = HalfOpen
	}
	return cb.state
}

// CanRun reports whether a dispatch attempt should proceed: true when
// Closed or HalfOpen (the HalfOpen probe), false when Open.
func (cb *CircuitBreaker) CanRun() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked() != Open
}

// RecordSuccess resets the breaker to Closed with a zeroed failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = Closed
}

// RecordFailure increments the failure count; in Closed state it trips to
// Open once failureThreshold is reached, in HalfOpen a single failed probe
// immediately trips back to Open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.stateLocked() {
	case HalfOpen:
		cb.trip()
	default:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = Open
	cb.openedAt = cb.clock.Now()
}
