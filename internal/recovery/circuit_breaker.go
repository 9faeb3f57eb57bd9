package recovery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// CircuitBreaker suppresses calls to a repeatedly failing operation.
// Closed counts consecutive failures and opens at the threshold; open
// rejects everything until the recovery timeout elapses, then admits
// exactly one half-open trial whose outcome decides between closing
// and re-opening.
type CircuitBreaker struct {
	mu sync.Mutex

	operationID     string
	state           BreakerState
	failures        int
	threshold       int
	recoveryTimeout time.Duration
	lastFailure     time.Time
	probeInFlight   bool
}

// NewCircuitBreaker builds a closed breaker for one operation id.
func NewCircuitBreaker(operationID string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		operationID:     operationID,
		state:           StateClosed,
		threshold:       failureThreshold,
		recoveryTimeout: recoveryTimeout,
	}
}

// Execute runs op if the breaker admits the call, feeding the outcome
// back into the state machine. Rejected calls return ErrCircuitOpen
// without invoking op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := op(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		// Only the single trial call is admitted.
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInFlight = false
	cb.state = StateClosed
	cb.failures = 0
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInFlight = false
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = StateOpen
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count while closed.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
