package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Strategy controls retry behavior for one logical operation id.
type Strategy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(err error) bool

	// OnRecover, when set, runs once after a failed attempt; if it
	// succeeds the operation is retried immediately, skipping the
	// backoff delay for that step. A failing callback demotes the
	// attempt to an ordinary failure.
	OnRecover func(ctx context.Context, err error) error
}

// DefaultStrategy applies when no strategy was registered for an
// operation id.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// OutcomeKind tags how an operation concluded.
type OutcomeKind int

const (
	// OutcomeSuccess: first attempt succeeded, no retry needed.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRecovered: succeeded after one or more retries.
	OutcomeRecovered
	// OutcomeFailure: attempts exhausted or a non-retryable error.
	OutcomeFailure
)

// Outcome is the tagged result of Execute.
type Outcome struct {
	Kind         OutcomeKind
	Attempts     int
	RecoveryUsed bool
	Err          error
}

// Manager runs operations under per-operation retry strategies and
// keeps observable attempt counters.
type Manager struct {
	mu         sync.Mutex
	strategies map[string]Strategy
	attempts   map[string]int
	log        *zap.Logger
}

// NewManager creates an empty recovery manager.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		strategies: make(map[string]Strategy),
		attempts:   make(map[string]int),
		log:        log,
	}
}

// Register installs the strategy for an operation id, replacing any
// previous one.
func (m *Manager) Register(operationID string, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[operationID] = s
}

func (m *Manager) strategy(operationID string) Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.strategies[operationID]; ok {
		return s
	}
	return DefaultStrategy()
}

func (m *Manager) countAttempt(operationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[operationID]++
}

// Attempts returns the total attempts recorded for an operation id.
func (m *Manager) Attempts(operationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[operationID]
}

// ResetAttempts zeroes the counter for one operation id.
func (m *Manager) ResetAttempts(operationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, operationID)
}

// ClearAttempts zeroes every counter.
func (m *Manager) ClearAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = make(map[string]int)
}

// Execute runs op under the strategy registered for operationID,
// attempting up to MaxRetries+1 times with capped exponential backoff
// between ordinary retries. A non-retryable error aborts after the
// attempt that produced it.
func (m *Manager) Execute(ctx context.Context, operationID string, op func(ctx context.Context) error) Outcome {
	s := m.strategy(operationID)
	delay := s.InitialDelay
	recoveryUsed := false

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		m.countAttempt(operationID)

		if err == nil {
			if attempt == 1 {
				return Outcome{Kind: OutcomeSuccess, Attempts: 1, RecoveryUsed: recoveryUsed}
			}
			m.log.Debug("operation recovered",
				zap.String("operation", operationID),
				zap.Int("attempts", attempt),
				zap.Bool("recoveryUsed", recoveryUsed))
			return Outcome{Kind: OutcomeRecovered, Attempts: attempt, RecoveryUsed: recoveryUsed}
		}
		lastErr = err

		if s.Retryable != nil && !s.Retryable(err) {
			return Outcome{Kind: OutcomeFailure, Attempts: attempt, RecoveryUsed: recoveryUsed, Err: lastErr}
		}
		if attempt > s.MaxRetries {
			return Outcome{Kind: OutcomeFailure, Attempts: attempt, RecoveryUsed: recoveryUsed, Err: lastErr}
		}
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeFailure, Attempts: attempt, RecoveryUsed: recoveryUsed, Err: ctx.Err()}
		}

		if s.OnRecover != nil {
			if rerr := s.OnRecover(ctx, err); rerr == nil {
				// Recovery callback succeeded: retry immediately.
				recoveryUsed = true
				continue
			}
		}

		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeFailure, Attempts: attempt, RecoveryUsed: recoveryUsed, Err: ctx.Err()}
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * s.BackoffMultiplier)
		if s.MaxDelay > 0 && delay > s.MaxDelay {
			delay = s.MaxDelay
		}
	}
}
