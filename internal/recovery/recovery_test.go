package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/studiowebux/surge/internal/logging"
)

func fastStrategy() Strategy {
	return Strategy{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	m := NewManager(logging.Nop())
	m.Register("op", fastStrategy())

	calls := 0
	outcome := m.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	if outcome.Kind != OutcomeSuccess {
		t.Errorf("expected success outcome, got %v", outcome.Kind)
	}
	if outcome.Attempts != 1 || calls != 1 {
		t.Errorf("expected exactly one attempt, got attempts=%d calls=%d", outcome.Attempts, calls)
	}
}

func TestExecuteRecoversAfterFailures(t *testing.T) {
	m := NewManager(logging.Nop())
	m.Register("op", fastStrategy())

	calls := 0
	outcome := m.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if outcome.Kind != OutcomeRecovered {
		t.Errorf("expected recovered outcome, got %v", outcome.Kind)
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if outcome.Err != nil {
		t.Errorf("expected nil error on recovery, got %v", outcome.Err)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	m := NewManager(logging.Nop())
	m.Register("op", fastStrategy())

	lastErr := errors.New("persistent")
	calls := 0
	outcome := m.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return lastErr
	})

	if outcome.Kind != OutcomeFailure {
		t.Errorf("expected failure outcome, got %v", outcome.Kind)
	}
	// MaxRetries=3 means the original attempt plus 3 retries.
	if outcome.Attempts != 4 || calls != 4 {
		t.Errorf("expected 4 attempts, got attempts=%d calls=%d", outcome.Attempts, calls)
	}
	if !errors.Is(outcome.Err, lastErr) {
		t.Errorf("expected last error in outcome, got %v", outcome.Err)
	}
}

func TestExecuteNonRetryableAbortsImmediately(t *testing.T) {
	m := NewManager(logging.Nop())
	s := fastStrategy()
	s.Retryable = func(err error) bool { return false }
	m.Register("op", s)

	calls := 0
	outcome := m.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("fatal")
	})

	if outcome.Kind != OutcomeFailure {
		t.Errorf("expected failure outcome, got %v", outcome.Kind)
	}
	if outcome.Attempts != 1 || calls != 1 {
		t.Errorf("expected a single attempt for a non-retryable error, got attempts=%d calls=%d", outcome.Attempts, calls)
	}
}

func TestExecuteRecoveryCallbackRetriesImmediately(t *testing.T) {
	m := NewManager(logging.Nop())
	s := fastStrategy()
	s.InitialDelay = time.Hour // would stall the test if the delay ran
	recovered := 0
	s.OnRecover = func(ctx context.Context, err error) error {
		recovered++
		return nil
	}
	m.Register("op", s)

	calls := 0
	done := make(chan Outcome, 1)
	go func() {
		done <- m.Execute(context.Background(), "op", func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	select {
	case outcome := <-done:
		if outcome.Kind != OutcomeRecovered {
			t.Errorf("expected recovered outcome, got %v", outcome.Kind)
		}
		if !outcome.RecoveryUsed {
			t.Error("expected recovery callback to be marked as used")
		}
		if recovered != 1 {
			t.Errorf("expected one recovery invocation, got %d", recovered)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execute blocked on backoff despite successful recovery callback")
	}
}

func TestExecuteDefaultStrategyWhenUnregistered(t *testing.T) {
	m := NewManager(logging.Nop())

	outcome := m.Execute(context.Background(), "never-registered", func(ctx context.Context) error {
		return nil
	})
	if outcome.Kind != OutcomeSuccess {
		t.Errorf("expected success under the default strategy, got %v", outcome.Kind)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	m := NewManager(logging.Nop())
	s := fastStrategy()
	s.InitialDelay = time.Hour
	m.Register("op", s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- m.Execute(ctx, "op", func(ctx context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case outcome := <-done:
		if outcome.Kind != OutcomeFailure {
			t.Errorf("expected failure outcome after cancellation, got %v", outcome.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not observe cancellation during backoff")
	}
}

func TestAttemptCounters(t *testing.T) {
	m := NewManager(logging.Nop())
	m.Register("op", fastStrategy())

	m.Execute(context.Background(), "op", func(ctx context.Context) error { return nil })
	m.Execute(context.Background(), "op", func(ctx context.Context) error { return nil })

	if got := m.Attempts("op"); got != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", got)
	}
	if got := m.Attempts("other"); got != 0 {
		t.Errorf("expected 0 attempts for an unknown operation, got %d", got)
	}

	m.ResetAttempts("op")
	if got := m.Attempts("op"); got != 0 {
		t.Errorf("expected 0 attempts after reset, got %d", got)
	}

	m.Execute(context.Background(), "a", func(ctx context.Context) error { return nil })
	m.Execute(context.Background(), "b", func(ctx context.Context) error { return nil })
	m.ClearAttempts()
	if m.Attempts("a") != 0 || m.Attempts("b") != 0 {
		t.Error("expected every counter zeroed after ClearAttempts")
	}
}
