package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := &CircuitBreaker{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute}
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected state Open after %d failures, got %v", cb.GetFailureCount(), cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("action must not run while circuit is open")
		return nil
	})
	if !errors.Is(err, buserrors.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := &CircuitBreaker{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected Open, got %v", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected Closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := &CircuitBreaker{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still failing") })
	if err == nil {
		t.Fatal("expected probe failure to propagate")
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected re-open after half-open failure, got %v", cb.State())
	}
}

func TestCircuitBreaker_RequiresConsecutiveSuccessesToClose(t *testing.T) {
	cb := &CircuitBreaker{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected still HalfOpen after 1 of 2 successes, got %v", cb.State())
	}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if cb.State() != StateClosed {
		t.Fatalf("expected Closed after 2 of 2 successes, got %v", cb.State())
	}
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := &CircuitBreaker{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("expected one closed->open transition, got %v", transitions)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := &CircuitBreaker{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected Closed after reset, got %v", cb.State())
	}
	if cb.GetFailureCount() != 0 {
		t.Fatalf("expected failure count reset, got %d", cb.GetFailureCount())
	}
}
