package resilience

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestRetryPolicy_Execute_SucceedsFirstTry(t *testing.T) {
	p := &RetryPolicy{Strategy: StrategyFixedDelay, MaxRetries: 3, InitialDelay: time.Millisecond}
	called := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if called != 1 {
		t.Fatalf("expected 1 call, got %d", called)
	}
}

func TestRetryPolicy_Execute_SucceedsAfterRetries(t *testing.T) {
	p := &RetryPolicy{Strategy: StrategyFixedDelay, MaxRetries: 3, InitialDelay: time.Millisecond}
	called := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		called++
		if called < 2 {
			return errors.New("timeout: transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if called != 2 {
		t.Fatalf("expected 2 calls, got %d", called)
	}
}

func TestRetryPolicy_Execute_ExhaustsRetries(t *testing.T) {
	p := &RetryPolicy{Strategy: StrategyFixedDelay, MaxRetries: 2, InitialDelay: time.Millisecond}
	called := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		called++
		return errors.New("timeout: always")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if called != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", called)
	}
}

func TestRetryPolicy_NonRetryableStopsImmediately(t *testing.T) {
	p := &RetryPolicy{Strategy: StrategyFixedDelay, MaxRetries: 5, InitialDelay: time.Millisecond}
	called := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		called++
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if called != 1 {
		t.Fatalf("cancellation must not be retried, got %d calls", called)
	}
}

// TestExponentialBackoff_DelayLaw verifies §8's retry delay law:
// attempt n's delay equals min(d*m^(n-1), maxDelay) with jitter=0.
func TestExponentialBackoff_DelayLaw(t *testing.T) {
	p := &RetryPolicy{
		Strategy:          StrategyExponentialBackoff,
		MaxRetries:        6,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFactor:      0,
	}

	for n := 1; n <= 6; n++ {
		want := time.Duration(float64(p.InitialDelay) * math.Pow(2.0, float64(n-1)))
		if want > p.MaxDelay {
			want = p.MaxDelay
		}
		got := p.Delay(n)
		if got != want {
			t.Errorf("attempt %d: want %v, got %v", n, want, got)
		}
	}
}

func TestRetryPolicy_Delay_ZeroOutsideRange(t *testing.T) {
	p := &RetryPolicy{Strategy: StrategyExponentialBackoff, MaxRetries: 3, InitialDelay: 10 * time.Millisecond, BackoffMultiplier: 2}
	if d := p.Delay(0); d != 0 {
		t.Errorf("attempt 0 should be zero delay, got %v", d)
	}
	if d := p.Delay(-1); d != 0 {
		t.Errorf("negative attempt should be zero delay, got %v", d)
	}
	if d := p.Delay(4); d != 0 {
		t.Errorf("attempt beyond MaxRetries should be zero delay, got %v", d)
	}
}

// TestFibonacciLaw verifies §8's Fibonacci law: with jitter=0 and
// initialDelay=d, delays for attempts 1..5 equal d*(1,1,2,3,5).
func TestFibonacciLaw(t *testing.T) {
	d := 5 * time.Millisecond
	p := &RetryPolicy{Strategy: StrategyFibonacci, MaxRetries: 5, InitialDelay: d, JitterFactor: 0}

	want := []time.Duration{d * 1, d * 1, d * 2, d * 3, d * 5}
	for i, w := range want {
		attempt := i + 1
		got := p.Delay(attempt)
		if got != w {
			t.Errorf("attempt %d: want %v, got %v", attempt, w, got)
		}
	}
}

func TestRetryPolicy_Metrics(t *testing.T) {
	p := &RetryPolicy{Strategy: StrategyFixedDelay, MaxRetries: 1, InitialDelay: time.Millisecond}
	_ = p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	m := p.Metrics()
	if m.Attempts != 1 || m.Successes != 1 || m.Failures != 0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
	p.Reset()
	m = p.Metrics()
	if m.Attempts != 0 {
		t.Errorf("expected reset metrics, got %+v", m)
	}
}
