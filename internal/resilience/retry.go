package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// Strategy selects the backoff shape for a RetryPolicy.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyImmediate
	StrategyFixedDelay
	StrategyLinearBackoff
	StrategyExponentialBackoff
	StrategyFibonacci
)

// RetryPredicate decides whether err should trigger another attempt.
type RetryPredicate func(err error) bool

// defaultNonRetryable matches the §4.3 defaults: cancellation,
// out-of-memory, stack-overflow and access-violation are never
// retried unless a custom predicate overrides both default sets.
func defaultNonRetryable(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, buserrors.ErrOutOfMemory) ||
		errors.Is(err, buserrors.ErrStackOverflow) ||
		errors.Is(err, buserrors.ErrAccessViolation)
}

// RetryPolicy implements the retry policy of §4.3.
type RetryPolicy struct {
	Strategy          Strategy
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
	Retryable         RetryPredicate

	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

var _ Policy = (*RetryPolicy)(nil)

// Delay returns the backoff before attempt n (1-indexed): the
// strategy's delay capped at MaxDelay, then perturbed by
// ±JitterFactor, so a jittered delay can exceed MaxDelay. Attempts
// <= 0 or > MaxRetries yield zero, per the retry-delay law in §8.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || attempt > p.MaxRetries {
		return 0
	}

	var d time.Duration
	switch p.Strategy {
	case StrategyNone, StrategyImmediate:
		d = 0
	case StrategyFixedDelay:
		d = p.InitialDelay
	case StrategyLinearBackoff:
		d = p.InitialDelay * time.Duration(attempt)
	case StrategyExponentialBackoff:
		mult := p.BackoffMultiplier
		if mult == 0 {
			mult = 2.0
		}
		d = time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	case StrategyFibonacci:
		d = p.InitialDelay * time.Duration(fibonacci(attempt))
	default:
		d = p.InitialDelay
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return p.applyJitter(d)
}

func (p *RetryPolicy) applyJitter(d time.Duration) time.Duration {
	if p.JitterFactor <= 0 || d <= 0 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * p.JitterFactor // +-JitterFactor
	return time.Duration(float64(d) * (1 + jitter))
}

// fibonacci returns fib(n) with fib(1)=fib(2)=1, matching the
// Fibonacci law in §8: delays for attempts 1..5 are d*(1,1,2,3,5).
func fibonacci(n int) int {
	if n <= 2 {
		return 1
	}
	a, b := 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !defaultNonRetryable(err)
}

// Execute runs action, retrying per the configured strategy. Context
// cancellation during a retry wait resolves as cancellation
// immediately rather than completing the remaining back-off.
func (p *RetryPolicy) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		p.attempts.Add(1)

		err := action(ctx)
		if err == nil {
			p.successes.Add(1)
			return nil
		}
		lastErr = err

		if !p.isRetryable(err) {
			p.failures.Add(1)
			return lastErr
		}
		if attempt >= p.MaxRetries {
			p.failures.Add(1)
			break
		}

		delay := p.Delay(attempt + 1)
		if delay <= 0 {
			continue
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

func (p *RetryPolicy) Metrics() Metrics {
	return Metrics{
		Attempts:  p.attempts.Load(),
		Successes: p.successes.Load(),
		Failures:  p.failures.Load(),
	}
}

func (p *RetryPolicy) Reset() {
	p.attempts.Store(0)
	p.successes.Store(0)
	p.failures.Store(0)
}
