package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// State is one of the three circuit-breaker states from §4.3.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// CircuitBreaker implements the closed/open/half-open state machine of
// §4.3: it opens after FailureThreshold consecutive failures, waits
// Timeout before probing, and closes again after SuccessThreshold
// consecutive successes while half-open.
type CircuitBreaker struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OnStateChange    func(from, to State)

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time

	attempts  int64
	successes int64
	failures  int64
}

var _ Policy = (*CircuitBreaker)(nil)

// CanAttempt reports whether a call is currently permitted, flipping
// Open to HalfOpen once Timeout has elapsed since the trip.
func (c *CircuitBreaker) CanAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAttemptLocked()
}

func (c *CircuitBreaker) canAttemptLocked() bool {
	switch c.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(c.openedAt) >= c.Timeout {
			c.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++

	switch c.state {
	case StateHalfOpen:
		c.successCount++
		if c.successCount >= max1(c.SuccessThreshold) {
			c.transitionLocked(StateClosed)
		}
	case StateClosed:
		c.failureCount = 0
	}
}

func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++

	switch c.state {
	case StateHalfOpen:
		c.transitionLocked(StateOpen)
	case StateClosed:
		c.failureCount++
		if c.failureCount >= max1(c.FailureThreshold) {
			c.transitionLocked(StateOpen)
		}
	}
}

func (c *CircuitBreaker) transitionLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	switch to {
	case StateOpen:
		c.openedAt = time.Now()
		c.successCount = 0
	case StateHalfOpen:
		c.successCount = 0
	case StateClosed:
		c.failureCount = 0
		c.successCount = 0
	}
	if c.OnStateChange != nil {
		c.OnStateChange(from, to)
	}
}

func (c *CircuitBreaker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) GetFailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}

func (c *CircuitBreaker) GetSuccessCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successCount
}

func (c *CircuitBreaker) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	c.mu.Lock()
	allowed := c.canAttemptLocked()
	c.mu.Unlock()

	if !allowed {
		be := buserrors.New(buserrors.CategoryNetwork, buserrors.SeverityMedium, "circuit-breaker", "Execute", buserrors.ErrCircuitOpen)
		be.IsTransient = true
		return be
	}

	err := action(ctx)
	if err != nil {
		c.RecordFailure()
		return err
	}
	c.RecordSuccess()
	return nil
}

func (c *CircuitBreaker) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{Attempts: c.attempts, Successes: c.successes, Failures: c.failures}
}

func (c *CircuitBreaker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.failureCount = 0
	c.successCount = 0
	c.attempts, c.successes, c.failures = 0, 0, 0
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
