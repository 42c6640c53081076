// Package resilience implements the policy engine of §4.3: retry,
// fallback, circuit breaker, compensating action, error aggregation
// and health monitoring. Every policy exposes the uniform Execute
// contract and is composable by nesting.
package resilience

import "context"

// Policy is the uniform contract every resilience policy satisfies.
// Execute runs action and returns its error; ExecuteValue runs fn and
// returns its value and error. Metrics returns a snapshot of the
// policy's own counters; Reset clears them.
type Policy interface {
	Execute(ctx context.Context, action func(ctx context.Context) error) error
	Metrics() Metrics
	Reset()
}

// Metrics is a read-only snapshot of a policy's counters. Individual
// policies embed this and add their own fields.
type Metrics struct {
	Attempts int64
	Successes int64
	Failures  int64
}

// ExecuteValue runs fn under policy p and returns its value, working
// around Go's lack of method generics by closing over a pointer.
func ExecuteValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
