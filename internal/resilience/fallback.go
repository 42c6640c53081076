package resilience

import (
	"context"
	"sync/atomic"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// FallbackAction runs in place of the primary action once it has
// failed a matching Predicate. It receives the triggering error so it
// can decide on a degraded response.
type FallbackAction func(ctx context.Context, cause error) error

// FallbackPredicate decides whether cause should trigger Fallback at
// all. Causes it rejects propagate to the caller untouched, which is
// how validation and configuration errors surface immediately per §7
// instead of being masked by a fallback.
type FallbackPredicate func(cause error) bool

// defaultFallbackPredicate is the §4.3 default: only transient
// failures fall back.
func defaultFallbackPredicate(cause error) bool {
	if buserrors.IsTransient(cause) {
		return true
	}
	return buserrors.Classify(cause, "fallback", "Execute").IsTransient
}

// FallbackError wraps both the original failure and the fallback's
// own failure. It is only returned when ThrowOnFallbackFailure is set;
// otherwise Execute rethrows the original cause.
type FallbackError struct {
	Cause       error
	FallbackErr error
}

func (e *FallbackError) Error() string {
	return e.Cause.Error() + "; fallback failed: " + e.FallbackErr.Error()
}

func (e *FallbackError) Unwrap() []error { return []error{e.Cause, e.FallbackErr} }

// FallbackPolicy wraps a primary action with a fallback, invoked only
// on failures matching Predicate (default: transient errors), per
// §4.3. If Fallback is nil and HasDefaultValue is set, the policy
// resolves the failure to DefaultValue instead of invoking anything;
// value-producing callers read it back through ExecuteValue.
type FallbackPolicy struct {
	Fallback  FallbackAction
	Predicate FallbackPredicate

	DefaultValue    any
	HasDefaultValue bool

	// ThrowOnFallbackFailure controls what Execute returns when
	// Fallback itself errors. Default (false): rethrow the original
	// cause. true: raise a *FallbackError carrying both causes.
	ThrowOnFallbackFailure bool

	attempts       atomic.Int64
	successes      atomic.Int64
	failures       atomic.Int64
	fallbacksTaken atomic.Int64
}

var _ Policy = (*FallbackPolicy)(nil)

func (p *FallbackPolicy) matches(cause error) bool {
	if p.Predicate != nil {
		return p.Predicate(cause)
	}
	return defaultFallbackPredicate(cause)
}

func (p *FallbackPolicy) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	p.attempts.Add(1)

	err := action(ctx)
	if err == nil {
		p.successes.Add(1)
		return nil
	}

	if !p.matches(err) {
		p.failures.Add(1)
		return err
	}

	p.fallbacksTaken.Add(1)

	if p.Fallback == nil {
		if p.HasDefaultValue {
			p.successes.Add(1)
			return nil
		}
		p.failures.Add(1)
		return err
	}

	if fbErr := p.Fallback(ctx, err); fbErr != nil {
		p.failures.Add(1)
		if p.ThrowOnFallbackFailure {
			return &FallbackError{Cause: err, FallbackErr: fbErr}
		}
		return err
	}
	p.successes.Add(1)
	return nil
}

// ExecuteValue runs fn under p, resolving to DefaultValue when the
// primary fails a matching Predicate and no Fallback function is
// configured — the "or return a configured default value" half of
// §4.3's fallback contract, which Execute's error-only signature
// cannot itself carry a value for.
func (p *FallbackPolicy) ExecuteValue(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	p.attempts.Add(1)

	v, err := fn(ctx)
	if err == nil {
		p.successes.Add(1)
		return v, nil
	}

	if !p.matches(err) {
		p.failures.Add(1)
		return nil, err
	}

	p.fallbacksTaken.Add(1)

	if p.Fallback == nil {
		if p.HasDefaultValue {
			p.successes.Add(1)
			return p.DefaultValue, nil
		}
		p.failures.Add(1)
		return nil, err
	}

	if fbErr := p.Fallback(ctx, err); fbErr != nil {
		p.failures.Add(1)
		if p.ThrowOnFallbackFailure {
			return nil, &FallbackError{Cause: err, FallbackErr: fbErr}
		}
		return nil, err
	}
	p.successes.Add(1)
	return nil, nil
}

func (p *FallbackPolicy) Metrics() Metrics {
	return Metrics{
		Attempts:  p.attempts.Load(),
		Successes: p.successes.Load(),
		Failures:  p.failures.Load(),
	}
}

// FallbacksTaken reports how many executions fell through to Fallback.
func (p *FallbackPolicy) FallbacksTaken() int64 {
	return p.fallbacksTaken.Load()
}

func (p *FallbackPolicy) Reset() {
	p.attempts.Store(0)
	p.successes.Store(0)
	p.failures.Store(0)
	p.fallbacksTaken.Store(0)
}
