package resilience

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// CompensatingAction undoes the side effects of a failed action. Unlike
// a FallbackAction it never supplies a replacement result — it only
// runs cleanup — so its own error never replaces the triggering cause:
// with ThrowOnCompensationFailure it is reported alongside it in a
// *CompensationError, and otherwise it is absorbed.
type CompensatingAction func(ctx context.Context, cause error) error

// CommitAction runs once the primary action succeeds — the §4.3
// "commit chain" counterpart to the compensate chain, for side effects
// that should only take hold after a saga step is known to have
// worked (releasing a reservation, confirming a payment, and so on).
type CommitAction func(ctx context.Context) error

// CompensateStep pairs a CompensatingAction with a Priority. The
// compensate chain runs in priority-descending order (highest first).
type CompensateStep struct {
	Priority   int
	Compensate CompensatingAction
}

// CommitStep pairs a CommitAction with a Priority. The commit chain
// runs in priority-ascending order (lowest first).
type CommitStep struct {
	Priority int
	Commit   CommitAction
}

// CompensatePredicate decides whether a primary-action failure should
// trigger the compensate chain at all.
type CompensatePredicate func(cause error) bool

// defaultCompensatePredicate is the §4.3 default: compensate runs for
// every failure except validation errors — a validation failure means
// the primary action never got far enough to have anything to undo.
func defaultCompensatePredicate(cause error) bool {
	var be *buserrors.BusError
	if errors.As(cause, &be) {
		return be.Category != buserrors.CategoryValidation
	}
	return buserrors.Classify(cause, "compensating_action", "Execute").Category != buserrors.CategoryValidation
}

// CompensationError wraps a primary failure together with the
// (possibly joined) failure from the compensate chain itself, so
// callers can see both.
type CompensationError struct {
	Cause         error
	CompensateErr error
}

func (e *CompensationError) Error() string {
	if e.CompensateErr == nil {
		return e.Cause.Error()
	}
	return e.Cause.Error() + "; compensation failed: " + e.CompensateErr.Error()
}

func (e *CompensationError) Unwrap() []error {
	if e.CompensateErr == nil {
		return []error{e.Cause}
	}
	return []error{e.Cause, e.CompensateErr}
}

// CompensatingActionPolicy runs an ordered compensate chain whenever
// the primary action fails a matching Predicate, and an ordered commit
// chain whenever it succeeds, per §4.3's saga-style compensating
// action policy.
type CompensatingActionPolicy struct {
	CompensateSteps []CompensateStep
	CommitSteps     []CommitStep
	Predicate       CompensatePredicate

	// StopOnFirstCompensationFailure stops the compensate chain at its
	// first failing step instead of running every step regardless.
	StopOnFirstCompensationFailure bool
	// ThrowOnCompensationFailure controls whether a compensate-chain
	// failure is wrapped into the returned error (as a *CompensationError
	// carrying both causes) or silently absorbed, surfacing only the
	// original primary failure.
	ThrowOnCompensationFailure bool
	// StopOnFirstCommitFailure stops the commit chain at its first
	// failing step instead of running every step regardless.
	StopOnFirstCommitFailure bool

	attempts      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	compensations atomic.Int64
	commits       atomic.Int64
}

var _ Policy = (*CompensatingActionPolicy)(nil)

func (p *CompensatingActionPolicy) matches(cause error) bool {
	if p.Predicate != nil {
		return p.Predicate(cause)
	}
	return defaultCompensatePredicate(cause)
}

func (p *CompensatingActionPolicy) Execute(ctx context.Context, action func(ctx context.Context) error) error {
	p.attempts.Add(1)

	err := action(ctx)
	if err != nil {
		p.failures.Add(1)
		if !p.matches(err) || len(p.CompensateSteps) == 0 {
			return err
		}

		p.compensations.Add(1)
		if cErr := p.runCompensateChain(ctx, err); cErr != nil && p.ThrowOnCompensationFailure {
			return &CompensationError{Cause: err, CompensateErr: cErr}
		}
		return err
	}

	p.successes.Add(1)
	if len(p.CommitSteps) == 0 {
		return nil
	}
	p.commits.Add(1)
	return p.runCommitChain(ctx)
}

// runCompensateChain executes CompensateSteps priority descending
// (highest first), honoring StopOnFirstCompensationFailure.
func (p *CompensatingActionPolicy) runCompensateChain(ctx context.Context, cause error) error {
	steps := append([]CompensateStep(nil), p.CompensateSteps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority > steps[j].Priority })

	var errs []error
	for _, step := range steps {
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, cause); err != nil {
			errs = append(errs, err)
			if p.StopOnFirstCompensationFailure {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// runCommitChain executes CommitSteps priority ascending (lowest
// first), honoring StopOnFirstCommitFailure.
func (p *CompensatingActionPolicy) runCommitChain(ctx context.Context) error {
	steps := append([]CommitStep(nil), p.CommitSteps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })

	var errs []error
	for _, step := range steps {
		if step.Commit == nil {
			continue
		}
		if err := step.Commit(ctx); err != nil {
			errs = append(errs, err)
			if p.StopOnFirstCommitFailure {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// CompensationsRun reports how many executions triggered the
// compensate chain.
func (p *CompensatingActionPolicy) CompensationsRun() int64 {
	return p.compensations.Load()
}

// CommitsRun reports how many executions triggered the commit chain.
func (p *CompensatingActionPolicy) CommitsRun() int64 {
	return p.commits.Load()
}

func (p *CompensatingActionPolicy) Metrics() Metrics {
	return Metrics{Attempts: p.attempts.Load(), Successes: p.successes.Load(), Failures: p.failures.Load()}
}

func (p *CompensatingActionPolicy) Reset() {
	p.attempts.Store(0)
	p.successes.Store(0)
	p.failures.Store(0)
	p.compensations.Store(0)
	p.commits.Store(0)
}
