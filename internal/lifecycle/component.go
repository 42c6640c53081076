// Package lifecycle implements the §4.1 component state machine,
// manifest shape, and hook-driven transitions.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// State is one node of the §4.1 state machine.
type State int

const (
	StateDiscovered State = iota
	StateInitializing
	StateInitialized
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateDisposing
	StateDisposed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// allowedTransitions enumerates every legal State -> State edge in the
// §4.1 diagram, including the Failed escape from any in-flight state.
var allowedTransitions = map[State]map[State]bool{
	StateDiscovered:   {StateInitializing: true},
	StateInitializing: {StateInitialized: true, StateFailed: true},
	StateInitialized:  {StateStarting: true},
	StateStarting:     {StateStarted: true, StateFailed: true},
	StateStarted:      {StateStopping: true, StateFailed: true},
	StateStopping:     {StateStopped: true, StateFailed: true},
	StateStopped:      {StateDisposing: true},
	StateDisposing:    {StateDisposed: true, StateFailed: true},
	StateDisposed:     {},
	StateFailed:       {},
}

// IsolationLevel controls how a component's dependency tree is loaded.
type IsolationLevel int

const (
	IsolationNone IsolationLevel = iota
	IsolationStandard
	IsolationPlugin
)

// Dependency declares one edge out of a Manifest toward another
// component id, with an optional semver constraint.
type Dependency struct {
	ID         string
	Constraint string
	Optional   bool
}

// Manifest is the immutable identity and dependency declaration of a
// component, equivalent to the source's ComponentAttribute metadata.
type Manifest struct {
	ID                 string
	Name               string
	Version            string
	Description        string
	Author             string
	Tags               []string
	Dependencies       []Dependency
	MinFrameworkVersion string
	MaxFrameworkVersion string
	Isolation          IsolationLevel
}

// HealthStatus is the tri-state result of a health probe.
type HealthStatus int

const (
	ComponentHealthy HealthStatus = iota
	ComponentDegraded
	ComponentUnhealthy
)

// HealthReport is a probe result with an arbitrary data bag.
type HealthReport struct {
	Status HealthStatus
	Data   map[string]any
}

// Hooks are the lifecycle callbacks driving a Component's transitions.
// Any hook may be nil, in which case the transition is a no-op.
type Hooks struct {
	OnInitialize      func(ctx context.Context) error
	OnStart           func(ctx context.Context) error
	OnStop            func(ctx context.Context) error
	OnDispose         func(ctx context.Context) error
	PerformHealthCheck func(ctx context.Context) (HealthReport, error)
	CollectMetrics    func() map[string]float64
}

// HookTimeout bounds how long a single lifecycle hook may run.
const HookTimeout = 30 * time.Second

// Component is a loaded, stateful unit of extensibility driven
// through the §4.1 state machine by its Hooks.
type Component struct {
	Manifest Manifest
	Hooks    Hooks

	mu          sync.Mutex
	state       State
	lastHealth  HealthReport
	failureCause error
}

// NewComponent constructs a Component freshly Discovered.
func NewComponent(manifest Manifest, hooks Hooks) *Component {
	return &Component{Manifest: manifest, Hooks: hooks, state: StateDiscovered}
}

func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Component) FailureCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCause
}

func (c *Component) transition(to State) error {
	c.mu.Lock()
	from := c.state
	allowed := allowedTransitions[from][to]
	if allowed {
		c.state = to
	}
	c.mu.Unlock()

	if !allowed {
		return buserrors.New(buserrors.CategoryBusiness, buserrors.SeverityHigh, c.Manifest.ID, "transition",
			fmt.Errorf("%w: %s -> %s", buserrors.ErrInvalidStateTransition, from, to))
	}
	return nil
}

func (c *Component) fail(cause error) {
	c.mu.Lock()
	c.state = StateFailed
	c.failureCause = cause
	c.mu.Unlock()
}

func (c *Component) runHook(ctx context.Context, hook func(ctx context.Context) error) error {
	if hook == nil {
		return nil
	}
	hookCtx, cancel := context.WithTimeout(ctx, HookTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- hook(hookCtx) }()

	select {
	case err := <-done:
		return err
	case <-hookCtx.Done():
		return hookCtx.Err()
	}
}

// Initialize drives Discovered -> Initializing -> Initialized, or to
// Failed if OnInitialize errors.
func (c *Component) Initialize(ctx context.Context) error {
	if err := c.transition(StateInitializing); err != nil {
		return err
	}
	if err := c.runHook(ctx, c.Hooks.OnInitialize); err != nil {
		c.fail(err)
		return err
	}
	return c.transition(StateInitialized)
}

// Start drives Initialized -> Starting -> Started.
func (c *Component) Start(ctx context.Context) error {
	if err := c.transition(StateStarting); err != nil {
		return err
	}
	if err := c.runHook(ctx, c.Hooks.OnStart); err != nil {
		c.fail(err)
		return err
	}
	return c.transition(StateStarted)
}

// Stop drives Started -> Stopping -> Stopped.
func (c *Component) Stop(ctx context.Context) error {
	if err := c.transition(StateStopping); err != nil {
		return err
	}
	if err := c.runHook(ctx, c.Hooks.OnStop); err != nil {
		c.fail(err)
		return err
	}
	return c.transition(StateStopped)
}

// Dispose drives Stopped -> Disposing -> Disposed.
func (c *Component) Dispose(ctx context.Context) error {
	if err := c.transition(StateDisposing); err != nil {
		return err
	}
	if err := c.runHook(ctx, c.Hooks.OnDispose); err != nil {
		c.fail(err)
		return err
	}
	return c.transition(StateDisposed)
}

// CheckHealth runs the component's probe and caches the result.
func (c *Component) CheckHealth(ctx context.Context) HealthReport {
	if c.Hooks.PerformHealthCheck == nil {
		return HealthReport{Status: ComponentHealthy}
	}
	report, err := c.Hooks.PerformHealthCheck(ctx)
	if err != nil {
		report = HealthReport{Status: ComponentUnhealthy, Data: map[string]any{"error": err.Error()}}
	}
	c.mu.Lock()
	c.lastHealth = report
	c.mu.Unlock()
	return report
}

// LastHealth returns the most recently cached health report.
func (c *Component) LastHealth() HealthReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHealth
}
