package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DiscoveredComponent is the minimal shape a Manager needs from a
// discovery strategy: enough to build a Component and resolve its
// place in the dependency order. Concrete discovery strategies (see
// internal/lifecycle/discovery) produce richer values that satisfy
// this via adaptation at the call site, avoiding an import cycle
// between lifecycle and discovery.
type DiscoveredComponent struct {
	Manifest Manifest
	Factory  func() Hooks
}

// Manager orchestrates Discovery -> dependency resolution -> the
// Component state machine for every discovered candidate, per §4.1.
type Manager struct {
	mu         sync.Mutex
	components map[string]*Component
	order      []string
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{components: make(map[string]*Component)}
}

// Load builds a Component for each discovered candidate and records
// startOrder (ids, leaves-first) as the sequence Start will use.
func (m *Manager) Load(candidates []DiscoveredComponent, startOrder []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range candidates {
		if _, exists := m.components[c.Manifest.ID]; exists {
			return fmt.Errorf("component %s already loaded", c.Manifest.ID)
		}
		hooks := Hooks{}
		if c.Factory != nil {
			hooks = c.Factory()
		}
		m.components[c.Manifest.ID] = NewComponent(c.Manifest, hooks)
	}
	m.order = startOrder
	return nil
}

// Component returns a loaded component by id.
func (m *Manager) Component(id string) (*Component, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[id]
	return c, ok
}

// StartAll initializes and starts every component in dependency order,
// aborting dependents once a component fails to come up.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	order := append([]string{}, m.order...)
	m.mu.Unlock()

	for _, id := range order {
		c, ok := m.Component(id)
		if !ok {
			continue
		}
		if err := c.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", id, err)
		}
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops and disposes every component in reverse start order,
// collecting (not short-circuiting on) individual failures.
func (m *Manager) StopAll(ctx context.Context) []error {
	m.mu.Lock()
	order := append([]string{}, m.order...)
	m.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		c, ok := m.Component(order[i])
		if !ok || c.State() != StateStarted {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// HealthSnapshot returns every component's last cached health report,
// keyed by id, sorted for deterministic output.
func (m *Manager) HealthSnapshot() map[string]HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.components))
	for id := range m.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]HealthReport, len(ids))
	for _, id := range ids {
		out[id] = m.components[id].LastHealth()
	}
	return out
}
