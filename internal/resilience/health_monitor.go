package resilience

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the four-level health classification of §4.3.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthDegraded
	HealthUnhealthy
	HealthCritical
)

func (s HealthStatus) String() string {
	switch s {
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthCritical:
		return "critical"
	default:
		return "healthy"
	}
}

// HealthCheck is one named, weighted probe contributing to the overall
// score. Check returns a value in [0, 1] where 1 is fully healthy.
type HealthCheck struct {
	Name   string
	Weight float64
	Check  func(ctx context.Context) (float64, error)
}

// HealthMonitor aggregates weighted HealthCheck results into a single
// score and derives a HealthStatus from it, per §4.3's health
// monitoring policy:
//
//	score = sum(weight_i * value_i) / sum(weight_i)
//
// score < CriticalBelow, or HasCriticalErrors reporting true, is
// Critical; otherwise score >= DegradedBelow is Healthy, score >=
// UnhealthyBelow is Degraded, and anything lower is Unhealthy.
type HealthMonitor struct {
	Checks           []HealthCheck
	DegradedBelow    float64 // default 0.8
	UnhealthyBelow   float64 // default 0.5
	CriticalBelow    float64 // default 0.2
	HasCriticalErrors func() bool
	OnStatusChanged  func(from, to HealthStatus, score float64)

	mu           sync.Mutex
	currentState HealthStatus
	lastScore    float64
	initialized  bool

	subMu       sync.RWMutex
	subscribers map[chan<- HealthSnapshot]struct{}
}

// HealthSnapshot is the value streamed to every Subscribe'd channel on
// each CheckHealth pass.
type HealthSnapshot struct {
	Status    HealthStatus
	Score     float64
	Timestamp time.Time
}

// Subscribe registers ch to receive a HealthSnapshot after every
// CheckHealth call. Delivery is non-blocking: a subscriber whose
// channel is full misses that snapshot rather than stalling the
// monitor. Unsubscribe removes it again.
func (m *HealthMonitor) Subscribe(ch chan<- HealthSnapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subscribers == nil {
		m.subscribers = make(map[chan<- HealthSnapshot]struct{})
	}
	m.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch, registered by a prior Subscribe call.
func (m *HealthMonitor) Unsubscribe(ch chan<- HealthSnapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.subscribers, ch)
}

func (m *HealthMonitor) broadcast(snapshot HealthSnapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// NewWeightedHealthMonitor wires the canonical §4.3 score:
//
//	0.3*(1-errorRate) + 0.25*(1-criticalRate) + 0.15*cbHealth +
//	0.10*retryEffectiveness + 0.10*fallbackEffectiveness + 0.10*performance
//
// Each argument returns its factor in [0, 1]; all run on every
// CheckHealth call.
func NewWeightedHealthMonitor(
	errorRate, criticalRate, cbHealth, retryEffectiveness, fallbackEffectiveness, performance func(ctx context.Context) (float64, error),
) *HealthMonitor {
	inverse := func(f func(ctx context.Context) (float64, error)) func(ctx context.Context) (float64, error) {
		return func(ctx context.Context) (float64, error) {
			v, err := f(ctx)
			return 1 - v, err
		}
	}
	return &HealthMonitor{Checks: []HealthCheck{
		{Name: "errorRate", Weight: 0.30, Check: inverse(errorRate)},
		{Name: "criticalRate", Weight: 0.25, Check: inverse(criticalRate)},
		{Name: "circuitBreaker", Weight: 0.15, Check: cbHealth},
		{Name: "retryEffectiveness", Weight: 0.10, Check: retryEffectiveness},
		{Name: "fallbackEffectiveness", Weight: 0.10, Check: fallbackEffectiveness},
		{Name: "performance", Weight: 0.10, Check: performance},
	}}
}

func (m *HealthMonitor) thresholds() (degraded, unhealthy, critical float64) {
	degraded = m.DegradedBelow
	if degraded == 0 {
		degraded = 0.8
	}
	unhealthy = m.UnhealthyBelow
	if unhealthy == 0 {
		unhealthy = 0.5
	}
	critical = m.CriticalBelow
	if critical == 0 {
		critical = 0.2
	}
	return
}

// CheckHealth runs every configured check, computes the weighted
// score, and reports the status transition if it changed.
func (m *HealthMonitor) CheckHealth(ctx context.Context) (HealthStatus, float64) {
	var weightedSum, totalWeight float64

	for _, c := range m.Checks {
		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		value, err := c.Check(ctx)
		if err != nil {
			value = 0
		}
		if value < 0 {
			value = 0
		} else if value > 1 {
			value = 1
		}
		weightedSum += weight * value
		totalWeight += weight
	}

	score := 1.0
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}

	degraded, unhealthy, critical := m.thresholds()
	var status HealthStatus
	switch {
	case score < critical || (m.HasCriticalErrors != nil && m.HasCriticalErrors()):
		status = HealthCritical
	case score < unhealthy:
		status = HealthUnhealthy
	case score < degraded:
		status = HealthDegraded
	default:
		status = HealthHealthy
	}

	m.mu.Lock()
	prev := m.currentState
	wasInitialized := m.initialized
	m.currentState = status
	m.lastScore = score
	m.initialized = true
	m.mu.Unlock()

	if (!wasInitialized || prev != status) && m.OnStatusChanged != nil {
		m.OnStatusChanged(prev, status, score)
	}
	m.broadcast(HealthSnapshot{Status: status, Score: score, Timestamp: time.Now()})
	return status, score
}

// Status returns the last computed status and score without running
// the checks again.
func (m *HealthMonitor) Status() (HealthStatus, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState, m.lastScore
}

// RunPeriodic calls CheckHealth every interval until ctx is cancelled.
func (m *HealthMonitor) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}
