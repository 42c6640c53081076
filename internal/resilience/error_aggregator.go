package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conduit-bus/conduit/internal/buserrors"
)

// ErrorRecord is one observed failure fed into an ErrorAggregator. Err
// is classified on arrival so the aggregator can roll up category,
// severity and criticality without re-deriving them at analysis time.
type ErrorRecord struct {
	CorrelationID string
	Component     string
	Err           error
	At            time.Time
}

func (r ErrorRecord) classify() *buserrors.BusError {
	if be, ok := r.Err.(*buserrors.BusError); ok {
		return be
	}
	return buserrors.Classify(r.Err, r.Component, "Record")
}

// ErrorSummary is the rolled-up view of a single correlation group,
// passed to Notify by Record's one-shot threshold notification.
type ErrorSummary struct {
	CorrelationID string
	Count         int
	FirstSeen     time.Time
	LastSeen      time.Time
	Sample        error
}

// errorCorrelation is the §3 ErrorCorrelation entity: the set of
// ErrorContexts sharing a correlation ID, tracked incrementally as
// each one is recorded.
type errorCorrelation struct {
	records               []ErrorRecord
	highestSeverity       buserrors.Severity
	affectedComponents    map[string]bool
	hasCriticalErrors     bool
	hasNonTransientErrors bool
}

func newErrorCorrelation() *errorCorrelation {
	return &errorCorrelation{affectedComponents: make(map[string]bool)}
}

func (g *errorCorrelation) add(rec ErrorRecord) {
	g.records = append(g.records, rec)
	if rec.Component != "" {
		g.affectedComponents[rec.Component] = true
	}
	be := rec.classify()
	if be.Severity > g.highestSeverity {
		g.highestSeverity = be.Severity
	}
	if be.IsCritical {
		g.hasCriticalErrors = true
	}
	if !be.IsTransient {
		g.hasNonTransientErrors = true
	}
}

// ErrorAnalysis is the §4.3 AnalyzeErrors result: a rollup across
// every tracked correlation within window, by category, severity and
// component, plus the headline figures a health dashboard wants.
type ErrorAnalysis struct {
	TotalErrors             int
	ByCategory              map[string]int
	BySeverity              map[string]int
	ByComponent             map[string]int
	TopExceptionTypes       []string
	HighestSeverityCount    int
	CriticalCount           int
	AverageErrorsPerCorrelation float64
}

// ErrorAggregator groups errors by correlation ID within a sliding
// Window and fires Notify once a group crosses either
// ErrorCountThreshold or TimeWindowThreshold, per §4.3's error
// aggregation policy.
type ErrorAggregator struct {
	Window              time.Duration
	ErrorCountThreshold int
	TimeWindowThreshold time.Duration
	Notify              func(summary ErrorSummary)

	mu       sync.Mutex
	groups   map[string]*errorCorrelation
	notified map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewErrorAggregator constructs an aggregator ready to record errors.
// timeWindowThreshold of 0 disables the time-window trigger, leaving
// errorCountThreshold as the sole notification condition.
func NewErrorAggregator(window time.Duration, errorCountThreshold int, timeWindowThreshold time.Duration, notify func(ErrorSummary)) *ErrorAggregator {
	return &ErrorAggregator{
		Window:              window,
		ErrorCountThreshold: errorCountThreshold,
		TimeWindowThreshold: timeWindowThreshold,
		Notify:              notify,
		groups:              make(map[string]*errorCorrelation),
		notified:            make(map[string]bool),
		stopCh:              make(chan struct{}),
	}
}

// Record adds a failure observation and evaluates both thresholds for
// its correlation group.
func (a *ErrorAggregator) Record(rec ErrorRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[rec.CorrelationID]
	if !ok {
		g = newErrorCorrelation()
		a.groups[rec.CorrelationID] = g
	}
	g.add(rec)
	a.evictOldLocked(g, rec.At)

	if a.notified[rec.CorrelationID] {
		return
	}

	crossedCount := a.ErrorCountThreshold > 0 && len(g.records) >= a.ErrorCountThreshold
	crossedWindow := a.TimeWindowThreshold > 0 && len(g.records) > 0 &&
		g.records[len(g.records)-1].At.Sub(g.records[0].At) >= a.TimeWindowThreshold

	if crossedCount || crossedWindow {
		a.notified[rec.CorrelationID] = true
		summary := a.summarizeLocked(rec.CorrelationID, g)
		if a.Notify != nil {
			a.Notify(summary)
		}
	}
}

func (a *ErrorAggregator) evictOldLocked(g *errorCorrelation, now time.Time) {
	if a.Window <= 0 {
		return
	}
	cutoff := now.Add(-a.Window)
	kept := g.records[:0]
	for _, r := range g.records {
		if r.At.After(cutoff) {
			kept = append(kept, r)
		}
	}
	g.records = kept
}

func (a *ErrorAggregator) summarizeLocked(correlationID string, g *errorCorrelation) ErrorSummary {
	s := ErrorSummary{CorrelationID: correlationID, Count: len(g.records)}
	if len(g.records) > 0 {
		s.FirstSeen = g.records[0].At
		s.LastSeen = g.records[len(g.records)-1].At
		s.Sample = g.records[len(g.records)-1].Err
	}
	return s
}

// AnalyzeErrors rolls up every correlation group whose most recent
// record falls within window of now, per §4.3: counts by category,
// severity and component, the most frequent exception type names, the
// count of errors at the highest severity observed, the count of
// critical errors, and the average error count per correlation.
func (a *ErrorAggregator) AnalyzeErrors(window time.Duration) ErrorAnalysis {
	a.mu.Lock()
	defer a.mu.Unlock()

	analysis := ErrorAnalysis{
		ByCategory:  make(map[string]int),
		BySeverity:  make(map[string]int),
		ByComponent: make(map[string]int),
	}

	var cutoff time.Time
	hasCutoff := window > 0
	if hasCutoff {
		cutoff = a.now().Add(-window)
	}

	exceptionCounts := make(map[string]int)
	correlationsConsidered := 0
	highestSeverity := buserrors.SeverityLow
	highestSeverityCount := 0

	for _, g := range a.groups {
		if len(g.records) == 0 {
			continue
		}
		if hasCutoff && g.records[len(g.records)-1].At.Before(cutoff) {
			continue
		}
		correlationsConsidered++

		for _, rec := range g.records {
			if hasCutoff && rec.At.Before(cutoff) {
				continue
			}
			be := rec.classify()
			analysis.TotalErrors++
			analysis.ByCategory[be.Category.String()]++
			analysis.BySeverity[be.Severity.String()]++
			if rec.Component != "" {
				analysis.ByComponent[rec.Component]++
			}
			exceptionCounts[exceptionTypeName(rec.Err)]++
			if be.IsCritical {
				analysis.CriticalCount++
			}
			if be.Severity > highestSeverity {
				highestSeverity = be.Severity
				highestSeverityCount = 1
			} else if be.Severity == highestSeverity {
				highestSeverityCount++
			}
		}
	}

	analysis.HighestSeverityCount = highestSeverityCount
	if correlationsConsidered > 0 {
		analysis.AverageErrorsPerCorrelation = float64(analysis.TotalErrors) / float64(correlationsConsidered)
	}
	analysis.TopExceptionTypes = topNames(exceptionCounts, 5)

	return analysis
}

// now exists so tests can't accidentally depend on wall-clock timing
// beyond the record timestamps they supply; AnalyzeErrors windows
// relative to the latest recorded timestamp when one is available.
func (a *ErrorAggregator) now() time.Time {
	var latest time.Time
	for _, g := range a.groups {
		if len(g.records) == 0 {
			continue
		}
		last := g.records[len(g.records)-1].At
		if last.After(latest) {
			latest = last
		}
	}
	if latest.IsZero() {
		return time.Now()
	}
	return latest
}

func exceptionTypeName(err error) string {
	if err == nil {
		return "unknown"
	}
	if be, ok := err.(*buserrors.BusError); ok && be.Cause != nil {
		err = be.Cause
	}
	return fmt.Sprintf("%T", err)
}

func topNames(counts map[string]int, n int) []string {
	type kv struct {
		name  string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for name, count := range counts {
		kvs = append(kvs, kv{name, count})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].name < kvs[j].name
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.name
	}
	return out
}

// GroupCount reports how many distinct correlation groups are tracked.
func (a *ErrorAggregator) GroupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// RunSweeper evicts empty and stale groups every interval until ctx is
// done or Stop is called.
func (a *ErrorAggregator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case now := <-ticker.C:
			a.sweep(now)
		}
	}
}

func (a *ErrorAggregator) sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, g := range a.groups {
		a.evictOldLocked(g, now)
		if len(g.records) == 0 {
			delete(a.groups, id)
			delete(a.notified, id)
		}
	}
}

// Stop terminates any running RunSweeper loop.
func (a *ErrorAggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}
