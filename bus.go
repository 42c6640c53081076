// Package conduit wires the §4 subsystems (registry, resilience,
// transport, dispatcher, lifecycle) into a single runnable bus and
// owns the process-level startup and shutdown ordering around them.
package conduit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/conduit-bus/conduit/internal/config"
	"github.com/conduit-bus/conduit/internal/dispatcher"
	"github.com/conduit-bus/conduit/internal/dlq"
	"github.com/conduit-bus/conduit/internal/flowcontrol"
	"github.com/conduit-bus/conduit/internal/lifecycle"
	"github.com/conduit-bus/conduit/internal/lifecycle/dependency"
	"github.com/conduit-bus/conduit/internal/lifecycle/discovery"
	"github.com/conduit-bus/conduit/internal/message"
	"github.com/conduit-bus/conduit/internal/registry"
	"github.com/conduit-bus/conduit/internal/resilience"
	"github.com/conduit-bus/conduit/internal/transport"
	"github.com/conduit-bus/conduit/internal/transport/redistransport"
	"github.com/conduit-bus/conduit/internal/transport/wstransport"
	"github.com/conduit-bus/conduit/pkg/busmetrics"
)

// Bus is a fully wired Conduit instance: a registry callers register
// handlers against, a dispatcher gating and routing SendCommand,
// SendQuery and Publish, a transport for inbound/outbound wire
// traffic, a health monitor, and a lifecycle manager for discovered
// components.
type Bus struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registry   *registry.Registry
	Flow       *flowcontrol.FlowController
	DLQ        *dlq.DLQ
	Dispatcher *dispatcher.Dispatcher
	Health     *resilience.HealthMonitor
	Manager    *lifecycle.Manager
	Transport  transport.Transport
	Metrics    *busmetrics.Metrics
	Registerer *prometheus.Registry

	closed       atomic.Bool
	sweepCancel  context.CancelFunc
	sweepWG      sync.WaitGroup
	healthCancel context.CancelFunc
	healthWG     sync.WaitGroup
}

// New builds every subsystem from cfg but does not connect the
// transport or start any background loop; call Start for that.
func New(cfg *config.Config, log *slog.Logger) (*Bus, error) {
	if log == nil {
		log = slog.Default()
	}

	reg := registry.New()
	flow := flowcontrol.New(cfg.FlowControl.MaxConcurrentMessages, cfg.FlowControl.RateLimitPerSecond, cfg.FlowControl.MaxQueueSize)
	deadLetter := dlq.New(cfg.DLQ.MaxCapacity, cfg.DLQ.RetentionPeriod)

	promReg := prometheus.NewRegistry()
	metrics := busmetrics.New(promReg)

	tr, err := buildTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	pcfg := toPipelineConfig(cfg.Pipeline)
	behaviors := []dispatcher.Behavior{
		dispatcher.CorrelationIDPropagationBehavior(),
		dispatcher.LoggingBehavior(pcfg, log),
		dispatcher.TimeoutBehavior(pcfg),
		dispatcher.CachingBehavior(pcfg),
		dispatcher.MetricsBehavior(pcfg, metrics),
	}
	disp := dispatcher.New(reg, flow, deadLetter, log, pcfg, behaviors...)

	health := resilience.NewWeightedHealthMonitor(
		dispatcherErrorRate(disp),
		dlqCriticalRate(deadLetter, cfg.DLQ.MaxCapacity),
		constantFactor(1.0),
		constantFactor(1.0),
		constantFactor(1.0),
		flowPerformanceFactor(flow),
	)
	health.DegradedBelow = cfg.HealthMonitor.DegradedBelow
	health.UnhealthyBelow = cfg.HealthMonitor.UnhealthyBelow
	health.CriticalBelow = cfg.HealthMonitor.CriticalBelow
	health.OnStatusChanged = func(from, to resilience.HealthStatus, score float64) {
		log.Warn("health status changed", "from", from, "to", to, "score", score)
	}

	return &Bus{
		Config:     cfg,
		Logger:     log,
		Registry:   reg,
		Flow:       flow,
		DLQ:        deadLetter,
		Dispatcher: disp,
		Health:     health,
		Manager:    lifecycle.NewManager(),
		Transport:  tr,
		Metrics:    metrics,
		Registerer: promReg,
	}, nil
}

func buildTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "redis":
		opts := &redis.Options{
			Addr:     cfg.Transport.Redis.Addr,
			Password: cfg.Transport.Redis.Password,
			DB:       cfg.Transport.Redis.DB,
		}
		return redistransport.New("redis", opts), nil
	case "websocket":
		return wstransport.New("websocket", cfg.Transport.WS.URL), nil
	default:
		return transport.NewInMemory("memory"), nil
	}
}

func toPipelineConfig(c config.PipelineConfig) dispatcher.PipelineConfig {
	strategy := dispatcher.ErrorStrategyContinue
	switch c.ErrorStrategy {
	case "fail_fast":
		strategy = dispatcher.ErrorStrategyFailFast
	case "dead_letter":
		strategy = dispatcher.ErrorStrategyDeadLetter
	}
	return dispatcher.PipelineConfig{
		IsEnabled:            c.IsEnabled,
		AsyncExecution:       c.AsyncExecution,
		MaxConcurrency:       c.MaxConcurrency,
		Timeout:              c.Timeout,
		MaxRetries:           c.MaxRetries,
		RetryDelay:           c.RetryDelay,
		PreserveOrder:        c.PreserveOrder,
		FailFast:             c.FailFast,
		CacheEnabled:         c.CacheEnabled,
		ErrorStrategy:        strategy,
		DefaultTimeout:       c.DefaultTimeout,
		DefaultCacheDuration: c.DefaultCacheDuration,
		MetricsEnabled:       c.MetricsEnabled,
		TracingEnabled:       c.TracingEnabled,
		MaxCacheSize:         c.MaxCacheSize,
		ValidationEnabled:    c.ValidationEnabled,
		DeadLetterEnabled:    c.DeadLetterEnabled,
	}
}

func constantFactor(v float64) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) { return v, nil }
}

// dispatcherErrorRate aggregates every message type's failure ratio
// into one [0, 1] value for the health monitor's errorRate check.
func dispatcherErrorRate(d *dispatcher.Dispatcher) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		stats := d.Statistics()
		var sent, failed int64
		for _, s := range stats {
			sent += s.Sent
			failed += s.Failed
		}
		if sent == 0 {
			return 0, nil
		}
		return float64(failed) / float64(sent), nil
	}
}

// dlqCriticalRate treats DLQ fullness as a proxy for how much of the
// system's traffic is being terminally rejected.
func dlqCriticalRate(q *dlq.DLQ, capacity int) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		if capacity <= 0 {
			return 0, nil
		}
		return float64(q.Count()) / float64(capacity), nil
	}
}

// flowPerformanceFactor reports the flow controller's own health
// signal (queue depth relative to its cap) as the performance factor.
func flowPerformanceFactor(f *flowcontrol.FlowController) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		if f.IsHealthy() {
			return 1.0, nil
		}
		return 0.0, nil
	}
}

// Start connects the transport and launches the health monitor and
// DLQ sweeper loops. It does not start the lifecycle manager; call
// LoadComponents and Manager.StartAll for discovered components.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	b.healthCancel = healthCancel
	b.healthWG.Add(1)
	go func() {
		defer b.healthWG.Done()
		interval := b.Config.HealthMonitor.Interval
		if interval <= 0 {
			interval = 10 * time.Second
		}
		b.Health.RunPeriodic(healthCtx, interval)
	}()

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	b.sweepCancel = sweepCancel
	b.sweepWG.Add(1)
	go func() {
		defer b.sweepWG.Done()
		interval := b.Config.DLQ.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				b.DLQ.Sweep()
				b.Metrics.SetDLQDepth(b.DLQ.Count())
			}
		}
	}()

	b.Logger.Info("bus started", "transport", b.Config.Transport.Kind)
	return nil
}

// LoadComponents discovers components under cfg.Discovery.Directory
// and loads them into the lifecycle Manager, ordered by the dependency
// graph's topological sort.
func (b *Bus) LoadComponents(ctx context.Context, resolve discovery.FactoryResolver) error {
	source := discovery.NewDirectorySource(b.Config.Discovery.Directory, resolve)
	if !source.Enabled() {
		return nil
	}

	found, err := source.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover components: %w", err)
	}

	candidates := make([]lifecycle.DiscoveredComponent, 0, len(found))
	manifests := make([]lifecycle.Manifest, 0, len(found))
	for _, c := range found {
		candidates = append(candidates, lifecycle.DiscoveredComponent{Manifest: c.Manifest, Factory: c.Factory})
		manifests = append(manifests, c.Manifest)
	}

	order, err := dependencyOrder(manifests)
	if err != nil {
		return fmt.Errorf("resolve dependencies: %w", err)
	}
	return b.Manager.Load(candidates, order)
}

// dependencyOrder resolves a leaves-first start order from each
// manifest's declared dependencies, failing on a dependency cycle.
func dependencyOrder(manifests []lifecycle.Manifest) ([]string, error) {
	graph := dependency.Build(manifests)
	if err := graph.DetectCycle(); err != nil {
		return nil, err
	}
	return graph.TopologicalSort(), nil
}

// SendCommand routes to the dispatcher unless the bus is shutting
// down, in which case admission is refused outright (the first step
// of the shutdown sequence: close admission, then drain, then
// disconnect, then stop sweepers).
func (b *Bus) SendCommand(ctx context.Context, msg *message.Message) (any, error) {
	if b.closed.Load() {
		return nil, context.Canceled
	}
	return b.Dispatcher.SendCommand(ctx, msg)
}

// SendQuery mirrors SendCommand's admission-closed check.
func (b *Bus) SendQuery(ctx context.Context, msg *message.Message) (any, error) {
	if b.closed.Load() {
		return nil, context.Canceled
	}
	return b.Dispatcher.SendQuery(ctx, msg)
}

// Publish mirrors SendCommand's admission-closed check.
func (b *Bus) Publish(ctx context.Context, msg *message.Message) error {
	if b.closed.Load() {
		return context.Canceled
	}
	return b.Dispatcher.Publish(ctx, msg)
}

// Shutdown runs the supplemented graceful-shutdown sequence: close
// admission to new messages, wait (up to deadline) for in-flight work
// to drain, disconnect the transport, then stop the background
// sweepers. Components loaded into the lifecycle Manager are stopped
// between the drain and the transport disconnect, since a component
// may still be sending through the transport as it winds down.
func (b *Bus) Shutdown(ctx context.Context, deadline time.Duration) error {
	b.closed.Store(true)
	b.Logger.Info("bus shutdown: admission closed")

	drainDeadline := time.Now().Add(deadline)
	for b.Flow.InFlight() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(25 * time.Millisecond)
	}
	if inFlight := b.Flow.InFlight(); inFlight > 0 {
		b.Logger.Warn("bus shutdown: drain deadline exceeded", "in_flight", inFlight)
	} else {
		b.Logger.Info("bus shutdown: drained")
	}

	var errs []error
	for _, err := range b.Manager.StopAll(ctx) {
		errs = append(errs, err)
	}

	if err := b.Transport.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect transport: %w", err))
	}
	if err := b.Transport.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose transport: %w", err))
	}

	if b.healthCancel != nil {
		b.healthCancel()
		b.healthWG.Wait()
	}
	if b.sweepCancel != nil {
		b.sweepCancel()
		b.sweepWG.Wait()
	}
	b.Logger.Info("bus shutdown: complete")

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
