// Package busmetrics exposes Prometheus instrumentation for the bus:
// dispatcher throughput, resilience policy outcomes, transport wire
// statistics, dead-letter queue depth, and flow-controller admission.
package busmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/histogram/gauge the bus records.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	RetryAttemptsTotal    *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
	FallbacksTotal        *prometheus.CounterVec
	CompensationsTotal    *prometheus.CounterVec
	HealthScore           prometheus.Gauge

	TransportMessagesSent     *prometheus.CounterVec
	TransportMessagesReceived *prometheus.CounterVec
	TransportSendFailures     *prometheus.CounterVec
	TransportSendDuration     *prometheus.HistogramVec

	DLQDepth           prometheus.Gauge
	DLQEntriesTotal    prometheus.Counter
	DLQReprocessedTotal prometheus.Counter

	FlowQueueDepth     prometheus.Gauge
	FlowInFlight       prometheus.Gauge
	FlowRejectedTotal  prometheus.Counter
}

// New creates and registers every bus metric against registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_dispatch_total",
				Help: "Total number of dispatched messages by type and outcome",
			},
			[]string{"message_type", "outcome"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_dispatch_duration_seconds",
				Help:    "Dispatch handler duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"message_type"},
		),
		RetryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_retry_attempts_total",
				Help: "Total number of retry attempts by policy outcome",
			},
			[]string{"outcome"}, // success, exhausted, non_retryable
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conduit_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"name"},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_fallbacks_total",
				Help: "Total number of fallback actions taken",
			},
			[]string{"name"},
		),
		CompensationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_compensations_total",
				Help: "Total number of compensating actions run",
			},
			[]string{"name"},
		),
		HealthScore: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_health_score",
				Help: "Weighted health monitor score in [0, 1]",
			},
		),
		TransportMessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_transport_messages_sent_total",
				Help: "Total number of messages sent per transport",
			},
			[]string{"transport"},
		),
		TransportMessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_transport_messages_received_total",
				Help: "Total number of messages received per transport",
			},
			[]string{"transport"},
		),
		TransportSendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_transport_send_failures_total",
				Help: "Total number of failed sends per transport",
			},
			[]string{"transport"},
		),
		TransportSendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_transport_send_duration_seconds",
				Help:    "Transport send duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"transport"},
		),
		DLQDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_dlq_depth",
				Help: "Current number of entries held in the dead-letter queue",
			},
		),
		DLQEntriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conduit_dlq_entries_total",
				Help: "Total number of entries ever added to the dead-letter queue",
			},
		),
		DLQReprocessedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conduit_dlq_reprocessed_total",
				Help: "Total number of dead-letter entries reprocessed",
			},
		),
		FlowQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_flowcontrol_queue_depth",
				Help: "Current number of callers waiting for admission",
			},
		),
		FlowInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_flowcontrol_in_flight",
				Help: "Current number of admitted in-flight messages",
			},
		),
		FlowRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conduit_flowcontrol_rejected_total",
				Help: "Total number of permits rejected due to backpressure",
			},
		),
	}
}

// ObserveDispatch implements dispatcher.MetricsRecorder.
func (m *Metrics) ObserveDispatch(messageType string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.DispatchTotal.WithLabelValues(messageType, outcome).Inc()
	m.DispatchDuration.WithLabelValues(messageType).Observe(elapsed.Seconds())
}

// ObserveTransportSend records a transport-level send outcome.
func (m *Metrics) ObserveTransportSend(transport string, err error, elapsed time.Duration) {
	m.TransportMessagesSent.WithLabelValues(transport).Inc()
	m.TransportSendDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
	if err != nil {
		m.TransportSendFailures.WithLabelValues(transport).Inc()
	}
}

// ObserveTransportReceive records a transport-level delivery.
func (m *Metrics) ObserveTransportReceive(transport string) {
	m.TransportMessagesReceived.WithLabelValues(transport).Inc()
}

// SetCircuitBreakerState records the numeric state (0=closed, 1=open,
// 2=half_open, matching resilience.State's iota order) of a named
// circuit breaker.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// SetDLQDepth and SetFlowControl* mirror the current gauges a periodic
// sweep or poll loop would publish.
func (m *Metrics) SetDLQDepth(depth int)        { m.DLQDepth.Set(float64(depth)) }
func (m *Metrics) SetFlowQueueDepth(depth int)  { m.FlowQueueDepth.Set(float64(depth)) }
func (m *Metrics) SetFlowInFlight(inFlight int) { m.FlowInFlight.Set(float64(inFlight)) }
