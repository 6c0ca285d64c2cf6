package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Cycle metrics
	CyclesRun       *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	DebitsCreated   *prometheus.CounterVec
	PaymentRetries  prometheus.Counter
	GroupsPaused    *prometheus.CounterVec
	PayoutsFinalized prometheus.Counter

	// Webhook metrics
	WebhookEvents *prometheus.CounterVec

	// Job queue metrics
	JobsProcessed  *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsDeadLetter *prometheus.CounterVec
	JobsStalled    prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gateway metrics
	GatewayCalls        *prometheus.CounterVec
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		CyclesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_run_total",
				Help:      "Total number of cycle ticks processed by outcome",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Cycle tick processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		DebitsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "debits_created_total",
				Help:      "Total number of debit intents created by result",
			},
			[]string{"result"},
		),
		PaymentRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_retries_total",
				Help:      "Total number of payment retry attempts",
			},
		),
		GroupsPaused: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_paused_total",
				Help:      "Total number of group pauses by reason",
			},
			[]string{"reason"},
		),
		PayoutsFinalized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payouts_finalized_total",
				Help:      "Total number of payouts finalized",
			},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total number of gateway webhook events by kind and result",
			},
			[]string{"kind", "result"},
		),
		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_processed_total",
				Help:      "Total number of jobs processed by kind and status",
			},
			[]string{"kind", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Job processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		JobsDeadLetter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_dead_letter_total",
				Help:      "Total number of jobs sent to the dead letter stream",
			},
			[]string{"kind"},
		),
		JobsStalled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_stalled_total",
				Help:      "Total number of stalled jobs reclaimed",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Total number of payment gateway calls by operation and result",
			},
			[]string{"operation", "result"},
		),
		CircuitBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Gateway circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.CyclesRun,
		m.CycleDuration,
		m.DebitsCreated,
		m.PaymentRetries,
		m.GroupsPaused,
		m.PayoutsFinalized,
		m.WebhookEvents,
		m.JobsProcessed,
		m.JobDuration,
		m.JobsDeadLetter,
		m.JobsStalled,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GatewayCalls,
		m.CircuitBreakerState,
	)

	return m
}
