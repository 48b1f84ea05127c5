package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics aggregates the counters exposed on /metrics. Constructed once per
// process; tests build isolated instances against private registries.
type Metrics struct {
	jobRuns      *prometheus.CounterVec
	jobErrors    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobItems     *prometheus.CounterVec
	webhookEvent *prometheus.CounterVec
	providerCall *prometheus.CounterVec
}

var Module = fx.Provide(New)

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_scheduler_job_runs_total",
			Help: "Number of scheduler job invocations.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_scheduler_job_errors_total",
			Help: "Number of per-item errors recorded by scheduler jobs.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "morada_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_scheduler_job_items_total",
			Help: "Items processed by scheduler jobs.",
		}, []string{"job"}),
		webhookEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_webhook_events_total",
			Help: "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		providerCall: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "morada_provider_calls_total",
			Help: "Outbound billing provider calls by operation and result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.jobRuns, m.jobErrors, m.jobDuration, m.jobItems, m.webhookEvent, m.providerCall)
	return m
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) AddJobErrors(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.jobErrors.WithLabelValues(job).Add(float64(count))
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) AddJobItems(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.jobItems.WithLabelValues(job).Add(float64(count))
}

func (m *Metrics) IncWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvent.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncProviderCall(operation, result string) {
	if m == nil {
		return
	}
	m.providerCall.WithLabelValues(operation, result).Inc()
}
