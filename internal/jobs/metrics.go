package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	overdueCount  prometheus.Gauge
	overdueAmount *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetOverdue publishes the result of the latest overdue scan. amounts is keyed
// by currency; currencies absent from amounts are reset to zero.
func (m *Metrics) SetOverdue(count int, amounts map[string]int64) {
	if m == nil {
		return
	}
	m.overdueCount.Set(float64(count))
	m.overdueAmount.Reset()
	for currency, amount := range amounts {
		m.overdueAmount.WithLabelValues(currency).Set(float64(amount))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	overdueCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_reimbursements_overdue",
		Help: "Pending reimbursements past their due date at the last scan.",
	})
	overdueAmount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backoffice_reimbursements_overdue_amount",
		Help: "Amount still to reimburse on overdue rows, by currency.",
	}, []string{"currency"})
	registerer.MustRegister(runs, failures, duration, overdueCount, overdueAmount)
	return &Metrics{runs: runs, failures: failures, duration: duration, overdueCount: overdueCount, overdueAmount: overdueAmount}
}
