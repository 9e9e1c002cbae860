package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ Recorder = (*PrometheusRecorder)(nil)

// PrometheusRecorder implements Recorder using Prometheus instruments.
type PrometheusRecorder struct {
	jobsTotal            *prometheus.CounterVec
	jobDuration          prometheus.Histogram
	recordsTotal         prometheus.Counter
	ruleCallsTotal       *prometheus.CounterVec
	ruleCallDuration     *prometheus.HistogramVec
	gateWaitDuration     prometheus.Histogram
	promptVersionChanges *prometheus.CounterVec
}

// NewPrometheusRecorder registers the instruments with reg and returns the
// recorder. A nil reg uses the process-default registry; tests pass their
// own registry to avoid duplicate registration.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_jobs_total",
				Help: "Total number of compliance jobs by outcome",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "compliance_job_duration_seconds",
				Help:    "Wall time of one compliance job",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		recordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "compliance_records_processed_total",
				Help: "Total number of records processed across all jobs",
			},
		),
		ruleCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_rule_calls_total",
				Help: "Total number of rule executions by rule and outcome",
			},
			[]string{"rule_id", "status"},
		),
		ruleCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compliance_rule_call_duration_seconds",
				Help:    "Duration of one rule execution including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule_id"},
		),
		gateWaitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rate_limit_wait_seconds",
				Help:    "Time spent waiting at the rate-limit gate",
				Buckets: prometheus.DefBuckets,
			},
		),
		promptVersionChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_version_changes_total",
				Help: "Cached prompts replaced by a different registry version",
			},
			[]string{"rule_id"},
		),
	}
}

// ObserveJob records one finished job.
func (m *PrometheusRecorder) ObserveJob(status string, duration time.Duration) {
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(duration.Seconds())
}

// AddRecords counts records admitted into processing.
func (m *PrometheusRecorder) AddRecords(n int) {
	m.recordsTotal.Add(float64(n))
}

// ObserveRuleCall records one rule execution.
func (m *PrometheusRecorder) ObserveRuleCall(ruleID string, failed bool, duration time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.ruleCallsTotal.WithLabelValues(ruleID, status).Inc()
	m.ruleCallDuration.WithLabelValues(ruleID).Observe(duration.Seconds())
}

// ObserveGateWait records time spent in the rate-limit gate before an LLM
// call was allowed to proceed.
func (m *PrometheusRecorder) ObserveGateWait(d time.Duration) {
	m.gateWaitDuration.Observe(d.Seconds())
}

// IncPromptVersionChange counts a prompt version replacement.
func (m *PrometheusRecorder) IncPromptVersionChange(ruleID string) {
	m.promptVersionChanges.WithLabelValues(ruleID).Inc()
}
