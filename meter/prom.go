package meter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/penscribe/llmgate"
)

// PromMeter exports pipeline events as Prometheus metrics.
type PromMeter struct {
	admissions *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	results    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ llmgate.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter and registers its collectors with reg.
// Pass prometheus.DefaultRegisterer to use the default registry.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	m := &PromMeter{
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_admissions_total",
				Help: "Admission decisions by tier, action and outcome.",
			},
			[]string{"tier", "action", "allowed"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_provider_attempts_total",
				Help: "Provider calls by provider and role.",
			},
			[]string{"provider", "role"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_results_total",
				Help: "Terminal generation outcomes by provider and failure kind.",
			},
			[]string{"provider", "role", "outcome", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmgate_generation_duration_seconds",
				Help:    "End-to-end generation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "outcome"},
		),
	}
	reg.MustRegister(m.admissions, m.attempts, m.results, m.duration)
	return m
}

func (m *PromMeter) OnAdmit(e llmgate.AdmitEvent) {
	m.admissions.WithLabelValues(string(e.Tier), e.Action, boolLabel(e.Allowed)).Inc()
}

func (m *PromMeter) OnAttempt(e llmgate.AttemptEvent) {
	m.attempts.WithLabelValues(e.Provider, string(e.Role)).Inc()
}

func (m *PromMeter) OnResult(e llmgate.ResultEvent) {
	outcome := "success"
	kind := ""
	if !e.Success {
		outcome = "failure"
		kind = e.Kind.String()
	}
	m.results.WithLabelValues(e.Provider, string(e.Role), outcome, kind).Inc()
	m.duration.WithLabelValues(e.Provider, outcome).Observe(e.Duration.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
