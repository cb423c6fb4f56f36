package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeResolved labels runs that reached RESOLVED.
	OutcomeResolved = "resolved"
	// OutcomeFailed labels runs that reached FAILED.
	OutcomeFailed = "failed"
)

var (
	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "remediations_total",
			Help:      "Total number of remediation runs, partitioned by terminal outcome.",
		},
		[]string{"outcome"},
	)

	remediationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_remediate",
			Name:      "remediation_seconds",
			Help:      "End-to-end remediation latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "llm_calls_total",
			Help:      "Chat-completion calls, partitioned by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	councilVotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "council_votes_total",
			Help:      "Council votes cast, partitioned by role and verdict.",
		},
		[]string{"role", "verdict"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "ws_clients",
			Help:      "Currently connected live-channel subscribers.",
		},
	)
)

// Register attaches mirador-remediate collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		remediationsTotal,
		remediationDurationSeconds,
		llmCallsTotal,
		councilVotesTotal,
		wsClients,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRemediation records a terminal run duration and outcome label.
func ObserveRemediation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeFailed {
		label = OutcomeResolved
	}
	remediationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	remediationDurationSeconds.Observe(duration.Seconds())
}

// ObserveLLMCall records one chat-completion attempt against an endpoint.
func ObserveLLMCall(endpoint string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	llmCallsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveVote records one council vote.
func ObserveVote(role, verdict string) {
	councilVotesTotal.WithLabelValues(role, verdict).Inc()
}

// SetWSClients updates the live subscriber gauge.
func SetWSClients(n int) {
	wsClients.Set(float64(n))
}
