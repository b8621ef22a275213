package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers analysis runs, collaborator latency and the background queue.
type Metrics struct {
	Outcomes         *prometheus.CounterVec
	AnalyzerDuration prometheus.Histogram
	AnchorFailures   prometheus.Counter
	QueueRejected    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_analysis_outcomes_total",
			Help: "Analysis attempts by outcome (applied, skipped, lost, failed)",
		}, []string{"outcome"}),

		AnalyzerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicwatch_analyzer_call_duration_seconds",
			Help:    "Latency of analyzer calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		AnchorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicwatch_anchor_failures_total",
			Help: "Anchoring calls that failed after a successful analysis",
		}),

		QueueRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicwatch_analysis_queue_rejected_total",
			Help: "Background analysis jobs dropped because the queue was full",
		}),
	}
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveAnalyzer(start time.Time) {
	if m != nil {
		m.AnalyzerDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncrementAnchorFailure() {
	if m != nil {
		m.AnchorFailures.Inc()
	}
}

func (m *Metrics) IncrementQueueRejected() {
	if m != nil {
		m.QueueRejected.Inc()
	}
}
