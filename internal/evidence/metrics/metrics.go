package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for evidence uploads.
type Metrics struct {
	Files         *prometheus.CounterVec
	Bytes         prometheus.Counter
	StoreDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Files: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_evidence_files_total",
			Help: "Evidence files processed by outcome",
		}, []string{"outcome"}),

		Bytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicwatch_evidence_bytes_total",
			Help: "Bytes of evidence successfully attached",
		}),

		StoreDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicwatch_evidence_store_duration_seconds",
			Help:    "Duration of a single blob store call",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementFile(outcome string) {
	if m != nil {
		m.Files.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddBytes(n int64) {
	if m != nil {
		m.Bytes.Add(float64(n))
	}
}

func (m *Metrics) ObserveStore(d time.Duration) {
	if m != nil {
		m.StoreDuration.Observe(d.Seconds())
	}
}
