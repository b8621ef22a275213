package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_projection_cache_lookups_total",
			Help: "Projection cache lookups by result (hit, miss, stale, error)",
		}, []string{"result"}),

		ComputeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civicwatch_projection_compute_duration_seconds",
			Help:    "Time spent recomputing a projection from the repository",
			Buckets: prometheus.DefBuckets,
		}, []string{"view"}),
	}
}

func (m *Metrics) IncrementLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveCompute(view string, start time.Time) {
	if m != nil {
		m.ComputeDuration.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}
}
