package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for case filing and the lifecycle.
type Metrics struct {
	CasesFiled          *prometheus.CounterVec
	StatusTransitions   *prometheus.CounterVec
	TransitionConflicts prometheus.Counter
	NotesAdded          prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		CasesFiled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_cases_filed_total",
			Help: "Total cases filed by complaint type",
		}, []string{"type"}),

		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicwatch_case_status_transitions_total",
			Help: "Accepted status transitions by source and target status",
		}, []string{"from", "to"}),

		TransitionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicwatch_case_status_conflicts_total",
			Help: "Status compare-and-set attempts that lost to a concurrent writer",
		}),

		NotesAdded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicwatch_case_notes_added_total",
			Help: "Internal notes appended by staff",
		}),
	}
}

func (m *Metrics) IncrementFiled(complaintType string) {
	if m != nil {
		m.CasesFiled.WithLabelValues(complaintType).Inc()
	}
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.TransitionConflicts.Inc()
	}
}

func (m *Metrics) IncrementNotes() {
	if m != nil {
		m.NotesAdded.Inc()
	}
}
