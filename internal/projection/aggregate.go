package projection

import (
	"cmp"
	"math"
	"slices"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
)

// impactMultiplier scales summed severity into the citizen impact score.
const impactMultiplier = 10

// Summarize builds the citizen view over cases the viewer filed. Cases filed
// by anyone else are ignored.
func Summarize(cases []*models.Case, viewer id.Actor) *CitizenSummary {
	out := &CitizenSummary{Cases: []CaseSummary{}}
	var severity float64
	for _, c := range cases {
		if !c.IsOwnedBy(viewer.ID) {
			continue
		}
		out.Total++
		if c.Status == models.StatusResolved {
			out.Resolved++
		}
		if s := c.Severity(); s != nil {
			severity += *s
		}
		out.Cases = append(out.Cases, summarize(c, viewer))
	}
	out.Pending = out.Total - out.Resolved
	out.Impact = math.Round(severity*impactMultiplier*10) / 10
	slices.SortStableFunc(out.Cases, func(a, b CaseSummary) int {
		return b.FiledAt.Compare(a.FiledAt)
	})
	return out
}

// Queue orders cases for triage: highest severity first, unscored last, ties
// by earliest filing, then id.
func Queue(cases []*models.Case, viewer id.Actor) *OfficialQueue {
	sorted := slices.Clone(cases)
	slices.SortFunc(sorted, compareForTriage)
	out := &OfficialQueue{Cases: make([]CaseSummary, 0, len(sorted))}
	for _, c := range sorted {
		out.Cases = append(out.Cases, summarize(c, viewer))
	}
	return out
}

func compareForTriage(a, b *models.Case) int {
	sa, sb := a.Severity(), b.Severity()
	switch {
	case sa != nil && sb == nil:
		return -1
	case sa == nil && sb != nil:
		return 1
	case sa != nil && sb != nil && *sa != *sb:
		return cmp.Compare(*sb, *sa)
	}
	if c := a.FiledAt.Compare(b.FiledAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

// Tally aggregates the full case set. Points are left empty; the caller
// fills them with the configured cell level.
func Tally(cases []*models.Case) *AdminAnalytics {
	out := &AdminAnalytics{
		ByDepartment: map[string]int{},
		ByStatus:     map[string]int{},
		Total:        len(cases),
		Points:       []MapPoint{},
	}
	for _, s := range models.AllStatuses {
		out.ByStatus[string(s)] = 0
	}
	for _, c := range cases {
		out.ByDepartment[departmentOf(c)]++
		out.ByStatus[string(c.Status)]++
		if c.Status != models.StatusResolved {
			out.TotalActive++
		}
	}
	return out
}

// departmentOf falls back to the complaint type until analysis assigns a
// department.
func departmentOf(c *models.Case) string {
	if d := c.Department(); d != "" {
		return d
	}
	return string(c.Type)
}

func summarize(c *models.Case, viewer id.Actor) CaseSummary {
	s := CaseSummary{
		ID:            c.ID.String(),
		Title:         c.Title,
		ComplaintType: string(c.Type),
		Status:        string(c.Status),
		SeverityScore: c.Severity(),
		Department:    c.Department(),
		Anonymous:     c.Anonymous,
		FiledAt:       c.FiledAt,
	}
	if !c.Anonymous || c.IsOwnedBy(viewer.ID) {
		s.FilerID = c.FilerID.String()
	}
	return s
}
