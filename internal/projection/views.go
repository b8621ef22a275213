package projection

import (
	"time"
)

// Kind names which of the three role views a View is.
type Kind string

const (
	KindCitizenSummary Kind = "citizen_summary"
	KindOfficialQueue  Kind = "official_queue"
	KindAdminAnalytics Kind = "admin_analytics"
)

// View is one of CitizenSummary, OfficialQueue or AdminAnalytics.
type View interface {
	Kind() Kind
}

// CaseSummary is a case as it appears in a list view.
type CaseSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ComplaintType string    `json:"complaint_type"`
	Status        string    `json:"status"`
	SeverityScore *float64  `json:"severity_score"`
	Department    string    `json:"department,omitempty"`
	FilerID       string    `json:"filer_id,omitempty"`
	Anonymous     bool      `json:"is_anonymous"`
	FiledAt       time.Time `json:"filed_at"`
}

// CitizenSummary is the caller's own dashboard.
type CitizenSummary struct {
	Total    int           `json:"total"`
	Resolved int           `json:"resolved"`
	Pending  int           `json:"pending"`
	Impact   float64       `json:"impact"`
	Cases    []CaseSummary `json:"cases"`
}

func (CitizenSummary) Kind() Kind { return KindCitizenSummary }

// OfficialQueue is every case in triage order.
type OfficialQueue struct {
	Cases []CaseSummary `json:"cases"`
}

func (OfficialQueue) Kind() Kind { return KindOfficialQueue }

// AdminAnalytics aggregates the full case set.
type AdminAnalytics struct {
	ByDepartment map[string]int `json:"by_department"`
	ByStatus     map[string]int `json:"by_status"`
	TotalActive  int            `json:"total_active"`
	Total        int            `json:"total"`
	Points       []MapPoint     `json:"points"`
}

func (AdminAnalytics) Kind() Kind { return KindAdminAnalytics }

// ApproxLocation is a location with coordinates snapped to a cell centre.
type ApproxLocation struct {
	Text      string   `json:"text,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Cell      string   `json:"cell,omitempty"`
}

// MapPoint is one located case on the map.
type MapPoint struct {
	ID            string         `json:"id"`
	SeverityScore *float64       `json:"severity_score"`
	Location      ApproxLocation `json:"approximate_location"`
	ComplaintType string         `json:"complaint_type"`
}

// Cluster groups map points that share a cell.
type Cluster struct {
	Cell        string   `json:"cell"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Count       int      `json:"count"`
	AvgSeverity *float64 `json:"avg_severity"`
	CaseIDs     []string `json:"case_ids"`
}
