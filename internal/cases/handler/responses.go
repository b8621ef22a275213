package handler

import (
	"time"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
)

// CaseResponse is the JSON shape of a case.
type CaseResponse struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	ComplaintType  string            `json:"complaint_type"`
	Location       *models.Location  `json:"location,omitempty"`
	FilerID        string            `json:"filer_id,omitempty"`
	Anonymous      bool              `json:"is_anonymous"`
	Status         string            `json:"status"`
	SeverityScore  *float64          `json:"severity_score"`
	Summary        string            `json:"ai_summary,omitempty"`
	Department     string            `json:"department,omitempty"`
	AnalysisStatus string            `json:"analysis_status"`
	AnchorHash     string            `json:"anchor_hash,omitempty"`
	Evidence       []models.Evidence `json:"evidence"`
	Notes          []NoteResponse    `json:"notes,omitempty"`
	FiledAt        time.Time         `json:"filed_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type NoteResponse struct {
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
}

// FromCase renders a case for the viewer. Anonymous filers are hidden from
// everyone but themselves.
func FromCase(c *models.Case, viewer id.Actor) *CaseResponse {
	resp := &CaseResponse{
		ID:             c.ID.String(),
		Title:          c.Title,
		Description:    c.Description,
		ComplaintType:  string(c.Type),
		Location:       c.Location,
		Anonymous:      c.Anonymous,
		Status:         string(c.Status),
		SeverityScore:  c.Severity(),
		AnalysisStatus: string(c.AnalysisState),
		AnchorHash:     c.AnchorHash,
		Evidence:       c.Evidence,
		FiledAt:        c.FiledAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if resp.Evidence == nil {
		resp.Evidence = []models.Evidence{}
	}
	if !c.Anonymous || c.IsOwnedBy(viewer.ID) {
		resp.FilerID = c.FilerID.String()
	}
	if c.Analysis != nil {
		resp.Summary = c.Analysis.Summary
		resp.Department = c.Analysis.Department
	}
	if len(c.Notes) > 0 {
		resp.Notes = FromNotes(c.Notes)
	}
	return resp
}

func FromCases(cs []*models.Case, viewer id.Actor) []*CaseResponse {
	out := make([]*CaseResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, FromCase(c, viewer))
	}
	return out
}

func FromNotes(notes []models.Note) []NoteResponse {
	out := make([]NoteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteResponse{
			AuthorID:  n.AuthorID.String(),
			Content:   n.Content,
			System:    n.System,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
