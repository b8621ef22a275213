package models

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

const (
	MaxTitleLength   = 255
	MaxNoteLength    = 4000
	MaxSeverityScore = 10.0
)

// Case is the aggregate root for a filed complaint.
//
// Invariants:
//   - FilerID is set at creation and never changes
//   - Status only moves forward: filed, investigating, resolved
//   - Analysis is written at most once
//   - Evidence order is upload order
type Case struct {
	ID            id.CaseID     `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Type          ComplaintType `json:"complaint_type"`
	Location      *Location     `json:"location,omitempty"`
	FilerID       id.UserID     `json:"filer_id"`
	Anonymous     bool          `json:"is_anonymous"`
	Status        Status        `json:"status"`
	Analysis      *Analysis     `json:"analysis,omitempty"`
	AnalysisState AnalysisState `json:"analysis_status"`
	AnchorHash    string        `json:"anchor_hash,omitempty"`
	FiledAt       time.Time     `json:"filed_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Evidence      []Evidence    `json:"evidence"`
	Notes         []Note        `json:"notes,omitempty"`
}

// Location is free text plus optional coordinates.
type Location struct {
	Text      string   `json:"text,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both coordinates are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Analysis is the once-written output of the analysis collaborator.
type Analysis struct {
	SeverityScore float64   `json:"severity_score"`
	Summary       string    `json:"summary"`
	Department    string    `json:"department,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// AnalysisResult is what an analyzer returns before normalization.
type AnalysisResult struct {
	SeverityScore float64 `json:"severity_score"`
	Summary       string  `json:"summary"`
	Category      string  `json:"category,omitempty"`
}

// Evidence references a stored blob. Immutable once attached.
type Evidence struct {
	ID          id.EvidenceID `json:"id"`
	Ref         string        `json:"ref"`
	Name        string        `json:"name"`
	Size        int64         `json:"size"`
	ContentType string        `json:"content_type,omitempty"`
	SHA256      string        `json:"sha256"`
	UploadedAt  time.Time     `json:"uploaded_at"`
}

// Note is a staff-only annotation. System notes record status changes.
type Note struct {
	AuthorID  id.UserID `json:"author_id"`
	Content   string    `json:"content"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCase validates input and builds a case in the filed state.
func NewCase(caseID id.CaseID, filer id.UserID, title, description string, typ ComplaintType, loc *Location, anonymous bool, now time.Time) (*Case, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, dErrors.New(dErrors.CodeValidation, "title must be 255 characters or less")
	}
	if strings.TrimSpace(description) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "description is required")
	}
	if filer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "filer is required")
	}
	if typ == "" {
		typ = TypeOthers
	}
	if err := loc.validate(); err != nil {
		return nil, err
	}
	return &Case{
		ID:            caseID,
		Title:         title,
		Description:   description,
		Type:          typ,
		Location:      loc.normalize(),
		FilerID:       filer,
		Anonymous:     anonymous,
		Status:        StatusFiled,
		AnalysisState: AnalysisPending,
		FiledAt:       now,
		UpdatedAt:     now,
		Evidence:      []Evidence{},
	}, nil
}

func (l *Location) validate() error {
	if l == nil {
		return nil
	}
	if (l.Latitude == nil) != (l.Longitude == nil) {
		return dErrors.New(dErrors.CodeValidation, "latitude and longitude must be given together")
	}
	if l.Latitude != nil && (*l.Latitude < -90 || *l.Latitude > 90) {
		return dErrors.New(dErrors.CodeValidation, "latitude out of range")
	}
	if l.Longitude != nil && (*l.Longitude < -180 || *l.Longitude > 180) {
		return dErrors.New(dErrors.CodeValidation, "longitude out of range")
	}
	return nil
}

func (l *Location) normalize() *Location {
	if l == nil {
		return nil
	}
	text := strings.TrimSpace(l.Text)
	if text == "" && !l.HasCoordinates() {
		return nil
	}
	return &Location{Text: text, Latitude: l.Latitude, Longitude: l.Longitude}
}

// IsOwnedBy reports whether the user filed the case.
func (c *Case) IsOwnedBy(user id.UserID) bool {
	return c.FilerID == user
}

// VisibleTo is the read access rule: staff see every case, citizens only
// their own.
func (c *Case) VisibleTo(actor id.Actor) bool {
	return actor.Role.IsStaff() || c.IsOwnedBy(actor.ID)
}

// CanTransition validates a status change without applying it.
func (c *Case) CanTransition(target Status) error {
	if !c.Status.CanTransitionTo(target) {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"cannot move case from "+string(c.Status)+" to "+string(target))
	}
	return nil
}

// IsAnalyzed reports whether a severity score has been recorded.
func (c *Case) IsAnalyzed() bool {
	return c.Analysis != nil
}

// Severity returns the score, or nil when not analyzed.
func (c *Case) Severity() *float64 {
	if c.Analysis == nil {
		return nil
	}
	s := c.Analysis.SeverityScore
	return &s
}

// Department is the analysis-assigned department, or "" when none.
func (c *Case) Department() string {
	if c.Analysis == nil {
		return ""
	}
	return c.Analysis.Department
}

// WithoutNotes returns a shallow copy with internal notes removed.
func (c *Case) WithoutNotes() *Case {
	cp := *c
	cp.Notes = nil
	return &cp
}

// Normalize turns a raw analyzer result into a persisted analysis.
// The score is clamped to [0, 10] and rounded to one decimal.
func (r AnalysisResult) Normalize(now time.Time) (Analysis, error) {
	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		return Analysis{}, dErrors.New(dErrors.CodeAnalysisUnavailable, "analyzer returned an empty summary")
	}
	if math.IsNaN(r.SeverityScore) {
		return Analysis{}, dErrors.New(dErrors.CodeAnalysisUnavailable, "analyzer returned an invalid severity score")
	}
	score := math.Max(0, math.Min(MaxSeverityScore, r.SeverityScore))
	score = math.Round(score*10) / 10
	return Analysis{
		SeverityScore: score,
		Summary:       summary,
		Department:    strings.ToLower(strings.TrimSpace(r.Category)),
		CompletedAt:   now,
	}, nil
}

// NewNote validates a staff note.
func NewNote(author id.UserID, content string, now time.Time) (Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Note{}, dErrors.New(dErrors.CodeValidation, "note content is required")
	}
	if utf8.RuneCountInString(content) > MaxNoteLength {
		return Note{}, dErrors.New(dErrors.CodeValidation, "note must be 4000 characters or less")
	}
	return Note{AuthorID: author, Content: content, CreatedAt: now}, nil
}

// StatusChangeNote records who moved the case and between which states.
func StatusChangeNote(actor id.Actor, from, to Status, now time.Time) Note {
	return Note{
		AuthorID:  actor.ID,
		Content:   "status changed from " + string(from) + " to " + string(to) + " by " + actor.ID.String(),
		System:    true,
		CreatedAt: now,
	}
}
