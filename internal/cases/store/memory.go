package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
)

// InMemory is a thread-safe case repository for tests and single-node runs.
// Every successful write bumps a repository-wide revision.
type InMemory struct {
	mu       sync.RWMutex
	cases    map[id.CaseID]*models.Case
	revision int64
}

func NewInMemory() *InMemory {
	return &InMemory{cases: make(map[id.CaseID]*models.Case)}
}

func (s *InMemory) Create(_ context.Context, c *models.Case) error {
	if c == nil {
		return fmt.Errorf("case is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %s: %w", c.ID, sentinel.ErrConflict)
	}
	s.cases[c.ID] = clone(c)
	s.revision++
	return nil
}

func (s *InMemory) FindByID(_ context.Context, caseID id.CaseID) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	return clone(c), nil
}

// ListByFiler returns the filer's cases, newest first.
func (s *InMemory) ListByFiler(_ context.Context, filer id.UserID) ([]*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Case
	for _, c := range s.cases {
		if c.FilerID == filer {
			out = append(out, clone(c))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListAll returns every case, newest first.
func (s *InMemory) ListAll(_ context.Context) ([]*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, clone(c))
	}
	sortNewestFirst(out)
	return out, nil
}

// UpdateStatus moves the case from one status to another only if it is still
// in from, and records the note in the same step.
func (s *InMemory) UpdateStatus(_ context.Context, caseID id.CaseID, from, to models.Status, note models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	if c.Status != from {
		return fmt.Errorf("case %s status is %s: %w", caseID, c.Status, sentinel.ErrConflict)
	}
	c.Status = to
	c.UpdatedAt = note.CreatedAt
	c.Notes = append(c.Notes, note)
	s.revision++
	return nil
}

func (s *InMemory) AppendNote(_ context.Context, caseID id.CaseID, note models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	c.Notes = append(c.Notes, note)
	c.UpdatedAt = note.CreatedAt
	s.revision++
	return nil
}

// AppendEvidence adds one evidence row at the end of the case's list.
func (s *InMemory) AppendEvidence(_ context.Context, caseID id.CaseID, ev models.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	c.Evidence = append(c.Evidence, ev)
	c.UpdatedAt = ev.UploadedAt
	s.revision++
	return nil
}

// SetAnalysisIfUnset writes the analysis only when none is recorded yet.
// applied is false when another writer got there first.
func (s *InMemory) SetAnalysisIfUnset(_ context.Context, caseID id.CaseID, analysis models.Analysis) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return false, fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	if c.Analysis != nil {
		return false, nil
	}
	a := analysis
	c.Analysis = &a
	c.AnalysisState = models.AnalysisCompleted
	c.UpdatedAt = analysis.CompletedAt
	s.revision++
	return true, nil
}

// MarkAnalysisFailed records a failed attempt unless analysis already landed.
func (s *InMemory) MarkAnalysisFailed(_ context.Context, caseID id.CaseID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	if c.Analysis != nil {
		return nil
	}
	c.AnalysisState = models.AnalysisFailed
	c.UpdatedAt = now
	s.revision++
	return nil
}

// SetAnchorIfUnset stores the anchor hash once.
func (s *InMemory) SetAnchorIfUnset(_ context.Context, caseID id.CaseID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return false, fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	if c.AnchorHash != "" {
		return false, nil
	}
	c.AnchorHash = hash
	s.revision++
	return true, nil
}

// Revision is a counter that changes on every committed write.
func (s *InMemory) Revision(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

func clone(c *models.Case) *models.Case {
	cp := *c
	if c.Location != nil {
		loc := *c.Location
		loc.Latitude = cloneFloat(c.Location.Latitude)
		loc.Longitude = cloneFloat(c.Location.Longitude)
		cp.Location = &loc
	}
	if c.Analysis != nil {
		a := *c.Analysis
		cp.Analysis = &a
	}
	cp.Evidence = append([]models.Evidence{}, c.Evidence...)
	if c.Notes != nil {
		cp.Notes = append([]models.Note{}, c.Notes...)
	}
	return &cp
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

func sortNewestFirst(cs []*models.Case) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].FiledAt.Equal(cs[j].FiledAt) {
			return cs[i].FiledAt.After(cs[j].FiledAt)
		}
		return cs[i].ID.String() < cs[j].ID.String()
	})
}
