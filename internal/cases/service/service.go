package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"civicwatch/internal/cases/metrics"
	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// maxTransitionAttempts bounds the compare-and-set loop on status changes.
const maxTransitionAttempts = 3

// Store is the case repository as the lifecycle sees it.
type Store interface {
	Create(ctx context.Context, c *models.Case) error
	FindByID(ctx context.Context, caseID id.CaseID) (*models.Case, error)
	ListByFiler(ctx context.Context, filer id.UserID) ([]*models.Case, error)
	UpdateStatus(ctx context.Context, caseID id.CaseID, from, to models.Status, note models.Note) error
	AppendNote(ctx context.Context, caseID id.CaseID, note models.Note) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// EventLister reads a case's event trail back.
type EventLister interface {
	List(ctx context.Context, caseID id.CaseID) ([]audit.Event, error)
}

// Service owns case filing, reads and the status state machine.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	events         EventLister
	metrics        *metrics.Metrics
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithEventLister enables History.
func WithEventLister(events EventLister) Option {
	return func(s *Service) {
		s.events = events
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateInput is the validated filing payload.
type CreateInput struct {
	Title       string
	Description string
	Type        models.ComplaintType
	Location    *models.Location
	Anonymous   bool
}

// Create files a new case owned by the actor.
func (s *Service) Create(ctx context.Context, actor id.Actor, in CreateInput) (*models.Case, error) {
	if !actor.Valid() {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	c, err := models.NewCase(id.NewCaseID(), actor.ID, in.Title, in.Description, in.Type, in.Location, in.Anonymous, s.clock(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to file case")
	}

	s.metrics.IncrementFiled(string(c.Type))
	s.logger.InfoContext(ctx, "case filed",
		"case_id", c.ID.String(),
		"actor_id", actor.ID.String(),
		"type", c.Type,
	)
	s.emit(ctx, actor, c.ID, audit.ActionCaseFiled, map[string]string{"type": string(c.Type)})
	return c, nil
}

// Get returns a case the actor may read. Citizens never see internal notes,
// and a case they do not own is reported as missing.
func (s *Service) Get(ctx context.Context, actor id.Actor, caseID id.CaseID) (*models.Case, error) {
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.VisibleTo(actor) {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	if !actor.Role.IsStaff() {
		return c.WithoutNotes(), nil
	}
	return c, nil
}

// ListMine returns the actor's own filings, newest first, without notes.
func (s *Service) ListMine(ctx context.Context, actor id.Actor) ([]*models.Case, error) {
	cs, err := s.store.ListByFiler(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cases")
	}
	out := make([]*models.Case, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.WithoutNotes())
	}
	return out, nil
}

// Transition moves a case forward. Only staff may do this; backward and
// same-state moves fail with invalid_transition. A concurrent change between
// read and write is retried against the fresh status.
func (s *Service) Transition(ctx context.Context, actor id.Actor, caseID id.CaseID, target models.Status) (*models.Case, error) {
	if !actor.Role.IsStaff() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only officials can change case status")
	}
	for attempt := 1; ; attempt++ {
		c, err := s.load(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if err := c.CanTransition(target); err != nil {
			return nil, err
		}
		from := c.Status
		note := models.StatusChangeNote(actor, from, target, s.clock(ctx))
		err = s.store.UpdateStatus(ctx, caseID, from, target, note)
		if err == nil {
			c.Status = target
			c.UpdatedAt = note.CreatedAt
			c.Notes = append(c.Notes, note)
			s.metrics.IncrementTransition(string(from), string(target))
			s.logger.InfoContext(ctx, "case status changed",
				"case_id", caseID.String(),
				"actor_id", actor.ID.String(),
				"from", from,
				"to", target,
			)
			s.emit(ctx, actor, caseID, audit.ActionStatusChanged, map[string]string{
				"from": string(from),
				"to":   string(target),
			})
			return c, nil
		}
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncrementConflict()
			if attempt >= maxTransitionAttempts {
				return nil, dErrors.New(dErrors.CodeConflict, "case status changed concurrently, retry")
			}
			s.logger.DebugContext(ctx, "status changed concurrently, retrying",
				"case_id", caseID.String(),
				"attempt", attempt,
			)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update case status")
		}
	}
}

// AppendNote records a staff note on the case.
func (s *Service) AppendNote(ctx context.Context, actor id.Actor, caseID id.CaseID, content string) (models.Note, error) {
	if !actor.Role.IsStaff() {
		return models.Note{}, dErrors.New(dErrors.CodeUnauthorized, "only officials can add notes")
	}
	note, err := models.NewNote(actor.ID, content, s.clock(ctx))
	if err != nil {
		return models.Note{}, err
	}
	if err := s.store.AppendNote(ctx, caseID, note); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Note{}, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return models.Note{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add note")
	}
	s.metrics.IncrementNotes()
	s.emit(ctx, actor, caseID, audit.ActionNoteAdded, nil)
	return note, nil
}

// ListNotes returns the case's notes newest first. Staff only.
func (s *Service) ListNotes(ctx context.Context, actor id.Actor, caseID id.CaseID) ([]models.Note, error) {
	if !actor.Role.IsStaff() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only officials can read notes")
	}
	c, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	notes := slices.Clone(c.Notes)
	slices.Reverse(notes)
	if notes == nil {
		notes = []models.Note{}
	}
	return notes, nil
}

// History returns the case's recorded events oldest first. Staff only.
func (s *Service) History(ctx context.Context, actor id.Actor, caseID id.CaseID) ([]audit.Event, error) {
	if !actor.Role.IsStaff() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only officials can read case history")
	}
	if _, err := s.load(ctx, caseID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []audit.Event{}, nil
	}
	events, err := s.events.List(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read case history")
	}
	slices.SortStableFunc(events, func(a, b audit.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}

func (s *Service) load(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	c, err := s.store.FindByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case")
	}
	return c, nil
}

func (s *Service) clock(ctx context.Context) time.Time {
	if t, ok := requestcontext.RequestTime(ctx); ok {
		return t
	}
	return s.now().UTC()
}

func (s *Service) emit(ctx context.Context, actor id.Actor, caseID id.CaseID, action audit.Action, detail map[string]string) {
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: s.clock(ctx),
		CaseID:    caseID,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Detail:    detail,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit case event",
			"case_id", caseID.String(),
			"action", action,
			"error", err,
		)
	}
}
