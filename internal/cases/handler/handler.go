package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/cases/service"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/requestcontext"
)

const (
	defaultPageSize = 100
	maxPageSize     = 100
)

// Service is the case lifecycle as the HTTP layer uses it.
type Service interface {
	Create(ctx context.Context, actor id.Actor, in service.CreateInput) (*models.Case, error)
	Get(ctx context.Context, actor id.Actor, caseID id.CaseID) (*models.Case, error)
	ListMine(ctx context.Context, actor id.Actor) ([]*models.Case, error)
	Transition(ctx context.Context, actor id.Actor, caseID id.CaseID, target models.Status) (*models.Case, error)
	AppendNote(ctx context.Context, actor id.Actor, caseID id.CaseID, content string) (models.Note, error)
	ListNotes(ctx context.Context, actor id.Actor, caseID id.CaseID) ([]models.Note, error)
	History(ctx context.Context, actor id.Actor, caseID id.CaseID) ([]audit.Event, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts case endpoints. Callers wrap r with the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/cases", h.HandleCreate)
	r.Get("/cases", h.HandleListMine)
	r.Get("/cases/{id}", h.HandleGet)
	r.Patch("/cases/{id}/status", h.HandleTransition)
	r.Post("/cases/{id}/notes", h.HandleAppendNote)
	r.Get("/cases/{id}/notes", h.HandleListNotes)
	r.Get("/cases/{id}/events", h.HandleHistory)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := actorOrError(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateCaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	c, err := h.service.Create(ctx, actor, service.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.parsedType,
		Location:    req.location(),
		Anonymous:   req.Anonymous,
	})
	if err != nil {
		h.logFailure(ctx, "failed to file case", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromCase(c, actor))
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorOrError(w, ctx)
	if !ok {
		return
	}
	offset, limit, err := pageParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cs, err := h.service.ListMine(ctx, actor)
	if err != nil {
		h.logFailure(ctx, "failed to list cases", requestcontext.RequestID(ctx), actor, err)
		httputil.WriteError(w, err)
		return
	}
	total := len(cs)
	start := min(offset, total)
	cs = cs[start : start+min(limit, total-start)]
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"cases":  FromCases(cs, actor),
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, caseID, ok := actorAndCase(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(ctx, actor, caseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCase(c, actor))
}

func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, caseID, ok := actorAndCase(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TransitionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, err := h.service.Transition(ctx, actor, caseID, req.parsedStatus)
	if err != nil {
		h.logFailure(ctx, "status transition rejected", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCase(c, actor))
}

func (h *Handler) HandleAppendNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, caseID, ok := actorAndCase(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[NoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	note, err := h.service.AppendNote(ctx, actor, caseID, req.Content)
	if err != nil {
		h.logFailure(ctx, "failed to add note", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromNotes([]models.Note{note})[0])
}

func (h *Handler) HandleListNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, caseID, ok := actorAndCase(w, r)
	if !ok {
		return
	}
	notes, err := h.service.ListNotes(ctx, actor, caseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notes": FromNotes(notes)})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, caseID, ok := actorAndCase(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(ctx, actor, caseID)
	if err != nil {
		h.logFailure(ctx, "failed to read case history", requestcontext.RequestID(ctx), actor, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID string, actor id.Actor, err error) {
	level := slog.LevelWarn
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestID,
		"actor_id", actor.ID.String(),
		"error", err,
	)
}

func actorOrError(w http.ResponseWriter, ctx context.Context) (id.Actor, bool) {
	actor, ok := requestcontext.Actor(ctx)
	if !ok || !actor.Valid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))
		return id.Actor{}, false
	}
	return actor, true
}

// pageParams reads ?offset= and ?limit=, defaulting to the first page.
func pageParams(r *http.Request) (offset, limit int, err error) {
	offset, limit = 0, defaultPageSize
	q := r.URL.Query()
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, dErrors.New(dErrors.CodeValidation, "offset must be a non-negative integer")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 100")
		}
	}
	return offset, limit, nil
}

// actorAndCase resolves the caller and the {id} path parameter.
func actorAndCase(w http.ResponseWriter, r *http.Request) (id.Actor, id.CaseID, bool) {
	actor, ok := actorOrError(w, r.Context())
	if !ok {
		return id.Actor{}, id.CaseID{}, false
	}
	caseID, err := id.ParseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.Actor{}, id.CaseID{}, false
	}
	return actor, caseID, true
}
