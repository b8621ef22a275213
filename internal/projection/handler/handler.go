package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civicwatch/internal/projection"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/requestcontext"
)

type Projector interface {
	Project(ctx context.Context, actor id.Actor) (projection.Rendered[projection.View], error)
	Map(ctx context.Context, actor id.Actor) (projection.Rendered[[]projection.MapPoint], error)
	Clusters(ctx context.Context, actor id.Actor, level int) (projection.Rendered[[]projection.Cluster], error)
}

type Handler struct {
	projector Projector
	logger    *slog.Logger
}

func New(projector Projector, logger *slog.Logger) *Handler {
	return &Handler{projector: projector, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/views/me", h.HandleProject)
	r.Get("/views/map", h.HandleMap)
	r.Get("/views/clusters", h.HandleClusters)
}

// ViewResponse wraps a view with the repository revision it reflects.
type ViewResponse struct {
	View     string `json:"view"`
	Revision int64  `json:"revision"`
	Data     any    `json:"data"`
}

func (h *Handler) HandleProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorOrError(w, ctx)
	if !ok {
		return
	}
	res, err := h.projector.Project(ctx, actor)
	if err != nil {
		h.fail(w, ctx, "failed to project view", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ViewResponse{
		View:     string(res.View.Kind()),
		Revision: res.Revision,
		Data:     res.View,
	})
}

func (h *Handler) HandleMap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorOrError(w, ctx)
	if !ok {
		return
	}
	res, err := h.projector.Map(ctx, actor)
	if err != nil {
		h.fail(w, ctx, "failed to project map", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ViewResponse{View: "map", Revision: res.Revision, Data: res.View})
}

// HandleClusters accepts an optional ?level= s2 cell level.
func (h *Handler) HandleClusters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorOrError(w, ctx)
	if !ok {
		return
	}
	level := -1
	if raw := r.URL.Query().Get("level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "level must be an integer"))
			return
		}
		level = n
		if err := projection.ValidateLevel(level); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	res, err := h.projector.Clusters(ctx, actor, level)
	if err != nil {
		h.fail(w, ctx, "failed to project clusters", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ViewResponse{View: "clusters", Revision: res.Revision, Data: res.View})
}

func (h *Handler) fail(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func actorOrError(w http.ResponseWriter, ctx context.Context) (id.Actor, bool) {
	actor, ok := requestcontext.Actor(ctx)
	if !ok || !actor.Valid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))
		return id.Actor{}, false
	}
	return actor, true
}
