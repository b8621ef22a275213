package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicwatch/internal/analysis"
	caseshandler "civicwatch/internal/cases/handler"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/requestcontext"
)

type Trigger interface {
	Analyze(ctx context.Context, actor id.Actor, caseID id.CaseID) (*analysis.Outcome, error)
}

type Handler struct {
	trigger Trigger
	logger  *slog.Logger
}

func New(trigger Trigger, logger *slog.Logger) *Handler {
	return &Handler{trigger: trigger, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/cases/{id}/analysis", h.HandleAnalyze)
}

// AnalysisResponse reports whether this call wrote the analysis and the case
// as persisted afterwards.
type AnalysisResponse struct {
	Applied bool                       `json:"applied"`
	Case    *caseshandler.CaseResponse `json:"case"`
}

// HandleAnalyze handles POST /cases/{id}/analysis. A case that is already
// analyzed comes back unchanged with applied=false.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := requestcontext.Actor(ctx)
	if !ok || !actor.Valid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))
		return
	}
	caseID, err := id.ParseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out, err := h.trigger.Analyze(ctx, actor, caseID)
	if err != nil {
		h.logger.WarnContext(ctx, "analysis request failed",
			"request_id", requestID,
			"case_id", caseID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AnalysisResponse{
		Applied: out.Applied,
		Case:    caseshandler.FromCase(out.Case, actor),
	})
}
