package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/evidence/pipeline"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/requestcontext"
)

const (
	maxFilesPerRequest = 10
	multipartMemory    = 8 << 20
)

type Pipeline interface {
	Attach(ctx context.Context, actor id.Actor, caseID id.CaseID, files []pipeline.Upload) (*pipeline.AttachResult, error)
	MaxBytes() int64
}

type Handler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func New(p Pipeline, logger *slog.Logger) *Handler {
	return &Handler{pipeline: p, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/cases/{id}/evidence", h.HandleAttach)
}

// AttachResponse is returned with 200 on full success and 207 when some
// files failed.
type AttachResponse struct {
	CaseID   string                 `json:"case_id"`
	Attached []models.Evidence      `json:"attached"`
	Failed   []pipeline.FileFailure `json:"failed"`
	Error    string                 `json:"error,omitempty"`
}

// HandleAttach handles POST /cases/{id}/evidence with multipart files under
// the "files" field, processed in submission order.
func (h *Handler) HandleAttach(w http.ResponseWriter, r *http.Request) {
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

	r.Body = http.MaxBytesReader(w, r.Body, maxFilesPerRequest*(h.pipeline.MaxBytes()+1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "upload exceeds the request size limit"))
			return
		}
		h.logger.WarnContext(ctx, "invalid multipart body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected multipart/form-data with files"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) > maxFilesPerRequest {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "too many files in one request"))
		return
	}

	uploads, closeAll, err := openAll(headers)
	defer closeAll()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to open uploaded file",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read upload"))
		return
	}

	result, err := h.pipeline.Attach(ctx, actor, caseID, uploads)
	if err != nil && !dErrors.HasCode(err, dErrors.CodePartialFailure) {
		httputil.WriteError(w, err)
		return
	}

	resp := AttachResponse{
		CaseID:   result.CaseID.String(),
		Attached: result.Attached,
		Failed:   result.Failed,
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
		resp.Error = string(dErrors.CodePartialFailure)
		h.logger.WarnContext(ctx, "evidence partially attached",
			"request_id", requestID,
			"case_id", caseID.String(),
			"failed", len(result.Failed),
		)
	}
	httputil.WriteJSON(w, status, resp)
}

func openAll(headers []*multipart.FileHeader) ([]pipeline.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	uploads := make([]pipeline.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		uploads = append(uploads, pipeline.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     f,
		})
	}
	return uploads, closeAll, nil
}
