package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strings"
	"time"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/evidence/blob"
	"civicwatch/internal/evidence/metrics"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// DefaultMaxBytes is the per-file cap when none is configured.
const DefaultMaxBytes int64 = 25 << 20

// Failure reasons reported per file.
const (
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonRepository         = "repository_error"
	ReasonTooLarge           = "too_large"
	ReasonCancelled          = "cancelled"
)

var errTooLarge = errors.New("file exceeds size limit")

// CaseStore is what the pipeline needs from the case repository.
type CaseStore interface {
	FindByID(ctx context.Context, caseID id.CaseID) (*models.Case, error)
	AppendEvidence(ctx context.Context, caseID id.CaseID, ev models.Evidence) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AnalysisEnqueuer schedules background analysis of a case.
type AnalysisEnqueuer interface {
	Enqueue(ctx context.Context, caseID id.CaseID, actor id.Actor) bool
}

// Upload is one file as submitted.
type Upload struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// FileFailure names a file that was not attached and why.
type FileFailure struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AttachResult lists what landed and what did not. Attached is in
// submission order.
type AttachResult struct {
	CaseID   id.CaseID         `json:"case_id"`
	Attached []models.Evidence `json:"attached"`
	Failed   []FileFailure     `json:"failed"`
}

// Pipeline stores evidence blobs and records them on the case, one file at a
// time. Nothing already attached is rolled back when a later file fails.
type Pipeline struct {
	cases          CaseStore
	blobs          blob.Store
	maxBytes       int64
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	analysis       AnalysisEnqueuer
	now            func() time.Time
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(p *Pipeline) {
		p.auditPublisher = publisher
	}
}

func WithMaxBytes(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithAnalysisEnqueuer triggers analysis after each concluded batch.
func WithAnalysisEnqueuer(e AnalysisEnqueuer) Option {
	return func(p *Pipeline) {
		p.analysis = e
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(cases CaseStore, blobs blob.Store, opts ...Option) *Pipeline {
	p := &Pipeline{cases: cases, blobs: blobs, maxBytes: DefaultMaxBytes, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// MaxBytes is the per-file size cap.
func (p *Pipeline) MaxBytes() int64 {
	return p.maxBytes
}

// Attach processes files in order. When any file fails the result is still
// returned, together with a partial_failure error. An empty batch is a valid
// no-op. Analysis is enqueued once the batch concludes unless ctx was
// cancelled.
func (p *Pipeline) Attach(ctx context.Context, actor id.Actor, caseID id.CaseID, files []Upload) (*AttachResult, error) {
	if !actor.Valid() {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	c, err := p.cases.FindByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case")
	}
	if !c.VisibleTo(actor) {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	result := &AttachResult{CaseID: caseID, Attached: []models.Evidence{}, Failed: []FileFailure{}}
	for i, f := range files {
		if ctx.Err() != nil {
			for j := i; j < len(files); j++ {
				result.Failed = append(result.Failed, FileFailure{Index: j, Name: files[j].Name, Reason: ReasonCancelled})
				p.metrics.IncrementFile(ReasonCancelled)
			}
			break
		}
		ev, reason := p.attachOne(ctx, actor, caseID, f)
		if reason != "" {
			result.Failed = append(result.Failed, FileFailure{Index: i, Name: f.Name, Reason: reason})
			p.metrics.IncrementFile(reason)
			p.emit(ctx, actor, caseID, audit.ActionEvidenceFailed, map[string]string{"name": f.Name, "reason": reason})
			continue
		}
		result.Attached = append(result.Attached, ev)
		p.metrics.IncrementFile("attached")
		p.metrics.AddBytes(ev.Size)
		p.emit(ctx, actor, caseID, audit.ActionEvidenceAttached, map[string]string{"name": ev.Name, "sha256": ev.SHA256})
	}

	if p.analysis != nil && ctx.Err() == nil {
		p.analysis.Enqueue(ctx, caseID, actor)
	}

	p.logger.InfoContext(ctx, "evidence processed",
		"case_id", caseID.String(),
		"actor_id", actor.ID.String(),
		"attached", len(result.Attached),
		"failed", len(result.Failed),
	)
	if len(result.Failed) > 0 {
		return result, dErrors.New(dErrors.CodePartialFailure,
			fmt.Sprintf("%d of %d files failed", len(result.Failed), len(files)))
	}
	return result, nil
}

// attachOne returns a non-empty reason when the file was not attached.
func (p *Pipeline) attachOne(ctx context.Context, actor id.Actor, caseID id.CaseID, f Upload) (models.Evidence, string) {
	evID := id.NewEvidenceID()
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = evID.String()
	}
	content := f.Content
	if content == nil {
		content = strings.NewReader("")
	}
	counter := &countingReader{r: content, limit: p.maxBytes, hash: sha256.New()}

	start := time.Now()
	ref, err := p.blobs.Put(ctx, caseID.String()+"/"+evID.String(), blob.Blob{
		Name:        name,
		ContentType: f.ContentType,
		Content:     counter,
	})
	p.metrics.ObserveStore(time.Since(start))
	if err != nil {
		reason := classify(ctx, err)
		p.logger.WarnContext(ctx, "evidence blob not stored",
			"case_id", caseID.String(),
			"file", name,
			"reason", reason,
			"error", err,
		)
		return models.Evidence{}, reason
	}

	ev := models.Evidence{
		ID:          evID,
		Ref:         ref,
		Name:        name,
		Size:        counter.n,
		ContentType: f.ContentType,
		SHA256:      hex.EncodeToString(counter.hash.Sum(nil)),
		UploadedAt:  p.clock(ctx),
	}
	if err := p.cases.AppendEvidence(ctx, caseID, ev); err != nil {
		p.logger.ErrorContext(ctx, "evidence stored but not recorded",
			"case_id", caseID.String(),
			"actor_id", actor.ID.String(),
			"blob_ref", ref,
			"error", err,
		)
		if ctx.Err() != nil {
			return models.Evidence{}, ReasonCancelled
		}
		return models.Evidence{}, ReasonRepository
	}
	return ev, ""
}

func classify(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, errTooLarge):
		return ReasonTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return ReasonCancelled
	default:
		return ReasonStorageUnavailable
	}
}

func (p *Pipeline) clock(ctx context.Context) time.Time {
	if t, ok := requestcontext.RequestTime(ctx); ok {
		return t
	}
	return p.now().UTC()
}

func (p *Pipeline) emit(ctx context.Context, actor id.Actor, caseID id.CaseID, action audit.Action, detail map[string]string) {
	if p.auditPublisher == nil {
		return
	}
	if err := p.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: p.clock(ctx),
		CaseID:    caseID,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Detail:    detail,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		p.logger.WarnContext(ctx, "failed to emit evidence event",
			"case_id", caseID.String(),
			"error", err,
		)
	}
}

// countingReader hashes and counts bytes, failing once limit is exceeded.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
	hash  hash.Hash
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.n > c.limit {
			return 0, errTooLarge
		}
		_, _ = c.hash.Write(p[:n])
	}
	return n, err
}
