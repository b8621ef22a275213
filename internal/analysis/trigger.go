// Package analysis runs the external analyzer against a case once and records
// its severity score and summary. After a successful write the case manifest
// is optionally anchored with an external ledger.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"civicwatch/internal/analysis/metrics"
	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/requestcontext"
)

// Outcome values recorded in metrics.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeLost    = "lost"
	OutcomeFailed  = "failed"
)

// Analyzer produces a raw severity score and summary for a case.
type Analyzer interface {
	Analyze(ctx context.Context, c *models.Case) (models.AnalysisResult, error)
}

// Anchorer timestamps a manifest hash and returns the ledger reference.
type Anchorer interface {
	Anchor(ctx context.Context, caseID id.CaseID, manifestHash string) (string, error)
}

// CaseStore is what the trigger needs from the case repository.
type CaseStore interface {
	FindByID(ctx context.Context, caseID id.CaseID) (*models.Case, error)
	SetAnalysisIfUnset(ctx context.Context, caseID id.CaseID, analysis models.Analysis) (bool, error)
	MarkAnalysisFailed(ctx context.Context, caseID id.CaseID, now time.Time) error
	SetAnchorIfUnset(ctx context.Context, caseID id.CaseID, hash string) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Outcome is the case as persisted after the call. Applied is true only for
// the caller whose analysis was written.
type Outcome struct {
	Case    *models.Case
	Applied bool
}

type Trigger struct {
	cases          CaseStore
	analyzer       Analyzer
	anchorer       Anchorer
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	now            func() time.Time
}

type Option func(*Trigger)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) {
		t.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trigger) {
		t.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(t *Trigger) {
		t.auditPublisher = publisher
	}
}

// WithAnchorer enables anchoring after a successful analysis.
func WithAnchorer(a Anchorer) Option {
	return func(t *Trigger) {
		t.anchorer = a
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Trigger) {
		t.now = now
	}
}

func New(cases CaseStore, analyzer Analyzer, opts ...Option) *Trigger {
	t := &Trigger{cases: cases, analyzer: analyzer, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Analyze runs analysis for the case unless a result is already recorded.
// Re-analysis is a no-op that returns the current case with Applied=false.
func (t *Trigger) Analyze(ctx context.Context, actor id.Actor, caseID id.CaseID) (*Outcome, error) {
	if !actor.Valid() {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	c, err := t.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.VisibleTo(actor) {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	if c.IsAnalyzed() {
		t.metrics.IncrementOutcome(OutcomeSkipped)
		return t.outcome(actor, c, false), nil
	}

	start := time.Now()
	raw, err := t.analyzer.Analyze(ctx, c)
	t.metrics.ObserveAnalyzer(start)
	if err != nil {
		return nil, t.fail(ctx, actor, caseID, err)
	}
	result, err := raw.Normalize(t.clock(ctx))
	if err != nil {
		return nil, t.fail(ctx, actor, caseID, err)
	}

	applied, err := t.cases.SetAnalysisIfUnset(ctx, caseID, result)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record analysis")
	}
	c, err = t.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !applied {
		t.metrics.IncrementOutcome(OutcomeLost)
		t.logger.InfoContext(ctx, "analysis already recorded by another writer",
			"case_id", caseID.String(),
		)
		return t.outcome(actor, c, false), nil
	}

	t.metrics.IncrementOutcome(OutcomeApplied)
	t.logger.InfoContext(ctx, "analysis recorded",
		"case_id", caseID.String(),
		"actor_id", actor.ID.String(),
		"severity_score", result.SeverityScore,
		"department", result.Department,
	)
	t.emit(ctx, actor, caseID, audit.ActionAnalysisCompleted, map[string]string{
		"department": result.Department,
	})

	if hash := t.anchor(ctx, actor, c); hash != "" {
		c.AnchorHash = hash
	}
	return t.outcome(actor, c, true), nil
}

// fail records the failed attempt best-effort and returns analysis_unavailable.
func (t *Trigger) fail(ctx context.Context, actor id.Actor, caseID id.CaseID, cause error) error {
	t.metrics.IncrementOutcome(OutcomeFailed)
	t.logger.WarnContext(ctx, "analysis failed",
		"case_id", caseID.String(),
		"error", cause,
	)
	if err := t.cases.MarkAnalysisFailed(ctx, caseID, t.clock(ctx)); err != nil {
		t.logger.WarnContext(ctx, "failed to record analysis failure",
			"case_id", caseID.String(),
			"error", err,
		)
	}
	t.emit(ctx, actor, caseID, audit.ActionAnalysisFailed, nil)
	if dErrors.HasCode(cause, dErrors.CodeAnalysisUnavailable) {
		return cause
	}
	return dErrors.Wrap(cause, dErrors.CodeAnalysisUnavailable, "analysis service unavailable")
}

// anchor is best-effort; it returns the stored hash or "".
func (t *Trigger) anchor(ctx context.Context, actor id.Actor, c *models.Case) string {
	if t.anchorer == nil {
		return ""
	}
	manifest, err := ManifestHash(c)
	if err != nil {
		t.logger.WarnContext(ctx, "failed to build case manifest",
			"case_id", c.ID.String(),
			"error", err,
		)
		return ""
	}
	ref, err := t.anchorer.Anchor(ctx, c.ID, manifest)
	if err != nil || ref == "" {
		t.metrics.IncrementAnchorFailure()
		t.logger.WarnContext(ctx, "anchoring failed",
			"case_id", c.ID.String(),
			"manifest_hash", manifest,
			"error", err,
		)
		return ""
	}
	set, err := t.cases.SetAnchorIfUnset(ctx, c.ID, ref)
	if err != nil {
		t.logger.WarnContext(ctx, "failed to record anchor hash",
			"case_id", c.ID.String(),
			"error", err,
		)
		return ""
	}
	if !set {
		return ""
	}
	t.emit(ctx, actor, c.ID, audit.ActionCaseAnchored, map[string]string{
		"manifest_hash": manifest,
		"anchor_hash":   ref,
	})
	return ref
}

func (t *Trigger) load(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	c, err := t.cases.FindByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case")
	}
	return c, nil
}

func (t *Trigger) outcome(actor id.Actor, c *models.Case, applied bool) *Outcome {
	if !actor.Role.IsStaff() {
		c = c.WithoutNotes()
	}
	return &Outcome{Case: c, Applied: applied}
}

func (t *Trigger) clock(ctx context.Context) time.Time {
	if now, ok := requestcontext.RequestTime(ctx); ok {
		return now
	}
	return t.now().UTC()
}

func (t *Trigger) emit(ctx context.Context, actor id.Actor, caseID id.CaseID, action audit.Action, detail map[string]string) {
	if t.auditPublisher == nil {
		return
	}
	err := t.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: t.clock(ctx),
		CaseID:    caseID,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Detail:    detail,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		t.logger.WarnContext(ctx, "failed to emit case event",
			"case_id", caseID.String(),
			"action", action,
			"error", err,
		)
	}
}
