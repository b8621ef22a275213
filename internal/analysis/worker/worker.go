// Package worker runs case analysis in the background. Jobs go into a bounded
// queue drained by a fixed pool; a full queue drops the job instead of
// blocking the request that enqueued it.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"civicwatch/internal/analysis"
	"civicwatch/internal/analysis/metrics"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/requestcontext"
)

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultJobTimeout = 2 * time.Minute
)

// Trigger is the analysis entry point the pool calls per job.
type Trigger interface {
	Analyze(ctx context.Context, actor id.Actor, caseID id.CaseID) (*analysis.Outcome, error)
}

type job struct {
	caseID    id.CaseID
	actor     id.Actor
	requestID string
}

type Pool struct {
	trigger    Trigger
	jobs       chan job
	workers    int
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.jobs = make(chan job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

func New(trigger Trigger, opts ...Option) *Pool {
	p := &Pool{
		trigger:    trigger,
		jobs:       make(chan job, defaultQueueSize),
		workers:    defaultWorkers,
		jobTimeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Enqueue schedules analysis of the case on behalf of actor. It never blocks
// and reports false when the queue is full. Duplicate jobs for one case are
// harmless since only the first analysis is written.
func (p *Pool) Enqueue(ctx context.Context, caseID id.CaseID, actor id.Actor) bool {
	j := job{caseID: caseID, actor: actor, requestID: requestcontext.RequestID(ctx)}
	select {
	case p.jobs <- j:
		return true
	default:
		p.metrics.IncrementQueueRejected()
		p.logger.WarnContext(ctx, "analysis queue full, job dropped",
			"case_id", caseID.String(),
		)
		return false
	}
}

// Run drains the queue until ctx is done. Jobs still queued at that point are
// abandoned; the case simply stays unanalyzed.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-p.jobs:
					p.process(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pool) process(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	if j.requestID != "" {
		ctx = requestcontext.WithRequestID(ctx, j.requestID)
	}

	out, err := p.trigger.Analyze(ctx, j.actor, j.caseID)
	if err != nil {
		level := slog.LevelError
		if dErrors.HasCode(err, dErrors.CodeAnalysisUnavailable) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "background analysis failed",
			"request_id", j.requestID,
			"case_id", j.caseID.String(),
			"error", err,
		)
		return
	}
	p.logger.InfoContext(ctx, "background analysis finished",
		"request_id", j.requestID,
		"case_id", j.caseID.String(),
		"applied", out.Applied,
	)
}
