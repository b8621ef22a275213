// Package projection computes the role-scoped views of the case set. Views
// are pure functions of repository state; a cached view is served only while
// the repository revision it was computed at is still current.
package projection

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/projection/cache"
	"civicwatch/internal/projection/metrics"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

// CaseReader is the read side of the case repository.
type CaseReader interface {
	ListAll(ctx context.Context) ([]*models.Case, error)
	ListByFiler(ctx context.Context, filer id.UserID) ([]*models.Case, error)
	Revision(ctx context.Context) (int64, error)
}

// Cache stores serialized views by key.
type Cache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool, error)
	Set(ctx context.Context, key string, e cache.Entry) error
}

type Projector struct {
	cases     CaseReader
	cache     Cache
	group     singleflight.Group
	cellLevel int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Projector)

func WithCache(c Cache) Option {
	return func(p *Projector) {
		p.cache = c
	}
}

// WithCellLevel sets the s2 level used to blur map coordinates.
func WithCellLevel(level int) Option {
	return func(p *Projector) {
		if ValidateLevel(level) == nil {
			p.cellLevel = level
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Projector) {
		p.metrics = m
	}
}

func New(cases CaseReader, opts ...Option) *Projector {
	p := &Projector{cases: cases, cellLevel: DefaultCellLevel}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Rendered is a view with the repository revision it reflects.
type Rendered[T any] struct {
	Revision int64
	View     T
}

// Project returns the view for the actor's role: citizens get their own
// summary, officials the triage queue, super admins the analytics.
func (p *Projector) Project(ctx context.Context, actor id.Actor) (Rendered[View], error) {
	if !actor.Valid() {
		return Rendered[View]{}, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	switch actor.Role {
	case id.RoleCitizen:
		r, err := render(ctx, p, string(KindCitizenSummary), viewKey(KindCitizenSummary, actor), func(ctx context.Context) (*CitizenSummary, error) {
			cs, err := p.cases.ListByFiler(ctx, actor.ID)
			if err != nil {
				return nil, err
			}
			return Summarize(cs, actor), nil
		})
		return Rendered[View]{Revision: r.Revision, View: r.View}, err
	case id.RoleOfficial:
		r, err := render(ctx, p, string(KindOfficialQueue), viewKey(KindOfficialQueue, actor), func(ctx context.Context) (*OfficialQueue, error) {
			cs, err := p.cases.ListAll(ctx)
			if err != nil {
				return nil, err
			}
			return Queue(cs, actor), nil
		})
		return Rendered[View]{Revision: r.Revision, View: r.View}, err
	case id.RoleSuperAdmin:
		r, err := render(ctx, p, string(KindAdminAnalytics), viewKey(KindAdminAnalytics, actor), func(ctx context.Context) (*AdminAnalytics, error) {
			cs, err := p.cases.ListAll(ctx)
			if err != nil {
				return nil, err
			}
			a := Tally(cs)
			a.Points = MapPoints(cs, p.cellLevel)
			return a, nil
		})
		return Rendered[View]{Revision: r.Revision, View: r.View}, err
	default:
		return Rendered[View]{}, dErrors.New(dErrors.CodeUnauthorized, "role has no view")
	}
}

// Map returns approximate locations of every located case. Any
// authenticated role may read it.
func (p *Projector) Map(ctx context.Context, actor id.Actor) (Rendered[[]MapPoint], error) {
	if !actor.Valid() {
		return Rendered[[]MapPoint]{}, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	return render(ctx, p, "map", "map:"+strconv.Itoa(p.cellLevel), func(ctx context.Context) ([]MapPoint, error) {
		cs, err := p.cases.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return MapPoints(cs, p.cellLevel), nil
	})
}

// Clusters groups located cases into hotspots at level, or at the map level
// when level is negative. Staff only.
func (p *Projector) Clusters(ctx context.Context, actor id.Actor, level int) (Rendered[[]Cluster], error) {
	if !actor.Valid() {
		return Rendered[[]Cluster]{}, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	if !actor.Role.IsStaff() {
		return Rendered[[]Cluster]{}, dErrors.New(dErrors.CodeUnauthorized, "only officials can view hotspots")
	}
	if level < 0 {
		level = p.cellLevel
	}
	if err := ValidateLevel(level); err != nil {
		return Rendered[[]Cluster]{}, err
	}
	return render(ctx, p, "clusters", "clusters:"+strconv.Itoa(level), func(ctx context.Context) ([]Cluster, error) {
		cs, err := p.cases.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return Hotspots(cs, level), nil
	})
}

func viewKey(kind Kind, actor id.Actor) string {
	return string(kind) + ":" + string(actor.Role) + ":" + actor.ID.String()
}

// render reads the revision first, then serves a cached view only if it was
// computed at that revision. Otherwise it recomputes once per key and
// revision, however many callers are waiting.
func render[T any](ctx context.Context, p *Projector, view, key string, compute func(context.Context) (T, error)) (Rendered[T], error) {
	rev, err := p.cases.Revision(ctx)
	if err != nil {
		return Rendered[T]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read repository revision")
	}

	if v, ok := p.lookup(ctx, key, rev, new(T)); ok {
		return Rendered[T]{Revision: rev, View: *v.(*T)}, nil
	}

	res, err, _ := p.group.Do(key+"@"+strconv.FormatInt(rev, 10), func() (any, error) {
		start := time.Now()
		v, err := compute(ctx)
		p.metrics.ObserveCompute(view, start)
		if err != nil {
			return nil, err
		}
		p.store(ctx, key, rev, v)
		return v, nil
	})
	if err != nil {
		return Rendered[T]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute view")
	}
	return Rendered[T]{Revision: rev, View: res.(T)}, nil
}

func (p *Projector) lookup(ctx context.Context, key string, rev int64, dst any) (any, bool) {
	if p.cache == nil {
		return nil, false
	}
	e, ok, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		p.metrics.IncrementLookup("error")
		p.logger.WarnContext(ctx, "projection cache read failed", "key", key, "error", err)
		return nil, false
	case !ok:
		p.metrics.IncrementLookup("miss")
		return nil, false
	case e.Revision != rev:
		p.metrics.IncrementLookup("stale")
		return nil, false
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		p.metrics.IncrementLookup("error")
		return nil, false
	}
	p.metrics.IncrementLookup("hit")
	return dst, true
}

func (p *Projector) store(ctx context.Context, key string, rev int64, v any) {
	if p.cache == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to encode view", "key", key, "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, cache.Entry{Revision: rev, Payload: payload}); err != nil {
		p.logger.WarnContext(ctx, "projection cache write failed", "key", key, "error", err)
	}
}
