package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"civicwatch/internal/ratelimit/metrics"
	"civicwatch/internal/ratelimit/models"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/requestcontext"
)

// BucketStore checks and records one request against a key.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	store   BucketStore
	limits  map[models.EndpointClass]models.Limit
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Middleware)

// WithLimit sets the budget for one endpoint class. Classes without a limit
// pass through.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		m.limits[class] = limit
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(store BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limits: make(map[models.EndpointClass]models.Limit),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// PerActor limits authenticated callers by user and endpoint class. It must
// run after the auth middleware. Store failures fail open.
func (m *Middleware) PerActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := models.ClassOf(r.Method)
		limit, ok := m.limits[class]
		actor, authed := requestcontext.Actor(ctx)
		if !ok || !limit.Enabled() || !authed {
			next.ServeHTTP(w, r)
			return
		}

		key := "actor:" + actor.ID.String() + ":" + string(class)
		result, err := m.store.Allow(ctx, key, limit.Requests, limit.Window)
		if err != nil {
			m.metrics.IncrementStoreErrors()
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"request_id", requestcontext.RequestID(ctx),
				"actor_id", actor.ID.String(),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncrementRejected(string(class))
			m.logger.InfoContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"actor_id", actor.ID.String(),
				"class", class,
			)
			writeRateLimitExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            "rate_limit_exceeded",
		ErrorDescription: "too many requests, try again later",
		RetryAfter:       result.RetryAfter,
	})
}
