package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicwatch/internal/platform/metrics"
	"civicwatch/pkg/platform/httputil"
	authmw "civicwatch/pkg/platform/middleware/auth"
	"civicwatch/pkg/platform/middleware/request"
	"civicwatch/pkg/platform/middleware/requesttime"
)

const healthCheckTimeout = 2 * time.Second

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig lists what the router mounts. RateLimit, when set, runs after
// authentication so it can key on the actor.
type RouterConfig struct {
	Logger    *slog.Logger
	Resolver  authmw.SessionResolver
	Metrics   *metrics.HTTP
	Health    map[string]HealthCheck
	RateLimit func(http.Handler) http.Handler
	Modules   []Registrar
}

// NewRouter wires the ops endpoints unauthenticated and every module behind
// bearer authentication.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(request.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/health", healthHandler(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(cfg.Resolver, cfg.Logger))
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}
		for _, m := range cfg.Modules {
			m.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for _, name := range names {
			if resp.Checks == nil {
				resp.Checks = map[string]string{}
			}
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
