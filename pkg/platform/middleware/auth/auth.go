package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

// SessionResolver turns a bearer token into the caller's identity and role.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (id.Actor, error)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth resolves the bearer token and stores the actor in the request
// context. Requests without a valid session never reach the handler.
func RequireAuth(resolver SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthenticated request - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "Missing or invalid Authorization header")
				return
			}

			actor, err := resolver.Resolve(ctx, strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthenticated request - invalid token",
					"request_id", requestID,
					"error", err,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}
