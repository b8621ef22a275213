// Package request copies the chi request ID into the HTTP-independent request
// context so services and stores can log it.
package request

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"civicwatch/pkg/requestcontext"
)

// RequestID must run after chi's middleware.RequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := chimw.GetReqID(r.Context())
		if reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
