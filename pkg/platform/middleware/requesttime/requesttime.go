// Package requesttime pins a single "now" per HTTP request so every timestamp
// written while serving it (filed_at, notes, evidence) agrees.
package requesttime

import (
	"net/http"
	"time"

	"civicwatch/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
