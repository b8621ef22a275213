package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

type stubResolver struct {
	actors map[string]id.Actor
}

func (s stubResolver) Resolve(_ context.Context, token string) (id.Actor, error) {
	a, ok := s.actors[token]
	if !ok {
		return id.Actor{}, errors.New("unknown token")
	}
	return a, nil
}

func TestRequireAuth(t *testing.T) {
	official := id.Actor{ID: id.UserID(uuid.New()), Role: id.RoleOfficial}
	resolver := stubResolver{actors: map[string]id.Actor{"good": official}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen id.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := requestcontext.Actor(r.Context())
		require.True(t, ok)
		seen = a
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAuth(resolver, logger)(next)

	t.Run("missing header is unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/views/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthenticated")
	})

	t.Run("unknown token is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/views/me", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token passes actor downstream", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/views/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, official, seen)
	})
}
