package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/ratelimit/models"
	"civicwatch/internal/ratelimit/store/bucket"
	"civicwatch/pkg/testutil"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestPerActor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	newMiddleware := func(store BucketStore) http.Handler {
		m := New(store, logger,
			WithLimit(models.ClassWrite, models.Limit{Requests: 2, Window: time.Minute}),
		)
		return m.PerActor(okHandler())
	}

	t.Run("writes beyond the budget get 429", func(t *testing.T) {
		h := newMiddleware(bucket.NewInMemoryBucketStore())
		citizen := testutil.Citizen()
		for range 2 {
			rr := testutil.DoRequest(h, testutil.WithActor(httptest.NewRequest(http.MethodPost, "/cases", nil), citizen))
			require.Equal(t, http.StatusNoContent, rr.Code)
		}
		rr := testutil.DoRequest(h, testutil.WithActor(httptest.NewRequest(http.MethodPost, "/cases", nil), citizen))
		testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limit_exceeded")
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	})

	t.Run("budgets are per actor", func(t *testing.T) {
		h := newMiddleware(bucket.NewInMemoryBucketStore())
		for range 2 {
			testutil.DoRequest(h, testutil.WithActor(httptest.NewRequest(http.MethodPost, "/cases", nil), testutil.Citizen()))
		}
		rr := testutil.DoRequest(h, testutil.WithActor(httptest.NewRequest(http.MethodPost, "/cases", nil), testutil.Citizen()))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("reads without a limit pass", func(t *testing.T) {
		h := newMiddleware(bucket.NewInMemoryBucketStore())
		official := testutil.Official()
		for range 5 {
			rr := testutil.DoRequest(h, testutil.WithActor(httptest.NewRequest(http.MethodGet, "/views/me", nil), official))
			require.Equal(t, http.StatusNoContent, rr.Code)
		}
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := newMiddleware(failingStore{})
		rr := testutil.DoRequest(h, testutil.WithActor(httptest.NewRequest(http.MethodPatch, "/cases/x/status", nil), testutil.Official()))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, models.ClassRead, models.ClassOf(http.MethodGet))
	assert.Equal(t, models.ClassWrite, models.ClassOf(http.MethodPost))
	assert.Equal(t, models.ClassWrite, models.ClassOf(http.MethodPatch))
}
