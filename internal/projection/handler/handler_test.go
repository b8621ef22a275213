package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/cases/store"
	"civicwatch/internal/projection"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/testutil"
)

type citizenBody struct {
	View     string                    `json:"view"`
	Revision int64                     `json:"revision"`
	Data     projection.CitizenSummary `json:"data"`
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	cases := store.NewInMemory()
	citizen := testutil.Citizen()
	lat, lng := -1.292066, 36.821945
	for _, filer := range []id.UserID{citizen.ID, id.NewUserID()} {
		c, err := models.NewCase(id.NewCaseID(), filer, "Permit delay", "permit held for a bribe", models.TypeBribery,
			&models.Location{Text: "City hall", Latitude: &lat, Longitude: &lng}, false, time.Now())
		require.NoError(t, err)
		require.NoError(t, cases.Create(ctx, c))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(projection.New(cases), logger).Register(r)

	get := func(path string, actor *id.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if actor != nil {
			req = testutil.WithActor(req, *actor)
		}
		return testutil.DoRequest(r, req)
	}

	t.Run("citizen summary", func(t *testing.T) {
		rr := get("/views/me", &citizen)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := testutil.UnmarshalResponse[citizenBody](t, rr)
		assert.Equal(t, "citizen_summary", body.View)
		assert.Equal(t, 1, body.Data.Total)
		assert.Positive(t, body.Revision)
	})

	t.Run("admin analytics", func(t *testing.T) {
		admin := testutil.Admin()
		rr := get("/views/me", &admin)
		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, "admin_analytics", (*body)["view"])
	})

	t.Run("map for any role", func(t *testing.T) {
		rr := get("/views/map", &citizen)
		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[struct {
			Data []projection.MapPoint `json:"data"`
		}](t, rr)
		assert.Len(t, body.Data, 2)
	})

	t.Run("clusters are staff only", func(t *testing.T) {
		rr := get("/views/clusters", &citizen)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")

		official := testutil.Official()
		rr = get("/views/clusters?level=10", &official)
		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[struct {
			Data []projection.Cluster `json:"data"`
		}](t, rr)
		require.Len(t, body.Data, 1)
		assert.Equal(t, 2, body.Data[0].Count)
	})

	t.Run("bad level", func(t *testing.T) {
		official := testutil.Official()
		rr := get("/views/clusters?level=x", &official)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("no identity", func(t *testing.T) {
		rr := get("/views/me", nil)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthenticated")
	})
}
