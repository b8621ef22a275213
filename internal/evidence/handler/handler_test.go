package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/cases/store"
	"civicwatch/internal/evidence/blob"
	"civicwatch/internal/evidence/pipeline"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/testutil"
)

func setup(t *testing.T) (chi.Router, *blob.Memory, id.Actor, id.CaseID) {
	t.Helper()
	cases := store.NewInMemory()
	blobs := blob.NewMemory()
	filer := testutil.Citizen()
	c, err := models.NewCase(id.NewCaseID(), filer.ID, "Fake invoices", "supplier never delivered", models.TypeEmbezzlement, nil, false, time.Now())
	require.NoError(t, err)
	require.NoError(t, cases.Create(context.Background(), c))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(pipeline.New(cases, blobs, pipeline.WithLogger(logger)), logger).Register(r)
	return r, blobs, filer, c.ID
}

func TestHandleAttach(t *testing.T) {
	t.Run("200 when every file lands", func(t *testing.T) {
		r, _, filer, caseID := setup(t)
		req := testutil.NewMultipartRequest(t, "/cases/"+caseID.String()+"/evidence",
			testutil.File{Name: "a.jpg", Content: []byte("aaa")},
			testutil.File{Name: "b.jpg", Content: []byte("bbb")},
		)
		rr := testutil.DoRequest(r, testutil.WithActor(req, filer))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := testutil.UnmarshalResponse[AttachResponse](t, rr)
		require.Len(t, resp.Attached, 2)
		assert.Equal(t, "a.jpg", resp.Attached[0].Name)
		assert.Equal(t, "b.jpg", resp.Attached[1].Name)
		assert.Empty(t, resp.Failed)
		assert.Empty(t, resp.Error)
	})

	t.Run("207 with the failed list", func(t *testing.T) {
		r, blobs, filer, caseID := setup(t)
		blobs.FailOn("b.jpg")
		req := testutil.NewMultipartRequest(t, "/cases/"+caseID.String()+"/evidence",
			testutil.File{Name: "a.jpg", Content: []byte("a")},
			testutil.File{Name: "b.jpg", Content: []byte("b")},
			testutil.File{Name: "c.jpg", Content: []byte("c")},
		)
		rr := testutil.DoRequest(r, testutil.WithActor(req, filer))
		require.Equal(t, http.StatusMultiStatus, rr.Code, rr.Body.String())

		resp := testutil.UnmarshalResponse[AttachResponse](t, rr)
		assert.Equal(t, "partial_failure", resp.Error)
		require.Len(t, resp.Failed, 1)
		assert.Equal(t, "b.jpg", resp.Failed[0].Name)
		assert.Equal(t, pipeline.ReasonStorageUnavailable, resp.Failed[0].Reason)
		require.Len(t, resp.Attached, 2)
		assert.Equal(t, "c.jpg", resp.Attached[1].Name)
	})

	t.Run("404 for someone else's case", func(t *testing.T) {
		r, _, _, caseID := setup(t)
		req := testutil.NewMultipartRequest(t, "/cases/"+caseID.String()+"/evidence",
			testutil.File{Name: "a.jpg", Content: []byte("a")})
		rr := testutil.DoRequest(r, testutil.WithActor(req, testutil.Citizen()))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("400 for non-multipart body", func(t *testing.T) {
		r, _, filer, caseID := setup(t)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/cases/"+caseID.String()+"/evidence", map[string]string{"x": "y"})
		rr := testutil.DoRequest(r, testutil.WithActor(req, filer))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("200 with nothing attached when no files were sent", func(t *testing.T) {
		r, _, filer, caseID := setup(t)
		req := testutil.NewMultipartRequest(t, "/cases/"+caseID.String()+"/evidence")
		rr := testutil.DoRequest(r, testutil.WithActor(req, filer))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := testutil.UnmarshalResponse[AttachResponse](t, rr)
		assert.Empty(t, resp.Attached)
		assert.Empty(t, resp.Failed)
	})

	t.Run("401 without actor", func(t *testing.T) {
		r, _, _, caseID := setup(t)
		req := testutil.NewMultipartRequest(t, "/cases/"+caseID.String()+"/evidence",
			testutil.File{Name: "a.jpg", Content: []byte("a")})
		rr := testutil.DoRequest(r, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthenticated")
	})
}
