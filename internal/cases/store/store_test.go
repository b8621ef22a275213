package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
)

// caseRepository is the surface both stores share.
type caseRepository interface {
	Create(ctx context.Context, c *models.Case) error
	FindByID(ctx context.Context, caseID id.CaseID) (*models.Case, error)
	ListByFiler(ctx context.Context, filer id.UserID) ([]*models.Case, error)
	ListAll(ctx context.Context) ([]*models.Case, error)
	UpdateStatus(ctx context.Context, caseID id.CaseID, from, to models.Status, note models.Note) error
	AppendNote(ctx context.Context, caseID id.CaseID, note models.Note) error
	AppendEvidence(ctx context.Context, caseID id.CaseID, ev models.Evidence) error
	SetAnalysisIfUnset(ctx context.Context, caseID id.CaseID, a models.Analysis) (bool, error)
	MarkAnalysisFailed(ctx context.Context, caseID id.CaseID, now time.Time) error
	SetAnchorIfUnset(ctx context.Context, caseID id.CaseID, hash string) (bool, error)
	Revision(ctx context.Context) (int64, error)
}

var (
	_ caseRepository = (*InMemory)(nil)
	_ caseRepository = (*PostgresStore)(nil)
)

// CaseStoreSuite exercises repository behavior; it runs against the
// in-memory store here and against Postgres under the integration tag.
type CaseStoreSuite struct {
	suite.Suite
	newStore func() caseRepository
	store    caseRepository
	ctx      context.Context
	now      time.Time
}

func TestInMemoryCaseStore(t *testing.T) {
	suite.Run(t, &CaseStoreSuite{newStore: func() caseRepository { return NewInMemory() }})
}

func (s *CaseStoreSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
	s.now = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
}

func (s *CaseStoreSuite) newCase(filer id.UserID, filedAt time.Time) *models.Case {
	lat, lng := 6.5244, 3.3792
	c, err := models.NewCase(id.NewCaseID(), filer, "Inflated contract", "road contract priced 3x",
		models.TypeFraud, &models.Location{Text: "Lagos", Latitude: &lat, Longitude: &lng}, false, filedAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, c))
	return c
}

func (s *CaseStoreSuite) TestCreateAndFind() {
	filer := id.NewUserID()
	c := s.newCase(filer, s.now)

	s.Run("round trips fields", func() {
		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(c.Title, found.Title)
		s.Equal(filer, found.FilerID)
		s.Equal(models.StatusFiled, found.Status)
		s.Equal(models.AnalysisPending, found.AnalysisState)
		s.Require().NotNil(found.Location)
		s.Equal("Lagos", found.Location.Text)
		s.True(found.Location.HasCoordinates())
		s.Nil(found.Analysis)
		s.Empty(found.Evidence)
	})

	s.Run("unknown id", func() {
		_, err := s.store.FindByID(s.ctx, id.NewCaseID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate id", func() {
		s.ErrorIs(s.store.Create(s.ctx, c), sentinel.ErrConflict)
	})
}

func (s *CaseStoreSuite) TestReturnedCasesAreCopies() {
	c := s.newCase(id.NewUserID(), s.now)
	*c.Location.Latitude = 0

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.InDelta(6.5244, *found.Location.Latitude, 1e-9)

	rev, err := s.store.Revision(s.ctx)
	s.Require().NoError(err)
	*found.Location.Latitude = 1
	*found.Location.Longitude = 1

	again, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.InDelta(6.5244, *again.Location.Latitude, 1e-9)
	s.InDelta(3.3792, *again.Location.Longitude, 1e-9)
	after, err := s.store.Revision(s.ctx)
	s.Require().NoError(err)
	s.Equal(rev, after)
}

func (s *CaseStoreSuite) TestListing() {
	alice, bob := id.NewUserID(), id.NewUserID()
	older := s.newCase(alice, s.now)
	newer := s.newCase(alice, s.now.Add(time.Hour))
	s.newCase(bob, s.now.Add(2*time.Hour))

	mine, err := s.store.ListByFiler(s.ctx, alice)
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal(newer.ID, mine[0].ID)
	s.Equal(older.ID, mine[1].ID)

	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *CaseStoreSuite) TestUpdateStatus() {
	official := id.Actor{ID: id.NewUserID(), Role: id.RoleOfficial}
	c := s.newCase(id.NewUserID(), s.now)

	s.Run("applies when the current status matches", func() {
		note := models.StatusChangeNote(official, models.StatusFiled, models.StatusInvestigating, s.now)
		s.Require().NoError(s.store.UpdateStatus(s.ctx, c.ID, models.StatusFiled, models.StatusInvestigating, note))

		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusInvestigating, found.Status)
		s.Require().Len(found.Notes, 1)
		s.True(found.Notes[0].System)
	})

	s.Run("conflicts when the status moved", func() {
		note := models.StatusChangeNote(official, models.StatusFiled, models.StatusResolved, s.now)
		err := s.store.UpdateStatus(s.ctx, c.ID, models.StatusFiled, models.StatusResolved, note)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("not found", func() {
		note := models.StatusChangeNote(official, models.StatusFiled, models.StatusResolved, s.now)
		err := s.store.UpdateStatus(s.ctx, id.NewCaseID(), models.StatusFiled, models.StatusResolved, note)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *CaseStoreSuite) TestAppendEvidenceKeepsOrder() {
	c := s.newCase(id.NewUserID(), s.now)
	names := []string{"a.jpg", "b.pdf", "c.png"}
	for i, name := range names {
		ev := models.Evidence{
			ID: id.NewEvidenceID(), Ref: "blob/" + name, Name: name, Size: int64(10 + i),
			SHA256: sha(name), UploadedAt: s.now.Add(time.Duration(i) * time.Second),
		}
		s.Require().NoError(s.store.AppendEvidence(s.ctx, c.ID, ev))
	}

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(found.Evidence, 3)
	for i, name := range names {
		s.Equal(name, found.Evidence[i].Name)
	}

	err = s.store.AppendEvidence(s.ctx, id.NewCaseID(), models.Evidence{ID: id.NewEvidenceID(), SHA256: sha("x"), UploadedAt: s.now})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CaseStoreSuite) TestSetAnalysisIfUnset() {
	c := s.newCase(id.NewUserID(), s.now)
	first := models.Analysis{SeverityScore: 7.5, Summary: "first", Department: "works", CompletedAt: s.now}
	second := models.Analysis{SeverityScore: 2, Summary: "second", CompletedAt: s.now}

	applied, err := s.store.SetAnalysisIfUnset(s.ctx, c.ID, first)
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.store.SetAnalysisIfUnset(s.ctx, c.ID, second)
	s.Require().NoError(err)
	s.False(applied)

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.Analysis)
	s.Equal("first", found.Analysis.Summary)
	s.Equal("works", found.Analysis.Department)
	s.Equal(models.AnalysisCompleted, found.AnalysisState)

	s.Run("failure mark does not override completed analysis", func() {
		s.Require().NoError(s.store.MarkAnalysisFailed(s.ctx, c.ID, s.now))
		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.AnalysisCompleted, found.AnalysisState)
	})
}

func (s *CaseStoreSuite) TestConcurrentAnalysisHasOneWinner() {
	c := s.newCase(id.NewUserID(), s.now)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := s.store.SetAnalysisIfUnset(s.ctx, c.ID, models.Analysis{
				SeverityScore: float64(i), Summary: "writer", CompletedAt: s.now,
			})
			s.NoError(err)
			if applied {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *CaseStoreSuite) TestMarkAnalysisFailed() {
	c := s.newCase(id.NewUserID(), s.now)
	s.Require().NoError(s.store.MarkAnalysisFailed(s.ctx, c.ID, s.now))

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.AnalysisFailed, found.AnalysisState)
	s.Nil(found.Analysis)

	s.ErrorIs(s.store.MarkAnalysisFailed(s.ctx, id.NewCaseID(), s.now), sentinel.ErrNotFound)
}

func (s *CaseStoreSuite) TestSetAnchorIfUnset() {
	c := s.newCase(id.NewUserID(), s.now)
	applied, err := s.store.SetAnchorIfUnset(s.ctx, c.ID, "0xabc")
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.store.SetAnchorIfUnset(s.ctx, c.ID, "0xdef")
	s.Require().NoError(err)
	s.False(applied)

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("0xabc", found.AnchorHash)
}

func (s *CaseStoreSuite) TestRevisionAdvancesOnWrites() {
	before, err := s.store.Revision(s.ctx)
	s.Require().NoError(err)

	c := s.newCase(id.NewUserID(), s.now)
	afterCreate, err := s.store.Revision(s.ctx)
	s.Require().NoError(err)
	s.Greater(afterCreate, before)

	note, err := models.NewNote(id.NewUserID(), "called the ministry", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendNote(s.ctx, c.ID, note))
	afterNote, err := s.store.Revision(s.ctx)
	s.Require().NoError(err)
	s.Greater(afterNote, afterCreate)

	_, _ = s.store.FindByID(s.ctx, c.ID)
	afterRead, err := s.store.Revision(s.ctx)
	s.Require().NoError(err)
	s.Equal(afterNote, afterRead, "reads must not advance the revision")
}

func sha(seed string) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i := range out {
		out[i] = hexdigits[(int(seed[i%len(seed)])+i)%16]
	}
	return string(out)
}
