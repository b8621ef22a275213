package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civicwatch/internal/cases/models"
	"civicwatch/internal/cases/store"
	"civicwatch/internal/evidence/blob"
	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/audit/publisher"
	auditmemory "civicwatch/pkg/platform/audit/store/memory"
	"civicwatch/pkg/testutil"
)

type PipelineSuite struct {
	suite.Suite
	ctx    context.Context
	cases  *store.InMemory
	blobs  *blob.Memory
	filer  id.Actor
	caseID id.CaseID
	now    time.Time
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.cases = store.NewInMemory()
	s.blobs = blob.NewMemory()
	s.filer = testutil.Citizen()
	s.now = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	c, err := models.NewCase(id.NewCaseID(), s.filer.ID, "Land grab", "plot reassigned", models.TypeFraud, nil, false, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.cases.Create(s.ctx, c))
	s.caseID = c.ID
}

func (s *PipelineSuite) pipeline(opts ...Option) *Pipeline {
	opts = append([]Option{WithClock(func() time.Time { return s.now })}, opts...)
	return New(s.cases, s.blobs, opts...)
}

func upload(name, content string) Upload {
	return Upload{Name: name, ContentType: "application/octet-stream", Content: strings.NewReader(content)}
}

func (s *PipelineSuite) TestAllFilesAttached() {
	res, err := s.pipeline().Attach(s.ctx, s.filer, s.caseID, []Upload{upload("a.jpg", "aaa"), upload("b.jpg", "bb")})
	s.Require().NoError(err)
	s.Require().Len(res.Attached, 2)
	s.Empty(res.Failed)

	sum := sha256.Sum256([]byte("aaa"))
	s.Equal(hex.EncodeToString(sum[:]), res.Attached[0].SHA256)
	s.Equal(int64(3), res.Attached[0].Size)
	s.Equal(s.now, res.Attached[0].UploadedAt)

	c, err := s.cases.FindByID(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Len(c.Evidence, 2)
}

// A storage failure on the middle file leaves the others attached in
// submission order and reports only the middle one.
func (s *PipelineSuite) TestPartialFailurePreservesOrder() {
	s.blobs.FailOn("b.pdf")

	res, err := s.pipeline().Attach(s.ctx, s.filer, s.caseID, []Upload{
		upload("a.jpg", "a"), upload("b.pdf", "b"), upload("c.png", "c"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))
	s.Require().NotNil(res)

	s.Require().Len(res.Attached, 2)
	s.Equal("a.jpg", res.Attached[0].Name)
	s.Equal("c.png", res.Attached[1].Name)
	s.Require().Len(res.Failed, 1)
	s.Equal(FileFailure{Index: 1, Name: "b.pdf", Reason: ReasonStorageUnavailable}, res.Failed[0])

	c, err := s.cases.FindByID(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Require().Len(c.Evidence, 2)
	s.Equal("a.jpg", c.Evidence[0].Name)
	s.Equal("c.png", c.Evidence[1].Name)
}

func (s *PipelineSuite) TestTooLarge() {
	res, err := s.pipeline(WithMaxBytes(4)).Attach(s.ctx, s.filer, s.caseID, []Upload{
		upload("small.txt", "1234"), upload("big.txt", "12345"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))
	s.Len(res.Attached, 1)
	s.Require().Len(res.Failed, 1)
	s.Equal(ReasonTooLarge, res.Failed[0].Reason)
}

type failingAppendStore struct {
	*store.InMemory
	failName string
}

func (f *failingAppendStore) AppendEvidence(ctx context.Context, caseID id.CaseID, ev models.Evidence) error {
	if ev.Name == f.failName {
		return errors.New("db down")
	}
	return f.InMemory.AppendEvidence(ctx, caseID, ev)
}

func (s *PipelineSuite) TestRepositoryFailureIsPerFile() {
	cases := &failingAppendStore{InMemory: s.cases, failName: "a.jpg"}
	p := New(cases, s.blobs)

	res, err := p.Attach(s.ctx, s.filer, s.caseID, []Upload{upload("a.jpg", "a"), upload("b.jpg", "b")})
	s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))
	s.Require().Len(res.Failed, 1)
	s.Equal(ReasonRepository, res.Failed[0].Reason)
	s.Require().Len(res.Attached, 1)
	s.Equal("b.jpg", res.Attached[0].Name)
}

// cancellingReader cancels the request while its file is being read.
type cancellingReader struct {
	cancel context.CancelFunc
	done   bool
}

func (c *cancellingReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, errors.New("eof")
	}
	c.done = true
	c.cancel()
	return copy(p, "x"), nil
}

func (s *PipelineSuite) TestCancellationMarksRemainingFiles() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	res, err := s.pipeline().Attach(ctx, s.filer, s.caseID, []Upload{
		upload("a.jpg", "a"),
		{Name: "b.jpg", Content: &cancellingReader{cancel: cancel}},
		upload("c.jpg", "c"),
		upload("d.jpg", "d"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))
	s.Require().Len(res.Attached, 1)
	s.Equal("a.jpg", res.Attached[0].Name)
	s.Require().Len(res.Failed, 3)
	for i, f := range res.Failed {
		s.Equal(i+1, f.Index)
		s.Equal(ReasonCancelled, f.Reason)
	}
}

func (s *PipelineSuite) TestAccess() {
	s.Run("other citizen cannot attach", func() {
		_, err := s.pipeline().Attach(s.ctx, testutil.Citizen(), s.caseID, []Upload{upload("a", "a")})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("official can attach", func() {
		_, err := s.pipeline().Attach(s.ctx, testutil.Official(), s.caseID, []Upload{upload("a", "a")})
		s.NoError(err)
	})

	s.Run("unknown case", func() {
		_, err := s.pipeline().Attach(s.ctx, s.filer, id.NewCaseID(), []Upload{upload("a", "a")})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("no files", func() {
		res, err := s.pipeline().Attach(s.ctx, s.filer, s.caseID, nil)
		s.Require().NoError(err)
		s.Empty(res.Attached)
		s.Empty(res.Failed)
	})
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	cases []id.CaseID
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, caseID id.CaseID, _ id.Actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases = append(r.cases, caseID)
	return true
}

func (s *PipelineSuite) TestEnqueuesAnalysisAfterEveryBatch() {
	s.Run("all files landed", func() {
		enq := &recordingEnqueuer{}
		_, err := s.pipeline(WithAnalysisEnqueuer(enq)).Attach(s.ctx, s.filer, s.caseID, []Upload{upload("a", "a")})
		s.Require().NoError(err)
		s.Equal([]id.CaseID{s.caseID}, enq.cases)
	})

	s.Run("every file failed", func() {
		s.blobs.FailOn("b")
		enq := &recordingEnqueuer{}
		_, err := s.pipeline(WithAnalysisEnqueuer(enq)).Attach(s.ctx, s.filer, s.caseID, []Upload{upload("b", "b")})
		s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))
		s.Equal([]id.CaseID{s.caseID}, enq.cases)
	})

	s.Run("no evidence", func() {
		enq := &recordingEnqueuer{}
		_, err := s.pipeline(WithAnalysisEnqueuer(enq)).Attach(s.ctx, s.filer, s.caseID, nil)
		s.Require().NoError(err)
		s.Equal([]id.CaseID{s.caseID}, enq.cases)
	})

	s.Run("cancelled batch", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		enq := &recordingEnqueuer{}
		_, err := s.pipeline(WithAnalysisEnqueuer(enq)).Attach(ctx, s.filer, s.caseID, []Upload{upload("c", "c")})
		s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))
		s.Empty(enq.cases)
	})
}

func (s *PipelineSuite) TestEventsCarryPipelineClock() {
	s.blobs.FailOn("b")
	events := publisher.NewPublisher(auditmemory.NewInMemoryStore())
	defer events.Close()

	_, err := s.pipeline(WithAuditPublisher(events)).Attach(s.ctx, s.filer, s.caseID, []Upload{upload("a", "a"), upload("b", "b")})
	s.True(dErrors.HasCode(err, dErrors.CodePartialFailure))

	trail, err := events.List(s.ctx, s.caseID)
	s.Require().NoError(err)
	s.Require().Len(trail, 2)
	s.Equal(audit.ActionEvidenceAttached, trail[0].Action)
	s.Equal(audit.ActionEvidenceFailed, trail[1].Action)
	for _, e := range trail {
		s.True(s.now.Equal(e.Timestamp), "event %s stamped %s", e.Action, e.Timestamp)
	}
}
