package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/analysis"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/testutil"
)

type recordingTrigger struct {
	mu   sync.Mutex
	seen []id.CaseID
	done chan struct{}
}

func (r *recordingTrigger) Analyze(_ context.Context, _ id.Actor, caseID id.CaseID) (*analysis.Outcome, error) {
	r.mu.Lock()
	r.seen = append(r.seen, caseID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil, errors.New("analyzer offline")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolProcessesQueuedJobs(t *testing.T) {
	trig := &recordingTrigger{done: make(chan struct{}, 3)}
	p := New(trig, WithWorkers(2), WithLogger(discard()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	ids := []id.CaseID{id.NewCaseID(), id.NewCaseID(), id.NewCaseID()}
	for _, caseID := range ids {
		require.True(t, p.Enqueue(context.Background(), caseID, testutil.Citizen()))
	}
	for range ids {
		select {
		case <-trig.done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}

	cancel()
	require.NoError(t, <-errCh)
	trig.mu.Lock()
	defer trig.mu.Unlock()
	assert.ElementsMatch(t, ids, trig.seen)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	p := New(&recordingTrigger{done: make(chan struct{}, 1)}, WithQueueSize(1), WithLogger(discard()))

	assert.True(t, p.Enqueue(context.Background(), id.NewCaseID(), testutil.Citizen()))
	assert.False(t, p.Enqueue(context.Background(), id.NewCaseID(), testutil.Citizen()))
}
