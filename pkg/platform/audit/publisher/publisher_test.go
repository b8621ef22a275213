package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civicwatch/pkg/domain"
	audit "civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/audit/store/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (r *recordingSink) Append(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	caseID := id.CaseID(uuid.New())
	require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionCaseFiled}))

	events, err := pub.List(context.Background(), caseID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCaseFiled, events[0].Action)
	assert.NotEmpty(t, events[0].ID)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	caseID := id.CaseID(uuid.New())
	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionNoteAdded}))
	}
	pub.Close()

	events, err := store.ListByCase(context.Background(), caseID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{CaseID: id.CaseID(uuid.New()), Action: audit.ActionCaseFiled})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	t.Run("async", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(8))
		pub.Close()
		err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionNoteAdded})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("sync", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore())
		pub.Close()
		err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionNoteAdded})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("racing close", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(4))
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NotPanics(t, func() {
					err := pub.Emit(context.Background(), audit.Event{CaseID: id.NewCaseID(), Action: audit.ActionNoteAdded})
					if err != nil && !errors.Is(err, ErrClosed) {
						assert.ErrorIs(t, err, ErrBufferFull)
					}
				})
			}()
		}
		pub.Close()
		wg.Wait()
	})
}

func TestPublisher_CancelledContextInAsyncMode(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Emit(ctx, audit.Event{Action: audit.ActionCaseFiled})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_Timestamps(t *testing.T) {
	caseID := id.CaseID(uuid.New())

	t.Run("sets missing timestamp", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore())
		before := time.Now()
		require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionCaseFiled}))
		after := time.Now()

		events, err := pub.List(context.Background(), caseID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].Timestamp.Before(before))
		assert.False(t, events[0].Timestamp.After(after))
	})

	t.Run("preserves existing timestamp", func(t *testing.T) {
		pub := NewPublisher(memory.NewInMemoryStore())
		custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionCaseFiled, Timestamp: custom}))

		events, err := pub.List(context.Background(), caseID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, custom, events[0].Timestamp)
	})
}

func TestPublisher_Sinks(t *testing.T) {
	caseID := id.CaseID(uuid.New())

	t.Run("forwards to every sink in order", func(t *testing.T) {
		sink := &recordingSink{}
		pub := NewPublisher(memory.NewInMemoryStore(), WithSinks(sink))
		require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionCaseFiled}))
		require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionStatusChanged}))

		require.Len(t, sink.events, 2)
		assert.Equal(t, audit.ActionCaseFiled, sink.events[0].Action)
		assert.Equal(t, audit.ActionStatusChanged, sink.events[1].Action)
	})

	t.Run("sink failure does not fail emit", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		sink := &recordingSink{err: errors.New("broker down")}
		pub := NewPublisher(store, WithSinks(sink))

		require.NoError(t, pub.Emit(context.Background(), audit.Event{CaseID: caseID, Action: audit.ActionNoteAdded}))
		events, err := store.ListByCase(context.Background(), caseID)
		require.NoError(t, err)
		assert.NotEmpty(t, events)
	})
}
