package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	id "civicwatch/pkg/domain"
	audit "civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/audit/worker"
)

var (
	// ErrBufferFull is returned by Emit in async mode when the queue is saturated.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Emit once Close has started.
	ErrClosed = errors.New("audit publisher closed")
)

// Store is what the publisher needs from its primary store.
type Store interface {
	audit.Store
	audit.Lister
}

// Publisher records case events. The primary store is authoritative; sinks
// are forwarded to best-effort and their failures only get logged.
type Publisher struct {
	store  Store
	sinks  []audit.Store
	logger *slog.Logger

	buffer int
	inbox  chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once

	// mu guards closed and sends on inbox.
	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit enqueue instead of writing inline.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithSinks adds secondary destinations such as a Kafka topic.
func WithSinks(sinks ...audit.Store) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sinks...)
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.buffer > 0 {
		p.inbox = make(chan audit.Event, p.buffer)
		w := worker.NewWorker(fanout{p}, p.inbox, p.logger)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			_ = w.Run(context.Background())
		}()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.inbox == nil {
		return fanout{p}.Append(ctx, event)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.logger.WarnContext(ctx, "dropping case event, buffer full",
			"action", event.Action,
			"case_id", event.CaseID.String(),
		)
		return ErrBufferFull
	}
}

func (p *Publisher) List(ctx context.Context, caseID id.CaseID) ([]audit.Event, error) {
	return p.store.ListByCase(ctx, caseID)
}

// Close drains queued events. Emit calls after Close return ErrClosed.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		if p.inbox != nil {
			close(p.inbox)
		}
		p.mu.Unlock()
		p.wg.Wait()
	})
}

type fanout struct{ p *Publisher }

func (f fanout) Append(ctx context.Context, event audit.Event) error {
	if err := f.p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range f.p.sinks {
		if err := sink.Append(ctx, event); err != nil {
			f.p.logger.WarnContext(ctx, "case event sink failed",
				"action", event.Action,
				"case_id", event.CaseID.String(),
				"error", err,
			)
		}
	}
	return nil
}
