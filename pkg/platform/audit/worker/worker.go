package worker

import (
	"context"
	"log/slog"

	audit "civicwatch/pkg/platform/audit"
)

// Worker drains events from a channel into a store. A failed append is logged
// and skipped; the worker stops when the inbox closes or ctx is done.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to append case event",
					"action", event.Action,
					"case_id", event.CaseID.String(),
					"error", err,
				)
			}
		}
	}
}
