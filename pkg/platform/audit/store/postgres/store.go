package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	id "civicwatch/pkg/domain"
	audit "civicwatch/pkg/platform/audit"
)

// Store keeps the case event trail in the case_events table next to the case
// repository.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	eventID := event.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	query := `
		INSERT INTO case_events (id, case_id, actor_id, actor_role, action, detail, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		eventID,
		event.CaseID.String(),
		event.ActorID.String(),
		string(event.ActorRole),
		string(event.Action),
		detail,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert case event: %w", err)
	}
	return nil
}

func (s *Store) ListByCase(ctx context.Context, caseID id.CaseID) ([]audit.Event, error) {
	query := `
		SELECT id, case_id, actor_id, actor_role, action, detail, request_id, occurred_at
		FROM case_events
		WHERE case_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, caseID.String())
	if err != nil {
		return nil, fmt.Errorf("list case events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev                audit.Event
			caseRaw, actorRaw uuid.UUID
			role, action      string
			detail            []byte
		)
		if err := rows.Scan(&ev.ID, &caseRaw, &actorRaw, &role, &action, &detail, &ev.RequestID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan case event: %w", err)
		}
		ev.CaseID = id.CaseID(caseRaw)
		ev.ActorID = id.UserID(actorRaw)
		ev.ActorRole = id.Role(role)
		ev.Action = audit.Action(action)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal event detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
