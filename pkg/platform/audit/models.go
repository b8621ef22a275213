package audit

import (
	"context"
	"time"

	id "civicwatch/pkg/domain"
)

// Action names a case lifecycle event.
type Action string

const (
	ActionCaseFiled         Action = "case_filed"
	ActionEvidenceAttached  Action = "evidence_attached"
	ActionEvidenceFailed    Action = "evidence_failed"
	ActionAnalysisCompleted Action = "analysis_completed"
	ActionAnalysisFailed    Action = "analysis_failed"
	ActionCaseAnchored      Action = "case_anchored"
	ActionStatusChanged     Action = "status_changed"
	ActionNoteAdded         Action = "note_added"
)

// Event is emitted after a case write commits. Keep it transport-agnostic so
// stores and sinks can fan out.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	CaseID    id.CaseID         `json:"case_id"`
	ActorID   id.UserID         `json:"actor_id"`
	ActorRole id.Role           `json:"actor_role,omitempty"`
	Action    Action            `json:"action"`
	Detail    map[string]string `json:"detail,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// Store persists or forwards events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByCase(ctx context.Context, caseID id.CaseID) ([]Event, error)
}
