package domain

import (
	"github.com/google/uuid"

	dErrors "civicwatch/pkg/domain-errors"
)

// Typed identifiers keep case, user and evidence IDs from being mixed up at
// compile time. All of them are UUIDs on the wire.
type (
	UserID     uuid.UUID
	CaseID     uuid.UUID
	EvidenceID uuid.UUID
)

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id CaseID) String() string     { return uuid.UUID(id).String() }
func (id EvidenceID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id CaseID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EvidenceID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *UserID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CaseID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EvidenceID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func NewUserID() UserID         { return UserID(uuid.New()) }
func NewCaseID() CaseID         { return CaseID(uuid.New()) }
func NewEvidenceID() EvidenceID { return EvidenceID(uuid.New()) }

// ParseUserID parses a non-nil UUID. Used at trust boundaries (tokens, paths).
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseCaseID parses a non-nil UUID.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID(s, "case id")
	return CaseID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be nil")
	}
	return u, nil
}
