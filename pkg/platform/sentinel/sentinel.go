package sentinel

import "errors"

// Sentinel errors for repository and infrastructure facts. Stores return these
// (optionally wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: a compare-and-set precondition no longer holds
//   - ErrAlreadySet: a write-once field already carries a value
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadySet  = errors.New("already set")
	ErrUnavailable = errors.New("unavailable")
)
