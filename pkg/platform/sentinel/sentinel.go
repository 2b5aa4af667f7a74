package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: object, registration or event does not exist in the store
// - ErrConflict: an open registration already exists for the object
// - ErrGone: the object was logically removed (its history remains)
// - ErrInvalidState: object in wrong lifecycle state for the operation
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, interval violations), use
// pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrGone         = errors.New("gone")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
