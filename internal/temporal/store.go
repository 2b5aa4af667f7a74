package temporal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the generic temporal table pair: one live entity row plus an
// append-only registration history per declared schema. A single
// implementation serves every entity type; there is no per-type store code.
//
// Mutating operations participate in the caller's transaction boundary
// (service.StoreTx); the store itself never commits.
type Store interface {
	// InsertEntity writes a new live row. Returns sentinel.ErrConflict if
	// a live row for the object already exists.
	InsertEntity(ctx context.Context, e *Entity) error

	// UpdateEntity overwrites the live row of an existing object.
	UpdateEntity(ctx context.Context, e *Entity) error

	// RemoveEntity deletes the live row and severs its registrations'
	// entity link. The history itself is retained.
	RemoveEntity(ctx context.Context, typ string, objectID uuid.UUID) error

	// FindEntity returns the live row, sentinel.ErrGone if the object was
	// removed but has history, or sentinel.ErrNotFound otherwise.
	FindEntity(ctx context.Context, typ string, objectID uuid.UUID) (*Entity, error)

	// ListEntities returns all live rows of a type ordered by objectID.
	ListEntities(ctx context.Context, typ string) ([]*Entity, error)

	// CloseOpenRegistration stamps the open interval's end. It is a no-op
	// when no open interval exists.
	CloseOpenRegistration(ctx context.Context, typ string, objectID uuid.UUID, at time.Time) error

	// AppendRegistration appends a history row. Append is the only way
	// content enters the registration table.
	AppendRegistration(ctx context.Context, r *Registration) error

	// Registrations returns an object's history ordered by
	// RegistrationFrom ascending. Callers receive copies; persisting a
	// lazily computed checksum goes through SetChecksum.
	Registrations(ctx context.Context, typ string, objectID uuid.UUID) ([]*Registration, error)

	// RegistrationsByChecksums resolves content addresses. Unknown
	// checksums are silently absent from the result.
	RegistrationsByChecksums(ctx context.Context, typ string, checksums []string) ([]*Registration, error)

	// SetChecksum persists r's memoized checksum. The write applies only
	// while the stored value is still unset: computing a digest twice is
	// harmless, persisting it twice is not.
	SetChecksum(ctx context.Context, r *Registration) error

	// DeleteRegistration always fails: registration tables are
	// append-only and deletion is a permission error by contract.
	DeleteRegistration(ctx context.Context, typ string, checksum string) error
}
