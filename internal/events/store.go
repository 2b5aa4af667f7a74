package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists outbox events. Append participates in the caller's
// transaction so a rolled-back mutation never leaves an event behind.
type Store interface {
	Append(ctx context.Context, e *Event) error

	// Find returns the event or sentinel.ErrNotFound.
	Find(ctx context.Context, eventID uuid.UUID) (*Event, error)

	// List returns events matching the filter ordered by Created
	// ascending.
	List(ctx context.Context, filter ListFilter) ([]*Event, error)

	// Predecessors returns all events for the same object created
	// strictly before e, oldest first.
	Predecessors(ctx context.Context, e *Event) ([]*Event, error)

	// SetReceipt stamps the receipt fields. Re-stamping is permitted and
	// simply overwrites. Returns sentinel.ErrNotFound for unknown events.
	SetReceipt(ctx context.Context, eventID uuid.UUID, obtained time.Time, errorCode *string) error
}
