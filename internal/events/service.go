package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"addrreg/internal/platform/metrics"
	"addrreg/internal/temporal"
	dErrors "addrreg/pkg/domain-errors"
	"addrreg/pkg/platform/sentinel"
)

// Service creates outbox events and records consumer receipts.
type Service struct {
	store    Store
	temporal temporal.Store
	clock    func() time.Time
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics wires prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an event service over the outbox store. The temporal
// store is needed to persist lazily computed checksums.
func NewService(store Store, temporalStore temporal.Store, opts ...Option) *Service {
	s := &Service{store: store, temporal: temporalStore, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateForRegistration appends one outbox event addressing the
// registration's checksum, computing and persisting the checksum if it is
// still unset. It runs inside the mutation's transaction: a rolled-back
// mutation never produces a deliverable event.
func (s *Service) CreateForRegistration(ctx context.Context, r *temporal.Registration) (*Event, error) {
	if r.Checksum == "" {
		r.EnsureChecksum()
		if err := s.temporal.SetChecksum(ctx, r); err != nil {
			return nil, err
		}
	}
	e := &Event{
		EventID:                     uuid.New(),
		ObjectID:                    r.ObjectID,
		UpdatedType:                 r.Type,
		UpdatedRegistrationChecksum: r.Checksum,
		Created:                     s.clock(),
	}
	if err := s.store.Append(ctx, e); err != nil {
		return nil, err
	}
	s.metrics.IncEvents()
	return e, nil
}

// CreateForObject is the bulk/backfill path: one event per registration in
// the object's history, oldest first.
func (s *Service) CreateForObject(ctx context.Context, typ string, objectID uuid.UUID) ([]*Event, error) {
	registrations, err := s.temporal.Registrations(ctx, typ, objectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, len(registrations))
	for _, r := range registrations {
		e, err := s.CreateForRegistration(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Receipt idempotently stamps the consumer's acknowledgment. A nil
// errorCode records success; a non-nil one records "delivered but
// rejected". Re-stamping simply overwrites.
func (s *Service) Receipt(ctx context.Context, eventID uuid.UUID, errorCode *string) error {
	err := s.store.SetReceipt(ctx, eventID, s.clock(), errorCode)
	if err == sentinel.ErrNotFound {
		return dErrors.New(dErrors.CodeNotFound, "unknown event")
	}
	if err != nil {
		return err
	}
	s.metrics.IncReceipts()
	return nil
}

// Find returns the event or a not-found domain error.
func (s *Service) Find(ctx context.Context, eventID uuid.UUID) (*Event, error) {
	e, err := s.store.Find(ctx, eventID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown event")
	}
	return e, err
}

// Predecessors returns all events for the same object created strictly
// before e, oldest first. The push pipeline uses it to keep per-object
// delivery ordered.
func (s *Service) Predecessors(ctx context.Context, e *Event) ([]*Event, error) {
	return s.store.Predecessors(ctx, e)
}

// List returns outbox rows matching the filter, ordered by creation time.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Event, error) {
	return s.store.List(ctx, filter)
}
