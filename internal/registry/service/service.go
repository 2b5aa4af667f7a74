// Package service implements the temporal entity store's public
// operations: Create, Update, Delete, Recreate and History, shared
// structurally across all declared entity types.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"addrreg/internal/events"
	"addrreg/internal/platform/metrics"
	"addrreg/internal/temporal"
	dErrors "addrreg/pkg/domain-errors"
	"addrreg/pkg/platform/sentinel"
)

// InterceptFunc runs inside the mutation transaction after the entity and
// registration writes, as an extension point for collaborators
// (authorization double-checks, tests). A returned error rolls the whole
// transaction back.
type InterceptFunc func(ctx context.Context) error

// Service is the temporal entity store.
type Service struct {
	schemas map[string]temporal.Schema
	store   temporal.Store
	events  *events.Service
	tx      StoreTx

	clock     func() time.Time
	log       *slog.Logger
	metrics   *metrics.Metrics
	intercept InterceptFunc
	notify    func()
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

// WithIntercept installs the in-transaction extension hook.
func WithIntercept(fn InterceptFunc) Option {
	return func(s *Service) { s.intercept = fn }
}

// WithNotify installs a post-commit callback, used to wake the outbox
// worker after a successful mutation.
func WithNotify(fn func()) Option {
	return func(s *Service) { s.notify = fn }
}

// New creates the service over the given schema set, stores and
// transaction boundary.
func New(
	schemas map[string]temporal.Schema,
	store temporal.Store,
	eventService *events.Service,
	tx StoreTx,
	log *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		schemas: schemas,
		store:   store,
		events:  eventService,
		tx:      tx,
		clock:   time.Now,
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WriteOptions carry the optional parts of a mutation.
type WriteOptions struct {
	// User records who performed the mutation; nil for system-generated
	// entries.
	User *string
	// ValidFrom/ValidTo set the real-world effective interval. They
	// default to the registration interval in formatted output when
	// unset.
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// Create writes a new entity and its first open registration, and
// enqueues the outbox event, all in one transaction.
func (s *Service) Create(ctx context.Context, typ string, fields temporal.Fields, opts WriteOptions) (*temporal.Entity, error) {
	return s.create(ctx, typ, uuid.New(), fields, opts)
}

// Recreate is Create with a previously-used objectID, e.g. undeleting a
// logically removed entity. The new registration starts a fresh open
// interval; the old closed registrations stay attached to the objectID
// with their entity link severed.
func (s *Service) Recreate(ctx context.Context, typ string, objectID uuid.UUID, fields temporal.Fields, opts WriteOptions) (*temporal.Entity, error) {
	if objectID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "recreate requires an objectID")
	}
	return s.create(ctx, typ, objectID, fields, opts)
}

func (s *Service) create(ctx context.Context, typ string, objectID uuid.UUID, fields temporal.Fields, opts WriteOptions) (*temporal.Entity, error) {
	sc, err := s.schema(typ)
	if err != nil {
		return nil, err
	}
	norm, err := normalizeFields(sc, fields, true)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	entity := &temporal.Entity{
		ObjectID:         objectID,
		Type:             typ,
		RegistrationFrom: now,
		Fields:           norm,
	}

	err = s.tx.RunInTx(ctx, typ, objectID, func(ctx context.Context) error {
		switch _, err := s.store.FindEntity(ctx, typ, objectID); {
		case err == nil:
			return dErrors.New(dErrors.CodeConflict, "object already exists")
		case err == sentinel.ErrGone, err == sentinel.ErrNotFound:
			// fresh create or recreate after deletion
		default:
			return err
		}
		if err := s.checkReferences(ctx, sc, norm); err != nil {
			return err
		}
		if err := s.store.InsertEntity(ctx, entity); err != nil {
			return err
		}
		reg := s.newRegistration(entity, now, opts)
		if err := reg.Validate(now); err != nil {
			return err
		}
		if err := s.store.AppendRegistration(ctx, reg); err != nil {
			return err
		}
		if err := s.runIntercept(ctx); err != nil {
			return err
		}
		_, err := s.events.CreateForRegistration(ctx, reg)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(typ, objectID, "create")
	return entity, nil
}

// Update closes the open registration, overwrites the live row and
// appends a new open registration capturing the post-mutation values.
// The patch is merged over the current field values.
func (s *Service) Update(ctx context.Context, typ string, objectID uuid.UUID, patch temporal.Fields, opts WriteOptions) (*temporal.Entity, error) {
	sc, err := s.schema(typ)
	if err != nil {
		return nil, err
	}
	normPatch, err := normalizeFields(sc, patch, false)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var entity *temporal.Entity

	err = s.tx.RunInTx(ctx, typ, objectID, func(ctx context.Context) error {
		cur, err := s.store.FindEntity(ctx, typ, objectID)
		if err == sentinel.ErrNotFound || err == sentinel.ErrGone {
			return dErrors.New(dErrors.CodeNotFound, "no such object")
		}
		if err != nil {
			return err
		}
		// Recorded history must stay behind the clock.
		if !cur.RegistrationFrom.Before(now) {
			return dErrors.New(dErrors.CodeBadRequest, "registration ends before it starts")
		}

		merged := cur.Fields.Clone()
		for k, v := range normPatch {
			merged[k] = v
		}
		if err := s.checkReferences(ctx, sc, merged); err != nil {
			return err
		}

		if err := s.store.CloseOpenRegistration(ctx, typ, objectID, now); err != nil {
			return err
		}
		entity = &temporal.Entity{
			ObjectID:         objectID,
			Type:             typ,
			RegistrationFrom: now,
			Fields:           merged,
		}
		if err := s.store.UpdateEntity(ctx, entity); err != nil {
			return err
		}
		reg := s.newRegistration(entity, now, opts)
		if err := reg.Validate(now); err != nil {
			return err
		}
		if err := s.store.AppendRegistration(ctx, reg); err != nil {
			return err
		}
		if err := s.runIntercept(ctx); err != nil {
			return err
		}
		_, err = s.events.CreateForRegistration(ctx, reg)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(typ, objectID, "update")
	return entity, nil
}

// Delete closes the open registration without a successor and removes the
// live row. The history is retained with its entity link severed.
func (s *Service) Delete(ctx context.Context, typ string, objectID uuid.UUID) error {
	if _, err := s.schema(typ); err != nil {
		return err
	}

	now := s.clock()
	err := s.tx.RunInTx(ctx, typ, objectID, func(ctx context.Context) error {
		_, err := s.store.FindEntity(ctx, typ, objectID)
		if err == sentinel.ErrNotFound || err == sentinel.ErrGone {
			return dErrors.New(dErrors.CodeNotFound, "no such object")
		}
		if err != nil {
			return err
		}
		if err := s.store.CloseOpenRegistration(ctx, typ, objectID, now); err != nil {
			return err
		}
		if err := s.runIntercept(ctx); err != nil {
			return err
		}
		return s.store.RemoveEntity(ctx, typ, objectID)
	})
	if err != nil {
		return err
	}

	s.committed(typ, objectID, "delete")
	return nil
}

// Get returns the live entity.
func (s *Service) Get(ctx context.Context, typ string, objectID uuid.UUID) (*temporal.Entity, error) {
	if _, err := s.schema(typ); err != nil {
		return nil, err
	}
	e, err := s.store.FindEntity(ctx, typ, objectID)
	if err == sentinel.ErrNotFound || err == sentinel.ErrGone {
		return nil, dErrors.New(dErrors.CodeNotFound, "no such object")
	}
	return e, err
}

// History returns the object's (sequenceNumber, checksum) pairs ordered by
// registration start, restricted to registrations starting at or after
// since when given. Unset checksums are computed and persisted first.
func (s *Service) History(ctx context.Context, typ string, objectID uuid.UUID, since *time.Time) ([]temporal.HistoryEntry, error) {
	if _, err := s.schema(typ); err != nil {
		return nil, err
	}
	registrations, err := s.store.Registrations(ctx, typ, objectID)
	if err != nil {
		return nil, err
	}

	var entries []temporal.HistoryEntry
	for _, r := range registrations {
		if since != nil && r.RegistrationFrom.Before(*since) {
			continue
		}
		if r.Checksum == "" {
			r.EnsureChecksum()
			if err := s.store.SetChecksum(ctx, r); err != nil {
				return nil, err
			}
		}
		entries = append(entries, temporal.HistoryEntry{
			SequenceNumber: len(entries),
			Checksum:       r.Checksum,
		})
	}
	return entries, nil
}

// ChangedObject is one entity's history summary in the changed-checksums
// listing.
type ChangedObject struct {
	Type          string                  `json:"type"`
	ObjectID      string                  `json:"objectID"`
	Registrations []temporal.HistoryEntry `json:"registrations"`
}

// ChangedSince lists, per live entity of the given types, the history
// entries starting at or after since. A nil since lists everything; empty
// types means all declared types.
func (s *Service) ChangedSince(ctx context.Context, types []string, since *time.Time) ([]ChangedObject, error) {
	if len(types) == 0 {
		types = s.typeNames()
	}
	var out []ChangedObject
	for _, typ := range types {
		if _, err := s.schema(typ); err != nil {
			return nil, err
		}
		entities, err := s.store.ListEntities(ctx, typ)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			entries, err := s.History(ctx, typ, e.ObjectID, since)
			if err != nil {
				return nil, err
			}
			if len(entries) == 0 {
				continue
			}
			out = append(out, ChangedObject{
				Type:          typ,
				ObjectID:      e.ObjectID.String(),
				Registrations: entries,
			})
		}
	}
	return out, nil
}

// RegistrationsByChecksums resolves a checksum set to formatted content.
func (s *Service) RegistrationsByChecksums(ctx context.Context, typ string, checksums []string) ([]*temporal.Registration, error) {
	if _, err := s.schema(typ); err != nil {
		return nil, err
	}
	return s.store.RegistrationsByChecksums(ctx, typ, checksums)
}

// Schema exposes the declared schema for a type tag.
func (s *Service) Schema(typ string) (temporal.Schema, bool) {
	sc, ok := s.schemas[typ]
	return sc, ok
}

func (s *Service) schema(typ string) (temporal.Schema, error) {
	sc, ok := s.schemas[typ]
	if !ok {
		return temporal.Schema{}, dErrors.Newf(dErrors.CodeBadRequest, "unknown entity type %q", typ)
	}
	return sc, nil
}

func (s *Service) typeNames() []string {
	names := make([]string, 0, len(s.schemas))
	for typ := range s.schemas {
		names = append(names, typ)
	}
	return names
}

func (s *Service) newRegistration(e *temporal.Entity, now time.Time, opts WriteOptions) *temporal.Registration {
	return &temporal.Registration{
		ObjectID:         e.ObjectID,
		Type:             e.Type,
		RegistrationFrom: now,
		ValidFrom:        opts.ValidFrom,
		ValidTo:          opts.ValidTo,
		RegistrationUser: opts.User,
		Linked:           true,
		Fields:           e.Fields.Clone(),
	}
}

func (s *Service) runIntercept(ctx context.Context) error {
	if s.intercept == nil {
		return nil
	}
	return s.intercept(ctx)
}

// checkReferences enforces the must-be-active constraints of the schema's
// foreign references against the live tables.
func (s *Service) checkReferences(ctx context.Context, sc temporal.Schema, fields temporal.Fields) error {
	for _, ref := range sc.References() {
		v, ok := fields[ref.Name]
		if !ok || v == nil {
			continue
		}
		id, ok := v.(uuid.UUID)
		if !ok {
			return dErrors.Newf(dErrors.CodeBadRequest, "field %q is not an object reference", ref.Name)
		}
		target, err := s.store.FindEntity(ctx, ref.RefType, id)
		if err == sentinel.ErrNotFound || err == sentinel.ErrGone {
			return dErrors.Newf(dErrors.CodeBadRequest, "referenced %s %s does not exist", ref.RefType, id)
		}
		if err != nil {
			return err
		}
		if ref.MustBeActive && !target.Active() {
			return dErrors.Newf(dErrors.CodeBadRequest, "referenced %s %s is inactive", ref.RefType, id)
		}
	}
	return nil
}

func (s *Service) committed(typ string, objectID uuid.UUID, op string) {
	s.metrics.IncRegistrations(typ)
	if s.log != nil {
		s.log.Info("entity mutation committed",
			"type", typ,
			"object_id", objectID.String(),
			"op", op,
		)
	}
	if s.notify != nil {
		s.notify()
	}
}
