package temporal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "addrreg/pkg/domain-errors"
	"addrreg/pkg/platform/sentinel"
)

// MemoryStore is the in-memory temporal table pair, used in tests and as
// the development default when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	objects    map[string]map[uuid.UUID]*objectState
	byChecksum map[string]map[string]*Registration
}

type objectState struct {
	entity        *Entity // nil once the object is removed
	registrations []*Registration
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		objects:    make(map[string]map[uuid.UUID]*objectState),
		byChecksum: make(map[string]map[string]*Registration),
	}
}

func (s *MemoryStore) state(typ string, objectID uuid.UUID) *objectState {
	byID, ok := s.objects[typ]
	if !ok {
		return nil
	}
	return byID[objectID]
}

func (s *MemoryStore) ensureState(typ string, objectID uuid.UUID) *objectState {
	byID, ok := s.objects[typ]
	if !ok {
		byID = make(map[uuid.UUID]*objectState)
		s.objects[typ] = byID
	}
	st, ok := byID[objectID]
	if !ok {
		st = &objectState{}
		byID[objectID] = st
	}
	return st
}

func (s *MemoryStore) InsertEntity(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureState(e.Type, e.ObjectID)
	if st.entity != nil {
		return sentinel.ErrConflict
	}
	st.entity = copyEntity(e)
	return nil
}

func (s *MemoryStore) UpdateEntity(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(e.Type, e.ObjectID)
	if st == nil || st.entity == nil {
		return sentinel.ErrNotFound
	}
	st.entity = copyEntity(e)
	return nil
}

func (s *MemoryStore) RemoveEntity(_ context.Context, typ string, objectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(typ, objectID)
	if st == nil || st.entity == nil {
		return sentinel.ErrNotFound
	}
	st.entity = nil
	for _, r := range st.registrations {
		r.Linked = false
	}
	return nil
}

func (s *MemoryStore) FindEntity(_ context.Context, typ string, objectID uuid.UUID) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state(typ, objectID)
	if st == nil {
		return nil, sentinel.ErrNotFound
	}
	if st.entity == nil {
		if len(st.registrations) > 0 {
			return nil, sentinel.ErrGone
		}
		return nil, sentinel.ErrNotFound
	}
	return copyEntity(st.entity), nil
}

func (s *MemoryStore) ListEntities(_ context.Context, typ string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entity
	for _, st := range s.objects[typ] {
		if st.entity != nil {
			out = append(out, copyEntity(st.entity))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ObjectID.String() < out[j].ObjectID.String()
	})
	return out, nil
}

func (s *MemoryStore) CloseOpenRegistration(_ context.Context, typ string, objectID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(typ, objectID)
	if st == nil {
		return nil
	}
	for _, r := range st.registrations {
		if r.RegistrationTo == nil {
			end := at
			r.RegistrationTo = &end
		}
	}
	return nil
}

func (s *MemoryStore) AppendRegistration(_ context.Context, r *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureState(r.Type, r.ObjectID)
	stored := copyRegistration(r)
	st.registrations = append(st.registrations, stored)
	if stored.Checksum != "" {
		s.indexChecksum(stored)
	}
	return nil
}

func (s *MemoryStore) Registrations(_ context.Context, typ string, objectID uuid.UUID) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state(typ, objectID)
	if st == nil {
		return nil, nil
	}
	out := make([]*Registration, 0, len(st.registrations))
	for _, r := range st.registrations {
		out = append(out, copyRegistration(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RegistrationFrom.Before(out[j].RegistrationFrom)
	})
	return out, nil
}

func (s *MemoryStore) RegistrationsByChecksums(_ context.Context, typ string, checksums []string) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Registration
	for _, sum := range checksums {
		if r, ok := s.byChecksum[typ][sum]; ok {
			out = append(out, copyRegistration(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) SetChecksum(_ context.Context, r *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(r.Type, r.ObjectID)
	if st == nil {
		return sentinel.ErrNotFound
	}
	for _, stored := range st.registrations {
		if !stored.RegistrationFrom.Equal(r.RegistrationFrom) {
			continue
		}
		// Check-and-set: the first persisted value wins.
		if stored.Checksum == "" {
			stored.Checksum = r.Checksum
			s.indexChecksum(stored)
		}
		return nil
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) DeleteRegistration(context.Context, string, string) error {
	return dErrors.New(dErrors.CodeForbidden, "registration tables are append-only")
}

func (s *MemoryStore) indexChecksum(r *Registration) {
	byID, ok := s.byChecksum[r.Type]
	if !ok {
		byID = make(map[string]*Registration)
		s.byChecksum[r.Type] = byID
	}
	byID[r.Checksum] = r
}

// Snapshot captures one object's full state and returns a closure restoring
// it. The memory transaction boundary uses this to roll a failed mutation
// back; callers must hold the object's transaction shard.
func (s *MemoryStore) Snapshot(typ string, objectID uuid.UUID) (restore func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(typ, objectID)
	var saved *objectState
	if st != nil {
		saved = &objectState{entity: copyEntity(st.entity)}
		for _, r := range st.registrations {
			saved.registrations = append(saved.registrations, copyRegistration(r))
		}
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		cur := s.state(typ, objectID)
		if cur != nil {
			for _, r := range cur.registrations {
				if r.Checksum != "" {
					delete(s.byChecksum[typ], r.Checksum)
				}
			}
		}
		if saved == nil {
			if byID := s.objects[typ]; byID != nil {
				delete(byID, objectID)
			}
			return
		}
		s.ensureState(typ, objectID)
		s.objects[typ][objectID] = saved
		for _, r := range saved.registrations {
			if r.Checksum != "" {
				s.indexChecksum(r)
			}
		}
	}
}

func copyEntity(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Fields = e.Fields.Clone()
	return &out
}

func copyRegistration(r *Registration) *Registration {
	out := *r
	out.Fields = r.Fields.Clone()
	out.RegistrationTo = copyTime(r.RegistrationTo)
	out.ValidFrom = copyTime(r.ValidFrom)
	out.ValidTo = copyTime(r.ValidTo)
	if r.RegistrationUser != nil {
		u := *r.RegistrationUser
		out.RegistrationUser = &u
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
