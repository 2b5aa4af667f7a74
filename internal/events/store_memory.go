package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"addrreg/pkg/platform/sentinel"
)

// MemoryStore is the in-memory outbox, used in tests and as the
// development default.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[uuid.UUID]*Event
}

// NewMemory creates an empty in-memory outbox.
func NewMemory() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Event)}
}

func (s *MemoryStore) Append(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyEvent(e)
	s.events = append(s.events, stored)
	s.byID[stored.EventID] = stored
	return nil
}

func (s *MemoryStore) Find(_ context.Context, eventID uuid.UUID) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyEvent(e), nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, e := range s.events {
		if filter.matches(e) {
			out = append(out, copyEvent(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func (s *MemoryStore) Predecessors(_ context.Context, e *Event) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, candidate := range s.events {
		if candidate.ObjectID == e.ObjectID && candidate.Created.Before(e.Created) {
			out = append(out, copyEvent(candidate))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func (s *MemoryStore) SetReceipt(_ context.Context, eventID uuid.UUID, obtained time.Time, errorCode *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	at := obtained
	e.ReceiptObtained = &at
	e.ReceiptErrorCode = nil
	if errorCode != nil {
		code := *errorCode
		e.ReceiptErrorCode = &code
	}
	return nil
}

// Snapshot captures the outbox rows of one object and returns a closure
// restoring them. The memory transaction boundary uses this to roll a
// failed mutation back.
func (s *MemoryStore) Snapshot(objectID uuid.UUID) (restore func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saved []*Event
	for _, e := range s.events {
		if e.ObjectID == objectID {
			saved = append(saved, copyEvent(e))
		}
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		kept := s.events[:0]
		for _, e := range s.events {
			if e.ObjectID == objectID {
				delete(s.byID, e.EventID)
				continue
			}
			kept = append(kept, e)
		}
		s.events = kept
		for _, e := range saved {
			s.events = append(s.events, e)
			s.byID[e.EventID] = e
		}
	}
}

func copyEvent(e *Event) *Event {
	out := *e
	if e.ReceiptObtained != nil {
		t := *e.ReceiptObtained
		out.ReceiptObtained = &t
	}
	if e.ReceiptErrorCode != nil {
		c := *e.ReceiptErrorCode
		out.ReceiptErrorCode = &c
	}
	return &out
}
