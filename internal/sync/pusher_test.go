package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"addrreg/internal/events"
	"addrreg/internal/platform/logger"
	"addrreg/internal/temporal"
)

// fakeDestination records deliveries and optionally fails selected events.
type fakeDestination struct {
	mu        sync.Mutex
	delivered []Envelope
	failIDs   map[string]bool
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{failIDs: make(map[string]bool)}
}

func (d *fakeDestination) Deliver(_ context.Context, env Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIDs[env.EventID] {
		return errors.New("destination rejected event")
	}
	d.delivered = append(d.delivered, env)
	return nil
}

func (d *fakeDestination) envelopes() []Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Envelope, len(d.delivered))
	copy(out, d.delivered)
	return out
}

// fakeSource serves registrations straight from the memory store.
type fakeSource struct {
	store   *temporal.MemoryStore
	schemas map[string]temporal.Schema
}

func (s *fakeSource) RegistrationsByChecksums(ctx context.Context, typ string, checksums []string) ([]*temporal.Registration, error) {
	return s.store.RegistrationsByChecksums(ctx, typ, checksums)
}

func (s *fakeSource) Schema(typ string) (temporal.Schema, bool) {
	sc, ok := s.schemas[typ]
	return sc, ok
}

type PusherSuite struct {
	suite.Suite
	ctx context.Context

	now           time.Time
	temporalStore *temporal.MemoryStore
	eventStore    *events.MemoryStore
	eventService  *events.Service
	dest          *fakeDestination
	pusher        *Pusher
}

func TestPusherSuite(t *testing.T) {
	suite.Run(t, new(PusherSuite))
}

func (s *PusherSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s.temporalStore = temporal.NewMemory()
	s.eventStore = events.NewMemory()
	s.eventService = events.NewService(s.eventStore, s.temporalStore,
		events.WithClock(func() time.Time { return s.now }))
	s.dest = newFakeDestination()
	source := &fakeSource{
		store: s.temporalStore,
		schemas: map[string]temporal.Schema{
			"locality": {Type: "locality", Name: "Locality"},
		},
	}
	s.pusher = NewPusher(s.eventService, source, s.dest, logger.New(), nil)
}

// addEvent records a registration and its outbox event, advancing the
// clock so ordering is well defined.
func (s *PusherSuite) addEvent(objectID uuid.UUID, name string) *events.Event {
	r := &temporal.Registration{
		ObjectID:         objectID,
		Type:             "locality",
		RegistrationFrom: s.now,
		Linked:           true,
		Fields:           temporal.Fields{"name": name},
	}
	s.Require().NoError(s.temporalStore.AppendRegistration(s.ctx, r))
	e, err := s.eventService.CreateForRegistration(s.ctx, r)
	s.Require().NoError(err)
	s.now = s.now.Add(time.Minute)
	return e
}

func (s *PusherSuite) TestDeliversPendingEvents() {
	e := s.addEvent(uuid.New(), "Nuuk")

	result, err := s.pusher.Push(s.ctx, Options{})
	s.Require().NoError(err)
	s.Equal(1, result.Delivered)
	s.Zero(result.Failed)

	envelopes := s.dest.envelopes()
	s.Require().Len(envelopes, 1)
	s.Equal(EventVersion, envelopes[0].EventVersion)
	s.Equal(e.EventID.String(), envelopes[0].EventID)
	s.Equal("Locality", envelopes[0].EventData.ObjectData.Schema)

	// The payload data is itself a JSON document.
	var formatted temporal.FormattedRegistration
	s.Require().NoError(json.Unmarshal([]byte(envelopes[0].EventData.ObjectData.Data), &formatted))
	s.Equal(e.UpdatedRegistrationChecksum, formatted.Checksum)
	s.Equal(temporal.RegistrationDomain, formatted.Entity.Domain)
}

func (s *PusherSuite) TestPerObjectOrdering() {
	objectID := uuid.New()
	first := s.addEvent(objectID, "Nuuk")
	second := s.addEvent(objectID, "Nuuk II")
	third := s.addEvent(objectID, "Nuuk III")

	result, err := s.pusher.Push(s.ctx, Options{Width: 8})
	s.Require().NoError(err)
	s.Equal(3, result.Delivered)

	var order []string
	for _, env := range s.dest.envelopes() {
		order = append(order, env.EventID)
	}
	s.Equal([]string{
		first.EventID.String(),
		second.EventID.String(),
		third.EventID.String(),
	}, order)
}

func (s *PusherSuite) TestSkipsReceiptedEvents() {
	objectID := uuid.New()
	first := s.addEvent(objectID, "Nuuk")
	s.addEvent(objectID, "Nuuk II")
	s.Require().NoError(s.eventService.Receipt(s.ctx, first.EventID, nil))

	result, err := s.pusher.Push(s.ctx, Options{})
	s.Require().NoError(err)
	s.Equal(1, result.Delivered)

	envelopes := s.dest.envelopes()
	s.Require().Len(envelopes, 1)
	s.NotEqual(first.EventID.String(), envelopes[0].EventID)
}

func (s *PusherSuite) TestFullResendsReceiptedEvents() {
	objectID := uuid.New()
	first := s.addEvent(objectID, "Nuuk")
	s.addEvent(objectID, "Nuuk II")
	s.Require().NoError(s.eventService.Receipt(s.ctx, first.EventID, nil))

	result, err := s.pusher.Push(s.ctx, Options{Full: true})
	s.Require().NoError(err)
	s.Equal(2, result.Delivered)
}

func (s *PusherSuite) TestFailureBlocksSuccessorsOfSameObject() {
	objectID := uuid.New()
	first := s.addEvent(objectID, "Nuuk")
	s.addEvent(objectID, "Nuuk II")
	otherEvent := s.addEvent(uuid.New(), "Sisimiut")
	s.dest.failIDs[first.EventID.String()] = true

	result, err := s.pusher.Push(s.ctx, Options{})
	s.Require().NoError(err)
	s.Equal(1, result.Delivered)
	s.Equal(1, result.Failed)

	// Only the unrelated object got through.
	envelopes := s.dest.envelopes()
	s.Require().Len(envelopes, 1)
	s.Equal(otherEvent.EventID.String(), envelopes[0].EventID)
}

func (s *PusherSuite) TestFailFastAbortsRun() {
	objectID := uuid.New()
	first := s.addEvent(objectID, "Nuuk")
	s.dest.failIDs[first.EventID.String()] = true

	_, err := s.pusher.Push(s.ctx, Options{FailFast: true})
	s.Error(err)
}

func (s *PusherSuite) TestNoPendingEventsIsCheap() {
	result, err := s.pusher.Push(s.ctx, Options{})
	s.Require().NoError(err)
	s.Zero(result.Delivered)
	s.Empty(s.dest.envelopes())
}

func (s *PusherSuite) TestConcurrentObjectsAllDelivered() {
	for i := 0; i < 10; i++ {
		s.addEvent(uuid.New(), "Locality")
	}

	result, err := s.pusher.Push(s.ctx, Options{Width: 4})
	s.Require().NoError(err)
	s.Equal(10, result.Delivered)
	s.Len(s.dest.envelopes(), 10)
}
