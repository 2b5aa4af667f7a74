package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"addrreg/internal/events"
	"addrreg/internal/platform/logger"
	"addrreg/internal/registry/models"
	"addrreg/internal/temporal"
	dErrors "addrreg/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx context.Context

	now           time.Time
	temporalStore *temporal.MemoryStore
	eventStore    *events.MemoryStore
	eventService  *events.Service
	service       *Service

	interceptErr error
	notified     int
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s.interceptErr = nil
	s.notified = 0

	clock := func() time.Time { return s.now }
	s.temporalStore = temporal.NewMemory()
	s.eventStore = events.NewMemory()
	s.eventService = events.NewService(s.eventStore, s.temporalStore, events.WithClock(clock))
	s.service = New(
		models.Schemas(),
		s.temporalStore,
		s.eventService,
		NewMemoryTx(s.temporalStore, s.eventStore),
		logger.New(),
		WithClock(clock),
		WithIntercept(func(context.Context) error { return s.interceptErr }),
		WithNotify(func() { s.notified++ }),
	)
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *ServiceSuite) createMunicipality(name string) *temporal.Entity {
	e, err := s.service.Create(s.ctx, models.TypeMunicipality, temporal.Fields{
		"code":   int64(956),
		"abbrev": "SER",
		"name":   name,
	}, WriteOptions{})
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) eventCount() int {
	all, err := s.eventStore.List(s.ctx, events.ListFilter{})
	s.Require().NoError(err)
	return len(all)
}

func (s *ServiceSuite) TestCreate() {
	e := s.createMunicipality("Sermersooq")

	s.Run("defaults applied", func() {
		s.Equal(true, e.Fields["active"])
		s.Nil(e.Fields["note"])
		s.Equal("https://data.gl/najugaq/municipality", e.Fields["sumiffiikDomain"])
	})

	s.Run("open registration appended", func() {
		registrations, err := s.temporalStore.Registrations(s.ctx, models.TypeMunicipality, e.ObjectID)
		s.Require().NoError(err)
		s.Require().Len(registrations, 1)
		s.Nil(registrations[0].RegistrationTo)
		s.True(registrations[0].Linked)
		s.NotEmpty(registrations[0].Checksum)
	})

	s.Run("event created with registration checksum", func() {
		all, err := s.eventStore.List(s.ctx, events.ListFilter{})
		s.Require().NoError(err)
		s.Require().Len(all, 1)
		s.Equal(e.ObjectID, all[0].ObjectID)
		s.Equal(models.TypeMunicipality, all[0].UpdatedType)
		s.NotEmpty(all[0].UpdatedRegistrationChecksum)
	})

	s.Run("notify fired after commit", func() {
		s.Equal(1, s.notified)
	})
}

func (s *ServiceSuite) TestCreateValidation() {
	s.Run("unknown type", func() {
		_, err := s.service.Create(s.ctx, "galaxy", temporal.Fields{}, WriteOptions{})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown field", func() {
		_, err := s.service.Create(s.ctx, models.TypeMunicipality, temporal.Fields{
			"code": int64(1), "abbrev": "X", "name": "X", "population": 100,
		}, WriteOptions{})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("missing required field", func() {
		_, err := s.service.Create(s.ctx, models.TypeMunicipality, temporal.Fields{
			"code": int64(1),
		}, WriteOptions{})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("null in non-nullable field", func() {
		_, err := s.service.Create(s.ctx, models.TypeMunicipality, temporal.Fields{
			"code": int64(1), "abbrev": nil, "name": "X",
		}, WriteOptions{})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestRecreateConflictsWithLiveObject() {
	e := s.createMunicipality("Sermersooq")
	_, err := s.service.Recreate(s.ctx, models.TypeMunicipality, e.ObjectID, temporal.Fields{
		"code": int64(956), "abbrev": "SER", "name": "Sermersooq",
	}, WriteOptions{})
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestReferenceChecks() {
	muni := s.createMunicipality("Sermersooq")
	locality := func(muniID any) (*temporal.Entity, error) {
		return s.service.Create(s.ctx, models.TypeLocality, temporal.Fields{
			"name":         "Nuuk",
			"municipality": muniID,
		}, WriteOptions{})
	}

	s.Run("active reference accepted", func() {
		_, err := locality(muni.ObjectID)
		s.NoError(err)
	})

	s.Run("unknown reference rejected", func() {
		_, err := locality(uuid.New())
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("inactive reference rejected", func() {
		s.advance(time.Minute)
		_, err := s.service.Update(s.ctx, models.TypeMunicipality, muni.ObjectID,
			temporal.Fields{"active": false}, WriteOptions{})
		s.Require().NoError(err)

		s.advance(time.Minute)
		_, err = locality(muni.ObjectID)
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestUpdate() {
	e := s.createMunicipality("Sermersooq")
	createdAt := s.now
	s.advance(time.Hour)

	updated, err := s.service.Update(s.ctx, models.TypeMunicipality, e.ObjectID,
		temporal.Fields{"name": "Sermersooq Kommunia"}, WriteOptions{})
	s.Require().NoError(err)

	s.Run("patch merged over current values", func() {
		s.Equal("Sermersooq Kommunia", updated.Fields["name"])
		s.Equal(int64(956), updated.Fields["code"])
	})

	s.Run("previous interval closed where the new one begins", func() {
		registrations, err := s.temporalStore.Registrations(s.ctx, models.TypeMunicipality, e.ObjectID)
		s.Require().NoError(err)
		s.Require().Len(registrations, 2)
		s.Require().NotNil(registrations[0].RegistrationTo)
		s.True(registrations[0].RegistrationTo.Equal(s.now))
		s.True(registrations[0].RegistrationFrom.Equal(createdAt))
		s.Nil(registrations[1].RegistrationTo)
	})

	s.Run("one event per registration", func() {
		s.Equal(2, s.eventCount())
	})
}

func (s *ServiceSuite) TestUpdateAtRegistrationInstantRejected() {
	e := s.createMunicipality("Sermersooq")
	// Clock has not advanced past the open registration's start.
	_, err := s.service.Update(s.ctx, models.TypeMunicipality, e.ObjectID,
		temporal.Fields{"name": "Too soon"}, WriteOptions{})
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestUpdateUnknownObject() {
	_, err := s.service.Update(s.ctx, models.TypeMunicipality, uuid.New(),
		temporal.Fields{"name": "X"}, WriteOptions{})
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestDelete() {
	e := s.createMunicipality("Sermersooq")
	before := s.eventCount()
	s.advance(time.Hour)

	s.Require().NoError(s.service.Delete(s.ctx, models.TypeMunicipality, e.ObjectID))

	s.Run("live row gone", func() {
		_, err := s.service.Get(s.ctx, models.TypeMunicipality, e.ObjectID)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("history retained but severed", func() {
		registrations, err := s.temporalStore.Registrations(s.ctx, models.TypeMunicipality, e.ObjectID)
		s.Require().NoError(err)
		s.Require().Len(registrations, 1)
		s.False(registrations[0].Linked)
		s.NotNil(registrations[0].RegistrationTo)
	})

	s.Run("deletion emits no event", func() {
		s.Equal(before, s.eventCount())
	})
}

func (s *ServiceSuite) TestRecreateAfterDelete() {
	e := s.createMunicipality("Sermersooq")
	s.advance(time.Hour)
	s.Require().NoError(s.service.Delete(s.ctx, models.TypeMunicipality, e.ObjectID))
	s.advance(time.Hour)

	recreated, err := s.service.Recreate(s.ctx, models.TypeMunicipality, e.ObjectID, temporal.Fields{
		"code": int64(956), "abbrev": "SER", "name": "Sermersooq",
	}, WriteOptions{})
	s.Require().NoError(err)
	s.Equal(e.ObjectID, recreated.ObjectID)

	registrations, err := s.temporalStore.Registrations(s.ctx, models.TypeMunicipality, e.ObjectID)
	s.Require().NoError(err)
	s.Require().Len(registrations, 2)

	// The pre-deletion snapshot stays orphaned; only the new one is linked.
	s.False(registrations[0].Linked)
	s.True(registrations[1].Linked)
	s.Nil(registrations[1].RegistrationTo)
}

func (s *ServiceSuite) TestFailingInterceptCreatesNothing() {
	s.interceptErr = errors.New("boom")

	_, err := s.service.Create(s.ctx, models.TypeMunicipality, temporal.Fields{
		"code": int64(956), "abbrev": "SER", "name": "Sermersooq",
	}, WriteOptions{})
	s.Require().Error(err)

	entities, listErr := s.temporalStore.ListEntities(s.ctx, models.TypeMunicipality)
	s.Require().NoError(listErr)
	s.Empty(entities)
	s.Zero(s.eventCount())
	s.Zero(s.notified)
}

func (s *ServiceSuite) TestFailingInterceptRollsBackUpdate() {
	e := s.createMunicipality("Sermersooq")
	s.advance(time.Hour)
	s.interceptErr = errors.New("boom")

	_, err := s.service.Update(s.ctx, models.TypeMunicipality, e.ObjectID,
		temporal.Fields{"name": "Mutated"}, WriteOptions{})
	s.Require().Error(err)

	got, err := s.service.Get(s.ctx, models.TypeMunicipality, e.ObjectID)
	s.Require().NoError(err)
	s.Equal("Sermersooq", got.Fields["name"])

	registrations, err := s.temporalStore.Registrations(s.ctx, models.TypeMunicipality, e.ObjectID)
	s.Require().NoError(err)
	s.Require().Len(registrations, 1)
	s.Nil(registrations[0].RegistrationTo)
	s.Equal(1, s.eventCount())
}

func (s *ServiceSuite) TestHistory() {
	e := s.createMunicipality("Sermersooq")
	s.advance(time.Hour)
	sinceSecond := s.now
	_, err := s.service.Update(s.ctx, models.TypeMunicipality, e.ObjectID,
		temporal.Fields{"name": "Sermersooq Kommunia"}, WriteOptions{})
	s.Require().NoError(err)

	s.Run("full history", func() {
		entries, err := s.service.History(s.ctx, models.TypeMunicipality, e.ObjectID, nil)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(0, entries[0].SequenceNumber)
		s.Equal(1, entries[1].SequenceNumber)
		s.NotEqual(entries[0].Checksum, entries[1].Checksum)
	})

	s.Run("sequence numbers enumerate the filtered set", func() {
		entries, err := s.service.History(s.ctx, models.TypeMunicipality, e.ObjectID, &sinceSecond)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(0, entries[0].SequenceNumber)
	})
}

func (s *ServiceSuite) TestChangedSince() {
	muni := s.createMunicipality("Sermersooq")
	s.advance(time.Hour)
	cutoff := s.now
	_, err := s.service.Create(s.ctx, models.TypeLocality, temporal.Fields{
		"name": "Nuuk",
	}, WriteOptions{})
	s.Require().NoError(err)

	s.Run("all types, all time", func() {
		changed, err := s.service.ChangedSince(s.ctx, nil, nil)
		s.Require().NoError(err)
		s.Len(changed, 2)
	})

	s.Run("cutoff hides earlier registrations", func() {
		changed, err := s.service.ChangedSince(s.ctx, nil, &cutoff)
		s.Require().NoError(err)
		s.Require().Len(changed, 1)
		s.Equal(models.TypeLocality, changed[0].Type)
	})

	s.Run("type filter", func() {
		changed, err := s.service.ChangedSince(s.ctx, []string{models.TypeMunicipality}, nil)
		s.Require().NoError(err)
		s.Require().Len(changed, 1)
		s.Equal(muni.ObjectID.String(), changed[0].ObjectID)
	})
}
