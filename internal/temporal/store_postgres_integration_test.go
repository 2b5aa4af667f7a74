//go:build integration

package temporal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"addrreg/internal/registry/models"
	"addrreg/internal/temporal"
	"addrreg/pkg/platform/sentinel"
	"addrreg/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *temporal.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), models.TypeNames())
	s.store = temporal.NewPostgres(s.postgres.DB, models.Schemas())
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.postgres != nil {
		_ = s.postgres.DB.Close()
		_ = s.postgres.Container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s.Require().NoError(s.postgres.Truncate(context.Background(), models.TypeNames()))
}

func (s *PostgresStoreSuite) entity(objectID uuid.UUID) *temporal.Entity {
	return &temporal.Entity{
		ObjectID:         objectID,
		Type:             models.TypeMunicipality,
		RegistrationFrom: s.now,
		Fields: temporal.Fields{
			"state":           nil,
			"active":          true,
			"note":            nil,
			"sumiffiik":       nil,
			"sumiffiikDomain": "https://data.gl/najugaq/municipality",
			"code":            int64(956),
			"abbrev":          "SER",
			"name":            "Sermersooq",
		},
	}
}

func (s *PostgresStoreSuite) registration(e *temporal.Entity) *temporal.Registration {
	return &temporal.Registration{
		ObjectID:         e.ObjectID,
		Type:             e.Type,
		RegistrationFrom: e.RegistrationFrom,
		Linked:           true,
		Fields:           e.Fields.Clone(),
	}
}

func (s *PostgresStoreSuite) TestEntityRoundTrip() {
	ctx := context.Background()
	id := uuid.New()
	e := s.entity(id)
	s.Require().NoError(s.store.InsertEntity(ctx, e))

	got, err := s.store.FindEntity(ctx, models.TypeMunicipality, id)
	s.Require().NoError(err)
	s.Equal("Sermersooq", got.Fields["name"])
	s.Equal(int64(956), got.Fields["code"])
	s.Equal(true, got.Fields["active"])
	s.Nil(got.Fields["note"])
	s.True(got.RegistrationFrom.Equal(s.now))
}

func (s *PostgresStoreSuite) TestInsertConflict() {
	ctx := context.Background()
	id := uuid.New()
	s.Require().NoError(s.store.InsertEntity(ctx, s.entity(id)))
	s.ErrorIs(s.store.InsertEntity(ctx, s.entity(id)), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestChecksumSurvivesRoundTrip() {
	ctx := context.Background()
	id := uuid.New()
	e := s.entity(id)
	s.Require().NoError(s.store.InsertEntity(ctx, e))

	r := s.registration(e)
	before := r.EnsureChecksum()
	s.Require().NoError(s.store.AppendRegistration(ctx, r))

	stored, err := s.store.Registrations(ctx, models.TypeMunicipality, id)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)

	// Recompute from the decoded field document: the canonical bytes must
	// be unchanged by JSONB storage.
	stored[0].Checksum = ""
	s.Equal(before, stored[0].EnsureChecksum())
}

func (s *PostgresStoreSuite) TestRemoveSeversAndReportsGone() {
	ctx := context.Background()
	id := uuid.New()
	e := s.entity(id)
	s.Require().NoError(s.store.InsertEntity(ctx, e))
	s.Require().NoError(s.store.AppendRegistration(ctx, s.registration(e)))
	s.Require().NoError(s.store.RemoveEntity(ctx, models.TypeMunicipality, id))

	_, err := s.store.FindEntity(ctx, models.TypeMunicipality, id)
	s.ErrorIs(err, sentinel.ErrGone)

	stored, err := s.store.Registrations(ctx, models.TypeMunicipality, id)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.False(stored[0].Linked)
}

func (s *PostgresStoreSuite) TestCloseThenAppend() {
	ctx := context.Background()
	id := uuid.New()
	e := s.entity(id)
	s.Require().NoError(s.store.InsertEntity(ctx, e))
	s.Require().NoError(s.store.AppendRegistration(ctx, s.registration(e)))

	later := s.now.Add(time.Hour)
	s.Require().NoError(s.store.CloseOpenRegistration(ctx, models.TypeMunicipality, id, later))

	e2 := s.entity(id)
	e2.RegistrationFrom = later
	e2.Fields["name"] = "Sermersooq Kommunia"
	s.Require().NoError(s.store.AppendRegistration(ctx, s.registration(e2)))

	stored, err := s.store.Registrations(ctx, models.TypeMunicipality, id)
	s.Require().NoError(err)
	s.Require().Len(stored, 2)
	s.Require().NotNil(stored[0].RegistrationTo)
	s.True(stored[0].RegistrationTo.Equal(later))
	s.Nil(stored[1].RegistrationTo)
}

func (s *PostgresStoreSuite) TestChecksumCASAndLookup() {
	ctx := context.Background()
	id := uuid.New()
	e := s.entity(id)
	s.Require().NoError(s.store.InsertEntity(ctx, e))
	r := s.registration(e)
	s.Require().NoError(s.store.AppendRegistration(ctx, r))

	r.EnsureChecksum()
	s.Require().NoError(s.store.SetChecksum(ctx, r))

	overwrite := *r
	overwrite.Checksum = "deadbeef"
	s.Require().NoError(s.store.SetChecksum(ctx, &overwrite))

	found, err := s.store.RegistrationsByChecksums(ctx, models.TypeMunicipality, []string{r.Checksum})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(id, found[0].ObjectID)
}

func (s *PostgresStoreSuite) TestDeleteRegistrationRefused() {
	err := s.store.DeleteRegistration(context.Background(), models.TypeMunicipality, "any")
	s.Error(err)
}
