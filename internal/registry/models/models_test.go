package models

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"addrreg/internal/temporal"
)

type SchemasSuite struct {
	suite.Suite
	schemas map[string]temporal.Schema
}

func TestSchemasSuite(t *testing.T) {
	suite.Run(t, new(SchemasSuite))
}

func (s *SchemasSuite) SetupSuite() {
	s.schemas = Schemas()
}

func (s *SchemasSuite) TestAllTypesDeclared() {
	for _, typ := range TypeNames() {
		sc, ok := s.schemas[typ]
		s.Require().True(ok, typ)
		s.Equal(typ, sc.Type)
		s.NotEmpty(sc.Name)
	}
	s.Len(s.schemas, len(TypeNames()))
}

func (s *SchemasSuite) TestCommonFieldsPresent() {
	for _, typ := range TypeNames() {
		sc := s.schemas[typ]
		for _, name := range []string{"active", "note", "state"} {
			_, ok := sc.Field(name)
			s.True(ok, "%s.%s", typ, name)
		}
	}
}

func (s *SchemasSuite) TestReferencesResolveToDeclaredTypes() {
	for _, typ := range TypeNames() {
		for _, ref := range s.schemas[typ].References() {
			_, ok := s.schemas[ref.RefType]
			s.True(ok, "%s.%s references undeclared type %s", typ, ref.Name, ref.RefType)
		}
	}
}

func (s *SchemasSuite) TestAddressReferencesMustBeActive() {
	sc := s.schemas[TypeAddress]
	for _, name := range []string{"bNumber", "road", "municipality"} {
		f, ok := sc.Field(name)
		s.Require().True(ok, name)
		s.True(f.MustBeActive, name)
	}
}

func (s *SchemasSuite) TestEnumFromOrdinal() {
	s.Run("locality type", func() {
		e, err := EnumFromOrdinal("type", 1)
		s.Require().NoError(err)
		s.Equal(LocalityTown, e)
	})
	s.Run("locality state", func() {
		e, err := EnumFromOrdinal("localityState", 15)
		s.Require().NoError(err)
		s.Equal(LocalityActive, e)
	})
	s.Run("unknown ordinal", func() {
		_, err := EnumFromOrdinal("localityState", 99)
		s.Error(err)
	})
	s.Run("non-enum field", func() {
		_, err := EnumFromOrdinal("name", 1)
		s.Error(err)
	})
}
