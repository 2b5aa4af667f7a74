// Package models declares the reference entity schemas of the address
// register. The temporal machinery is generic; everything type-specific
// lives in these declarations.
package models

import (
	"fmt"

	"addrreg/internal/temporal"
)

// Entity type tags. They appear in events, URLs and table names.
const (
	TypeState        = "state"
	TypeMunicipality = "municipality"
	TypeDistrict     = "district"
	TypePostalCode   = "postalcode"
	TypeLocality     = "locality"
	TypeBNumber      = "bnumber"
	TypeRoad         = "road"
	TypeAddress      = "address"
)

// LocalityType classifies a locality. Serialized by ordinal.
type LocalityType int

const (
	LocalityUnknown     LocalityType = 0
	LocalityTown        LocalityType = 1
	LocalitySettlement  LocalityType = 2
	LocalityMine        LocalityType = 3
	LocalityStation     LocalityType = 5
	LocalityAirport     LocalityType = 6
	LocalityFarm        LocalityType = 7
	LocalityDevelopment LocalityType = 8
)

func (t LocalityType) Ordinal() int { return int(t) }

// LocalityState tracks a locality's lifecycle. Serialized by ordinal.
type LocalityState int

const (
	LocalityProjected LocalityState = 10
	LocalityActive    LocalityState = 15
	LocalityAbandoned LocalityState = 20
)

func (s LocalityState) Ordinal() int { return int(s) }

// common fields shared by every entity type: a lifecycle state reference,
// an active flag and a free-form note.
func common() []temporal.Field {
	return []temporal.Field{
		{Name: "state", Kind: temporal.KindRef, RefType: TypeState, Nullable: true},
		{Name: "active", Kind: temporal.KindBool, Default: true},
		{Name: "note", Kind: temporal.KindText, Nullable: true},
	}
}

// sumiffiik identity fields carried by the georeferenced types.
func sumiffiik(domain string) []temporal.Field {
	return []temporal.Field{
		{Name: "sumiffiik", Kind: temporal.KindText, Nullable: true},
		{Name: "sumiffiikDomain", Kind: temporal.KindText, Default: domain},
	}
}

func schema(typ, name string, fields ...[]temporal.Field) temporal.Schema {
	s := temporal.Schema{Type: typ, Name: name}
	for _, group := range fields {
		s.Fields = append(s.Fields, group...)
	}
	return s
}

// Schemas returns the full declared schema set, keyed by type tag. It is
// built once at startup and shared by stores, services and handlers.
func Schemas() map[string]temporal.Schema {
	all := []temporal.Schema{
		schema(TypeState, "State", common(), []temporal.Field{
			{Name: "code", Kind: temporal.KindInt},
			{Name: "name", Kind: temporal.KindText, Nullable: true},
			{Name: "description", Kind: temporal.KindText, Nullable: true},
		}),
		schema(TypeMunicipality, "Municipality", common(),
			sumiffiik("https://data.gl/najugaq/municipality"), []temporal.Field{
				{Name: "code", Kind: temporal.KindInt},
				{Name: "abbrev", Kind: temporal.KindText},
				{Name: "name", Kind: temporal.KindText},
			}),
		schema(TypeDistrict, "District", common(),
			sumiffiik("https://data.gl/najugaq/district"), []temporal.Field{
				{Name: "code", Kind: temporal.KindInt, Nullable: true},
				{Name: "abbrev", Kind: temporal.KindText},
				{Name: "name", Kind: temporal.KindText},
			}),
		schema(TypePostalCode, "PostalCode", common(),
			sumiffiik("https://data.gl/najugaq/postalcode"), []temporal.Field{
				{Name: "code", Kind: temporal.KindInt},
				{Name: "name", Kind: temporal.KindText},
			}),
		schema(TypeLocality, "Locality", common(),
			sumiffiik("https://data.gl/najugaq/locality"), []temporal.Field{
				{Name: "code", Kind: temporal.KindInt, Nullable: true},
				{Name: "abbrev", Kind: temporal.KindText, Nullable: true},
				{Name: "name", Kind: temporal.KindText},
				{Name: "type", Kind: temporal.KindEnum, Default: LocalityUnknown},
				{Name: "localityState", Kind: temporal.KindEnum, Default: LocalityProjected},
				{Name: "municipality", Kind: temporal.KindRef, RefType: TypeMunicipality, Nullable: true, MustBeActive: true},
				{Name: "district", Kind: temporal.KindRef, RefType: TypeDistrict, Nullable: true, MustBeActive: true},
				{Name: "postalCode", Kind: temporal.KindRef, RefType: TypePostalCode, Nullable: true, MustBeActive: true},
			}),
		schema(TypeBNumber, "BNumber", common(),
			sumiffiik("https://data.gl/najugaq/number"), []temporal.Field{
				{Name: "code", Kind: temporal.KindText, Nullable: true},
				{Name: "bType", Kind: temporal.KindText, Nullable: true},
				{Name: "bCallname", Kind: temporal.KindText, Nullable: true},
				{Name: "location", Kind: temporal.KindRef, RefType: TypeLocality, MustBeActive: true},
				{Name: "municipality", Kind: temporal.KindRef, RefType: TypeMunicipality, MustBeActive: true},
			}),
		schema(TypeRoad, "Road", common(),
			sumiffiik("https://data.gl/najugaq/road"), []temporal.Field{
				{Name: "code", Kind: temporal.KindInt},
				{Name: "name", Kind: temporal.KindText},
				{Name: "shortname", Kind: temporal.KindText, Nullable: true},
				{Name: "alternateName", Kind: temporal.KindText, Nullable: true},
				{Name: "cprName", Kind: temporal.KindText, Nullable: true},
				{Name: "location", Kind: temporal.KindRef, RefType: TypeLocality, MustBeActive: true},
				{Name: "municipality", Kind: temporal.KindRef, RefType: TypeMunicipality, MustBeActive: true},
			}),
		schema(TypeAddress, "Address", common(),
			sumiffiik("https://data.gl/najugaq/address"), []temporal.Field{
				{Name: "houseNumber", Kind: temporal.KindText, Nullable: true},
				{Name: "floor", Kind: temporal.KindText, Nullable: true},
				{Name: "room", Kind: temporal.KindText, Nullable: true},
				{Name: "bNumber", Kind: temporal.KindRef, RefType: TypeBNumber, MustBeActive: true},
				{Name: "road", Kind: temporal.KindRef, RefType: TypeRoad, MustBeActive: true},
				{Name: "municipality", Kind: temporal.KindRef, RefType: TypeMunicipality, MustBeActive: true},
			}),
	}

	out := make(map[string]temporal.Schema, len(all))
	for _, s := range all {
		out[s.Type] = s
	}
	return out
}

// EnumFromOrdinal resolves an enum field's ordinal back to its typed
// value. Enum fields are identified by name because the schema machinery
// is type-agnostic.
func EnumFromOrdinal(fieldName string, ordinal int) (temporal.Enum, error) {
	switch fieldName {
	case "type":
		switch t := LocalityType(ordinal); t {
		case LocalityUnknown, LocalityTown, LocalitySettlement, LocalityMine,
			LocalityStation, LocalityAirport, LocalityFarm, LocalityDevelopment:
			return t, nil
		}
		return nil, fmt.Errorf("unknown locality type ordinal %d", ordinal)
	case "localityState":
		switch s := LocalityState(ordinal); s {
		case LocalityProjected, LocalityActive, LocalityAbandoned:
			return s, nil
		}
		return nil, fmt.Errorf("unknown locality state ordinal %d", ordinal)
	}
	return nil, fmt.Errorf("field %q is not an enum", fieldName)
}

// TypeNames returns the declared type tags in a stable order.
func TypeNames() []string {
	return []string{
		TypeState, TypeMunicipality, TypeDistrict, TypePostalCode,
		TypeLocality, TypeBNumber, TypeRoad, TypeAddress,
	}
}
