package temporal

// Kind enumerates the field encodings the canonical serializer supports.
// Anything outside this set is a schema defect, not a runtime condition.
type Kind int

const (
	KindInt Kind = iota + 1
	KindText
	KindTimestamp
	KindUUID
	KindBool
	KindEnum
	KindRef
)

// Field describes one declared column of an entity schema.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool

	// RefType names the entity type a KindRef field points at.
	RefType string
	// MustBeActive requires the referenced entity to be live and active
	// at write time.
	MustBeActive bool

	// Default is applied on Create when the caller omits the field.
	Default any
}

// Schema declares an entity type and its domain fields. The registration
// table layout derives from it once at startup; the bitemporal machinery is
// implemented exactly once over these declarations.
type Schema struct {
	// Type is the lowercase type tag used in events, URLs and tables.
	Type string
	// Name is the wire schema name in push envelopes, e.g. "Municipality".
	Name string

	Fields []Field
}

// Field returns the declared field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// References returns the declared foreign-reference fields.
func (s Schema) References() []Field {
	var refs []Field
	for _, f := range s.Fields {
		if f.Kind == KindRef {
			refs = append(refs, f)
		}
	}
	return refs
}

// EntityTable is the live table name for this schema.
func (s Schema) EntityTable() string { return s.Type }

// RegistrationTable is the append-only history table name for this schema.
func (s Schema) RegistrationTable() string { return s.Type + "_registrations" }
