package temporal

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "addrreg/pkg/domain-errors"
)

// RegistrationDomain identifies this register in formatted output consumed
// by the federated registry.
const RegistrationDomain = "adresseregister"

// Entity is the live, mutable representation of one tracked object.
type Entity struct {
	ObjectID uuid.UUID
	Type     string

	// RegistrationFrom is a denormalized copy of the open registration's
	// start: the instant of the most recent recorded mutation.
	RegistrationFrom time.Time

	Fields Fields
}

// Active reports whether the entity's declared "active" flag is set.
// Entities without the flag count as active.
func (e *Entity) Active() bool {
	v, ok := e.Fields["active"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// Registration is an immutable historical snapshot of an entity's field
// values over a bounded registration interval. Registration tables are
// append-only; the only writes a store may perform after the initial
// insert are closing the interval, severing the entity link, and the
// one-time checksum memoization.
type Registration struct {
	ObjectID uuid.UUID
	Type     string

	// Registration interval: when the system considered this snapshot
	// authoritative. A nil RegistrationTo marks the open interval.
	RegistrationFrom time.Time
	RegistrationTo   *time.Time

	// Effective interval: when the recorded fact was true in the real
	// world. Defaults to the registration interval in formatted output.
	ValidFrom *time.Time
	ValidTo   *time.Time

	RegistrationUser *string

	// Checksum is computed lazily on first access and never recomputed
	// once set.
	Checksum string

	// Linked reports whether the owning entity row still exists. Deleting
	// an entity severs the link; the history row itself is retained.
	Linked bool

	Fields Fields
}

// Validate enforces the registration interval invariants at write time.
func (r *Registration) Validate(now time.Time) error {
	if r.RegistrationFrom.After(now) {
		return dErrors.New(dErrors.CodeBadRequest, "registration begins in the future")
	}
	if r.RegistrationTo != nil {
		if r.RegistrationTo.After(now) {
			return dErrors.New(dErrors.CodeBadRequest, "registration ends in the future")
		}
		if r.RegistrationTo.Before(r.RegistrationFrom) {
			return dErrors.New(dErrors.CodeBadRequest, "registration ends before it starts")
		}
	}
	return nil
}

// EnsureChecksum computes and memoizes the content checksum. The stored
// value is authoritative once set, which keeps the digest stable even if
// canonicalization rules evolve later. Persisting the memoized value is
// the store's job (see Store.SetChecksum).
func (r *Registration) EnsureChecksum() string {
	if r.Checksum == "" {
		r.Checksum = Checksum(r.hashInput())
	}
	return r.Checksum
}

// hashInput is the field map the checksum covers: the domain snapshot plus
// interval bookkeeping, excluding the checksum itself.
func (r *Registration) hashInput() Fields {
	in := r.Fields.Clone()
	in["objectID"] = r.ObjectID
	in["registrationFrom"] = r.RegistrationFrom
	in["registrationTo"] = r.RegistrationTo
	in["validFrom"] = r.ValidFrom
	in["validTo"] = r.ValidTo
	if r.RegistrationUser != nil {
		in["registrationUser"] = *r.RegistrationUser
	} else {
		in["registrationUser"] = nil
	}
	return in
}

// FormattedRegistration is the full pull-API rendering of one snapshot,
// with internal bookkeeping excluded from the inner field map.
type FormattedRegistration struct {
	Checksum         string            `json:"checksum"`
	RegistrationFrom string            `json:"registrationFrom"`
	RegistrationTo   *string           `json:"registrationTo"`
	Entity           FormattedEntity   `json:"entity"`
	Effects          []FormattedEffect `json:"effects"`
}

type FormattedEntity struct {
	UUID   string `json:"uuid"`
	Domain string `json:"domain"`
}

type FormattedEffect struct {
	EffectFrom *string          `json:"effectFrom"`
	EffectTo   *string          `json:"effectTo"`
	Data       []map[string]any `json:"data"`
}

// Format renders the registration for the pull API and push envelopes.
// Effective dates fall back to the registration interval when unset.
func (r *Registration) Format() FormattedRegistration {
	effectFrom := r.ValidFrom
	if effectFrom == nil {
		from := r.RegistrationFrom
		effectFrom = &from
	}
	effectTo := r.ValidTo
	if effectTo == nil {
		effectTo = r.RegistrationTo
	}

	return FormattedRegistration{
		Checksum:         r.Checksum,
		RegistrationFrom: r.RegistrationFrom.Format(TimestampLayout),
		RegistrationTo:   formatTime(r.RegistrationTo),
		Entity: FormattedEntity{
			UUID:   strings.ToLower(r.ObjectID.String()),
			Domain: RegistrationDomain,
		},
		Effects: []FormattedEffect{{
			EffectFrom: formatTime(effectFrom),
			EffectTo:   formatTime(effectTo),
			Data:       []map[string]any{wireFields(r.Fields)},
		}},
	}
}

// HistoryEntry is one (sequenceNumber, checksum) pair of an object's
// registration history, ordered by registration start.
type HistoryEntry struct {
	SequenceNumber int    `json:"sequenceNumber"`
	Checksum       string `json:"checksum"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(TimestampLayout)
	return &s
}

// wireFields renders domain values in their external JSON forms.
func wireFields(fields Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case time.Time:
			out[k] = v.Format(TimestampLayout)
		case *time.Time:
			if v == nil {
				out[k] = nil
			} else {
				out[k] = v.Format(TimestampLayout)
			}
		case uuid.UUID:
			out[k] = strings.ToLower(v.String())
		case Enum:
			out[k] = v.Ordinal()
		default:
			out[k] = v
		}
	}
	return out
}
