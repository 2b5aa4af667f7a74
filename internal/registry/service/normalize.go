package service

import (
	"time"

	"github.com/google/uuid"

	"addrreg/internal/registry/models"
	"addrreg/internal/temporal"
	dErrors "addrreg/pkg/domain-errors"
)

// normalizeFields coerces raw field values (typically JSON-decoded) into
// the canonical in-memory representations the schema declares. With
// applyDefaults set, absent fields take their declared defaults and
// missing non-nullable fields are rejected; without it the input is
// treated as a partial patch and absent fields are left alone.
func normalizeFields(sc temporal.Schema, in temporal.Fields, applyDefaults bool) (temporal.Fields, error) {
	out := make(temporal.Fields, len(sc.Fields))

	for name := range in {
		if _, ok := sc.Field(name); !ok {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown field %q for type %q", name, sc.Type)
		}
	}

	for _, f := range sc.Fields {
		raw, present := in[f.Name]
		if !present {
			if !applyDefaults {
				continue
			}
			if f.Default != nil {
				out[f.Name] = f.Default
				continue
			}
			if f.Nullable {
				out[f.Name] = nil
				continue
			}
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "missing field %q", f.Name)
		}
		if raw == nil {
			if !f.Nullable {
				return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q must not be null", f.Name)
			}
			out[f.Name] = nil
			continue
		}
		v, err := normalizeValue(f, raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func normalizeValue(f temporal.Field, raw any) (any, error) {
	switch f.Kind {
	case temporal.KindInt:
		return normalizeInt(f, raw)
	case temporal.KindText:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case temporal.KindBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case temporal.KindTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case *time.Time:
			if v == nil {
				return nil, nil
			}
			return *v, nil
		case string:
			t, err := time.Parse(temporal.TimestampLayout, v)
			if err != nil {
				t, err = time.Parse(time.RFC3339, v)
			}
			if err != nil {
				return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: bad timestamp %q", f.Name, v)
			}
			return t, nil
		}
	case temporal.KindUUID, temporal.KindRef:
		switch v := raw.(type) {
		case uuid.UUID:
			return v, nil
		case string:
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: bad uuid %q", f.Name, v)
			}
			return id, nil
		}
	case temporal.KindEnum:
		return normalizeEnum(f, raw)
	}
	return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: unexpected value of type %T", f.Name, raw)
}

func normalizeInt(f temporal.Field, raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: not an integer", f.Name)
}

// normalizeEnum accepts either a typed enum value or its ordinal.
func normalizeEnum(f temporal.Field, raw any) (any, error) {
	if e, ok := raw.(temporal.Enum); ok {
		return e, nil
	}
	var ordinal int
	switch v := raw.(type) {
	case int:
		ordinal = v
	case int64:
		ordinal = int(v)
	case float64:
		if v != float64(int(v)) {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: not an enum ordinal", f.Name)
		}
		ordinal = int(v)
	default:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: not an enum value", f.Name)
	}
	e, err := models.EnumFromOrdinal(f.Name, ordinal)
	if err != nil {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "field %q: %v", f.Name, err)
	}
	return e, nil
}
