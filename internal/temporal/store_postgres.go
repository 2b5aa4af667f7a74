package temporal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	dErrors "addrreg/pkg/domain-errors"
	"addrreg/pkg/platform/sentinel"
	txcontext "addrreg/pkg/platform/tx"
)

// PostgresStore implements Store over one entity table and one
// `<type>_registrations` history table per declared schema. Domain fields
// live in a JSONB document; the bitemporal bookkeeping columns are typed.
//
// Mutations pick up the caller's transaction from context (pkg/platform/tx)
// so the close-then-append step, the entity write and the outbox insert
// commit atomically.
type PostgresStore struct {
	db      *sql.DB
	schemas map[string]Schema
}

// NewPostgres creates a store over the given schema set.
func NewPostgres(db *sql.DB, schemas map[string]Schema) *PostgresStore {
	return &PostgresStore{db: db, schemas: schemas}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) schema(typ string) (Schema, error) {
	sc, ok := s.schemas[typ]
	if !ok {
		return Schema{}, fmt.Errorf("unknown entity type %q: %w", typ, sentinel.ErrNotFound)
	}
	return sc, nil
}

func (s *PostgresStore) InsertEntity(ctx context.Context, e *Entity) error {
	sc, err := s.schema(e.Type)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(encodeFields(e.Fields))
	if err != nil {
		return fmt.Errorf("marshal entity fields: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (object_id, registration_from, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (object_id) DO NOTHING
	`, sc.EntityTable())
	res, err := s.execer(ctx).ExecContext(ctx, query, e.ObjectID, e.RegistrationFrom, doc)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, e *Entity) error {
	sc, err := s.schema(e.Type)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(encodeFields(e.Fields))
	if err != nil {
		return fmt.Errorf("marshal entity fields: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET registration_from = $2, fields = $3
		WHERE object_id = $1
	`, sc.EntityTable())
	res, err := s.execer(ctx).ExecContext(ctx, query, e.ObjectID, e.RegistrationFrom, doc)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RemoveEntity(ctx context.Context, typ string, objectID uuid.UUID) error {
	sc, err := s.schema(typ)
	if err != nil {
		return err
	}
	sever := fmt.Sprintf(`
		UPDATE %s SET linked = false WHERE object_id = $1
	`, sc.RegistrationTable())
	if _, err := s.execer(ctx).ExecContext(ctx, sever, objectID); err != nil {
		return fmt.Errorf("sever registrations: %w", err)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE object_id = $1`, sc.EntityTable())
	res, err := s.execer(ctx).ExecContext(ctx, query, objectID)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindEntity(ctx context.Context, typ string, objectID uuid.UUID) (*Entity, error) {
	sc, err := s.schema(typ)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT registration_from, fields FROM %s WHERE object_id = $1
	`, sc.EntityTable())

	var (
		from time.Time
		doc  []byte
	)
	err = s.execer(ctx).QueryRowContext(ctx, query, objectID).Scan(&from, &doc)
	if err == sql.ErrNoRows {
		var n int
		history := fmt.Sprintf(`SELECT count(*) FROM %s WHERE object_id = $1`, sc.RegistrationTable())
		if err := s.execer(ctx).QueryRowContext(ctx, history, objectID).Scan(&n); err == nil && n > 0 {
			return nil, sentinel.ErrGone
		}
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entity: %w", err)
	}

	fields, err := decodeFields(sc, doc)
	if err != nil {
		return nil, err
	}
	return &Entity{ObjectID: objectID, Type: typ, RegistrationFrom: from, Fields: fields}, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, typ string) ([]*Entity, error) {
	sc, err := s.schema(typ)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT object_id, registration_from, fields FROM %s ORDER BY object_id
	`, sc.EntityTable())

	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		var (
			id   uuid.UUID
			from time.Time
			doc  []byte
		)
		if err := rows.Scan(&id, &from, &doc); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		fields, err := decodeFields(sc, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, &Entity{ObjectID: id, Type: typ, RegistrationFrom: from, Fields: fields})
	}
	return out, rows.Err()
}

func (s *PostgresStore) CloseOpenRegistration(ctx context.Context, typ string, objectID uuid.UUID, at time.Time) error {
	sc, err := s.schema(typ)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s SET registration_to = $2
		WHERE object_id = $1 AND registration_to IS NULL
	`, sc.RegistrationTable())
	if _, err := s.execer(ctx).ExecContext(ctx, query, objectID, at); err != nil {
		return fmt.Errorf("close registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendRegistration(ctx context.Context, r *Registration) error {
	sc, err := s.schema(r.Type)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(encodeFields(r.Fields))
	if err != nil {
		return fmt.Errorf("marshal registration fields: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			object_id, registration_from, registration_to,
			valid_from, valid_to, registration_user, checksum, linked, fields
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
	`, sc.RegistrationTable())
	_, err = s.execer(ctx).ExecContext(ctx, query,
		r.ObjectID,
		r.RegistrationFrom,
		r.RegistrationTo,
		r.ValidFrom,
		r.ValidTo,
		r.RegistrationUser,
		r.Checksum,
		r.Linked,
		doc,
	)
	if err != nil {
		return fmt.Errorf("append registration: %w", err)
	}
	return nil
}

const registrationColumns = `
	object_id, registration_from, registration_to,
	valid_from, valid_to, registration_user,
	coalesce(checksum, ''), linked, fields
`

func (s *PostgresStore) Registrations(ctx context.Context, typ string, objectID uuid.UUID) ([]*Registration, error) {
	sc, err := s.schema(typ)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE object_id = $1
		ORDER BY registration_from
	`, registrationColumns, sc.RegistrationTable())

	rows, err := s.execer(ctx).QueryContext(ctx, query, objectID)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()
	return s.scanRegistrations(sc, rows)
}

func (s *PostgresStore) RegistrationsByChecksums(ctx context.Context, typ string, checksums []string) ([]*Registration, error) {
	sc, err := s.schema(typ)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE checksum = ANY($1)
		ORDER BY registration_from
	`, registrationColumns, sc.RegistrationTable())

	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(checksums))
	if err != nil {
		return nil, fmt.Errorf("query registrations by checksum: %w", err)
	}
	defer rows.Close()
	return s.scanRegistrations(sc, rows)
}

func (s *PostgresStore) SetChecksum(ctx context.Context, r *Registration) error {
	sc, err := s.schema(r.Type)
	if err != nil {
		return err
	}
	// Check-and-set: only the first persisted digest sticks.
	query := fmt.Sprintf(`
		UPDATE %s SET checksum = $3
		WHERE object_id = $1 AND registration_from = $2 AND checksum IS NULL
	`, sc.RegistrationTable())
	if _, err := s.execer(ctx).ExecContext(ctx, query, r.ObjectID, r.RegistrationFrom, r.Checksum); err != nil {
		return fmt.Errorf("set checksum: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRegistration(context.Context, string, string) error {
	return dErrors.New(dErrors.CodeForbidden, "registration tables are append-only")
}

func (s *PostgresStore) scanRegistrations(sc Schema, rows *sql.Rows) ([]*Registration, error) {
	var out []*Registration
	for rows.Next() {
		var (
			r    Registration
			doc  []byte
			to   sql.NullTime
			vf   sql.NullTime
			vt   sql.NullTime
			user sql.NullString
		)
		r.Type = sc.Type
		err := rows.Scan(
			&r.ObjectID, &r.RegistrationFrom, &to,
			&vf, &vt, &user,
			&r.Checksum, &r.Linked, &doc,
		)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		if to.Valid {
			r.RegistrationTo = &to.Time
		}
		if vf.Valid {
			r.ValidFrom = &vf.Time
		}
		if vt.Valid {
			r.ValidTo = &vt.Time
		}
		if user.Valid {
			r.RegistrationUser = &user.String
		}
		fields, err := decodeFields(sc, doc)
		if err != nil {
			return nil, err
		}
		r.Fields = fields
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

// encodeFields renders field values into their stored JSON forms. The
// forms match canonical serialization, so a checksum computed before or
// after a database round trip is identical.
func encodeFields(fields Fields) map[string]any {
	return wireFields(fields)
}

// decodeFields restores typed field values from the stored JSON document
// using the schema's declared kinds.
func decodeFields(sc Schema, doc []byte) (Fields, error) {
	var raw map[string]any
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = nil
			continue
		}
		f, ok := sc.Field(k)
		if !ok {
			out[k] = v
			continue
		}
		switch f.Kind {
		case KindInt, KindEnum:
			n, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("field %s.%s: expected number, got %T", sc.Type, k, v)
			}
			out[k] = int64(n)
		case KindTimestamp:
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %s.%s: expected timestamp string, got %T", sc.Type, k, v)
			}
			t, err := time.Parse(TimestampLayout, str)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", sc.Type, k, err)
			}
			out[k] = t
		case KindUUID, KindRef:
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %s.%s: expected uuid string, got %T", sc.Type, k, v)
			}
			id, err := uuid.Parse(str)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", sc.Type, k, err)
			}
			out[k] = id
		default:
			out[k] = v
		}
	}
	return out, nil
}
