package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"addrreg/pkg/platform/sentinel"
	txcontext "addrreg/pkg/platform/tx"
)

// PostgresStore implements Store over the events outbox table. Appends pick
// up the caller's transaction from context so the outbox row commits with
// the registration it references.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL outbox store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
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

func (s *PostgresStore) Append(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (
			event_id, object_id, updated_type, updated_registration,
			created, receipt_obtained, receipt_errorcode
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		e.EventID,
		e.ObjectID,
		e.UpdatedType,
		e.UpdatedRegistrationChecksum,
		e.Created,
		e.ReceiptObtained,
		e.ReceiptErrorCode,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const eventColumns = `
	event_id, object_id, updated_type, updated_registration,
	created, receipt_obtained, receipt_errorcode
`

func (s *PostgresStore) Find(ctx context.Context, eventID uuid.UUID) (*Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE event_id = $1`, eventColumns)
	e, err := scanEvent(s.execer(ctx).QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Event, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.PendingOnly {
		clauses = append(clauses, "receipt_obtained IS NULL")
	}
	if len(filter.Include) > 0 {
		args = append(args, pq.Array(filter.Include))
		clauses = append(clauses, fmt.Sprintf("updated_type = ANY($%d)", len(args)))
	}
	if len(filter.Exclude) > 0 {
		args = append(args, pq.Array(filter.Exclude))
		clauses = append(clauses, fmt.Sprintf("updated_type != ALL($%d)", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM events`, eventColumns)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created"

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Predecessors(ctx context.Context, e *Event) ([]*Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE object_id = $1 AND created < $2
		ORDER BY created
	`, eventColumns)

	rows, err := s.execer(ctx).QueryContext(ctx, query, e.ObjectID, e.Created)
	if err != nil {
		return nil, fmt.Errorf("query predecessors: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) SetReceipt(ctx context.Context, eventID uuid.UUID, obtained time.Time, errorCode *string) error {
	query := `
		UPDATE events
		SET receipt_obtained = $2, receipt_errorcode = $3
		WHERE event_id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, eventID, obtained, errorCode)
	if err != nil {
		return fmt.Errorf("set receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e        Event
		obtained sql.NullTime
		code     sql.NullString
	)
	err := row.Scan(
		&e.EventID, &e.ObjectID, &e.UpdatedType, &e.UpdatedRegistrationChecksum,
		&e.Created, &obtained, &code,
	)
	if err != nil {
		return nil, err
	}
	if obtained.Valid {
		e.ReceiptObtained = &obtained.Time
	}
	if code.Valid {
		e.ReceiptErrorCode = &code.String
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
