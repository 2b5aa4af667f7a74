//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers Postgres instance with the
// register's schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and creates the entity,
// registration and event tables for the given entity types.
func NewPostgresContainer(t *testing.T, entityTypes []string) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("addrreg"),
		tcpostgres.WithUsername("addrreg"),
		tcpostgres.WithPassword("addrreg"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if err := createSchema(ctx, db, entityTypes); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to create schema: %v", err)
	}

	return &PostgresContainer{
		Container: container,
		URL:       url,
		DB:        db,
	}
}

// Truncate empties all tables between tests.
func (p *PostgresContainer) Truncate(ctx context.Context, entityTypes []string) error {
	for _, typ := range entityTypes {
		if _, err := p.DB.ExecContext(ctx,
			fmt.Sprintf("TRUNCATE %s, %s_registrations", typ, typ)); err != nil {
			return err
		}
	}
	_, err := p.DB.ExecContext(ctx, "TRUNCATE events")
	return err
}

func createSchema(ctx context.Context, db *sql.DB, entityTypes []string) error {
	for _, typ := range entityTypes {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				object_id uuid PRIMARY KEY,
				registration_from timestamptz NOT NULL,
				fields jsonb NOT NULL
			);
			CREATE TABLE IF NOT EXISTS %[1]s_registrations (
				id bigserial PRIMARY KEY,
				object_id uuid NOT NULL,
				registration_from timestamptz NOT NULL,
				registration_to timestamptz,
				valid_from timestamptz,
				valid_to timestamptz,
				registration_user text,
				checksum varchar(64),
				linked boolean NOT NULL DEFAULT true,
				fields jsonb NOT NULL
			);
			CREATE INDEX IF NOT EXISTS %[1]s_registrations_object_idx
				ON %[1]s_registrations (object_id, registration_from);
			CREATE INDEX IF NOT EXISTS %[1]s_registrations_checksum_idx
				ON %[1]s_registrations (checksum);
		`, typ)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create tables for %s: %w", typ, err)
		}
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			event_id uuid PRIMARY KEY,
			object_id uuid NOT NULL,
			updated_type text NOT NULL,
			updated_registration varchar(64) NOT NULL,
			created timestamptz NOT NULL,
			receipt_obtained timestamptz,
			receipt_errorcode text
		);
		CREATE INDEX IF NOT EXISTS events_object_idx ON events (object_id, created);
	`)
	if err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}
