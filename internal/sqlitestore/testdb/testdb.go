// Package testdb provides a migrated in-memory SQLite database for repository tests across the registry's domain
// packages, avoiding a container dependency the way the teacher's Postgres-backed tests need one.
package testdb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/sqlitestore"
)

// Open returns a fresh, fully-migrated in-memory SQLite database. The database is closed automatically via
// t.Cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlitestore.Connect(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := sqlitestore.Migrate(db, zerolog.Nop()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return db
}
