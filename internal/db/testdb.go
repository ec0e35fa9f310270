package db

import (
	"context"
	"database/sql"
	"testing"
)

// NewTestDB returns a fresh in-memory database with the schema applied. It is
// closed when the test ends.
func NewTestDB(tb testing.TB) *sql.DB {
	tb.Helper()
	ctx := context.Background()

	db, err := Open(ctx, ":memory:")
	if err != nil {
		tb.Fatalf("opening test database: %v", err)
	}
	tb.Cleanup(func() { db.Close() })

	if err := EnsureSchema(ctx, db); err != nil {
		tb.Fatalf("creating test database schema: %v", err)
	}
	return db
}
