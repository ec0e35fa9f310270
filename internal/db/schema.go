package db

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is stored in PRAGMA user_version. A database written by a
// newer build is refused.
const SchemaVersion = 1

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'staff' CHECK (role IN ('admin', 'manager', 'staff')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS items (
    id               INTEGER PRIMARY KEY,
    name             TEXT NOT NULL,
    description      TEXT,
    category         TEXT NOT NULL DEFAULT 'Other',
    unit_of_measure  TEXT NOT NULL,
    par_level        INTEGER NOT NULL DEFAULT 0 CHECK (par_level >= 0),
    current_quantity INTEGER NOT NULL DEFAULT 0 CHECK (current_quantity >= 0),
    image            BLOB,
    image_mime       TEXT,
    created_by       INTEGER REFERENCES users(id),
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at       DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_name_active
    ON items(name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS counts (
    id               INTEGER PRIMARY KEY,
    count_date       TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'submitted', 'approved', 'rejected')),
    created_by       INTEGER NOT NULL REFERENCES users(id),
    notes            TEXT,
    rejection_reason TEXT,
    submitted_at     DATETIME,
    reviewed_at      DATETIME,
    reviewed_by      INTEGER REFERENCES users(id),
    version          INTEGER NOT NULL DEFAULT 1,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK ((status = 'rejected') = (rejection_reason IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_counts_status ON counts(status);
CREATE INDEX IF NOT EXISTS idx_counts_date ON counts(count_date);
CREATE INDEX IF NOT EXISTS idx_counts_created_by ON counts(created_by);

CREATE TABLE IF NOT EXISTS count_items (
    id                INTEGER PRIMARY KEY,
    count_id          INTEGER NOT NULL REFERENCES counts(id) ON DELETE CASCADE,
    item_id           INTEGER NOT NULL REFERENCES items(id),
    expected_quantity INTEGER NOT NULL CHECK (expected_quantity >= 0),
    actual_quantity   INTEGER NOT NULL CHECK (actual_quantity >= 0),
    discrepancy       INTEGER NOT NULL,
    notes             TEXT,
    created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (count_id, item_id)
);

CREATE TABLE IF NOT EXISTS adjustments (
    id                INTEGER PRIMARY KEY,
    item_id           INTEGER NOT NULL REFERENCES items(id),
    count_id          INTEGER REFERENCES counts(id) ON DELETE SET NULL,
    previous_quantity INTEGER NOT NULL,
    new_quantity      INTEGER NOT NULL CHECK (new_quantity >= 0),
    delta             INTEGER NOT NULL,
    reason            TEXT,
    adjusted_by       INTEGER REFERENCES users(id),
    adjusted_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_adjustments_item ON adjustments(item_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist
// and stamps the schema version.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return fmt.Errorf("stamping schema version: %w", err)
	}
	return nil
}
