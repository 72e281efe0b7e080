// Package storage is the durable key-value store behind folder assignments.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lotas/plfolders/internal/metrics"
	_ "modernc.org/sqlite"
)

// ErrUnavailable wraps every failure to reach the store. Callers treat it
// as "no data" rather than as fatal.
var ErrUnavailable = errors.New("storage unavailable")

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "key-value table",
		SQL: `
CREATE TABLE IF NOT EXISTS kv (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables WAL mode, and runs any
// pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// KV is a named-value store over the kv table.
type KV struct {
	db *sql.DB
}

func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

func unavailable(op string, err error) error {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Get returns the stored values for keys. Missing keys are absent from the
// result.
func (k *KV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	if k == nil || k.db == nil {
		return nil, unavailable("get", errors.New("no database"))
	}

	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	q := "SELECT key, value FROM kv WHERE key IN (?" + strings.Repeat(", ?", len(keys)-1) + ")"
	rows, err := k.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var val []byte
		if err := rows.Scan(&key, &val); err != nil {
			return nil, unavailable("get", err)
		}
		out[key] = val
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	return out, nil
}

// Set writes all values in one transaction.
func (k *KV) Set(ctx context.Context, values map[string][]byte) error {
	if k == nil || k.db == nil {
		return unavailable("set", errors.New("no database"))
	}
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("set", err)
	}
	defer tx.Rollback()

	for key, val := range values {
		if val == nil {
			val = []byte{}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, val)
		if err != nil {
			return unavailable("set", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Remove deletes keys. Removing a missing key is not an error.
func (k *KV) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if k == nil || k.db == nil {
		return unavailable("remove", errors.New("no database"))
	}
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	q := "DELETE FROM kv WHERE key IN (?" + strings.Repeat(", ?", len(keys)-1) + ")"
	if _, err := k.db.ExecContext(ctx, q, args...); err != nil {
		return unavailable("remove", err)
	}
	return nil
}
