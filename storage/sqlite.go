package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/quickcart/dbopen"
)

// Schema for the kv_store table.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLite is a KV backed by one SQLite table.
type SQLite struct {
	DB    *sql.DB
	owned bool
}

// OpenSQLite opens (or creates) the database at path and applies Schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &SQLite{DB: db, owned: true}, nil
}

// NewSQLite wraps an already-open database. Schema is applied.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return []byte(v), true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

// Close closes the database if OpenSQLite opened it.
func (s *SQLite) Close() error {
	if s.owned {
		return s.DB.Close()
	}
	return nil
}
