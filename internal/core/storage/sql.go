package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/engage/internal/core/db"
)

// SQLStore is a Storage backed by the kv table.
type SQLStore struct {
	db      *sqlx.DB
	queries *db.Queries
}

// NewSQLStore wraps an open, migrated database.
func NewSQLStore(conn *sqlx.DB) (*SQLStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: conn, queries: queries}, nil
}

// OpenSQLStore opens dbURL, applies pending migrations and returns the store.
func OpenSQLStore(ctx context.Context, dbURL string) (*SQLStore, error) {
	conn, err := db.Open(dbURL)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}
	s, err := NewSQLStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Get implements Storage.
func (s *SQLStore) Get(ctx context.Context, key Key) (string, bool, error) {
	var value string
	err := s.queries.Get(ctx, "get-value", &value, string(key))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Storage.
func (s *SQLStore) Set(ctx context.Context, key Key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.queries.Exec(ctx, "put-value", string(key), value, now); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete implements Storage.
func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	if _, err := s.queries.Exec(ctx, "delete-value", string(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Entry is one stored key-value pair.
type Entry struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// List returns every stored pair ordered by key.
func (s *SQLStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := s.queries.Select(ctx, "list-values", &entries); err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
