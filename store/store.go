// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/constitute-foundation/constitute/lib/codec"
	"github.com/constitute-foundation/constitute/lib/sqlitepool"
)

// schema is the entire database: one CBOR value per key. The store
// offers no cross-key transactions; every daemon mutation is a coarse
// read-full-record → mutate → write-full-record cycle serialized by
// the daemon's own mutex.
const schema = `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL);`

// Store is the daemon's durable key-value persistence.
type Store struct {
	pool *sqlitepool.Pool
}

// Open opens (or creates) the store at path. Use ":memory:" in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	poolSize := 0
	if path == ":memory:" {
		// The pool rejects the bare form; a mode=memory URI with a
		// single connection gives each Open its own private database.
		path = "file::memory:?mode=memory"
		poolSize = 1
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.pool.Close() }

// Get decodes the value at key into v. Returns false with no error
// when the key is absent.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	var raw []byte
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?;", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, raw)
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("store: reading %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("store: decoding %s: %w", key, err)
	}
	return true, nil
}

// Put encodes v as CBOR and writes it at key, replacing any previous
// value.
func (s *Store) Put(ctx context.Context, key string, v any) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", key, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value;",
		&sqlitex.ExecOptions{Args: []any{key, raw}})
	if err != nil {
		return fmt.Errorf("store: writing %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?;", &sqlitex.ExecOptions{
		Args: []any{key},
	})
	if err != nil {
		return fmt.Errorf("store: deleting %s: %w", key, err)
	}
	return nil
}
