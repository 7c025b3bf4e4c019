// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded, want error")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn,
				"CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB);", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	err = sqlitex.Execute(conn, "INSERT INTO kv (key, value) VALUES (?, ?);", &sqlitex.ExecOptions{
		Args: []any{"greeting", []byte("hello")},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got []byte
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?;", &sqlitex.ExecOptions{
		Args: []any{"greeting"},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, got)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	pool.Put(conn)

	if string(got) != "hello" {
		t.Errorf("read back %q, want %q", got, "hello")
	}
}
