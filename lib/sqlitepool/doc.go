// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the standard SQLite connection pool.
//
// The identity store is the only mutable shared resource in the
// daemon, and it lives in a single SQLite file opened through this
// package. Connections get WAL journaling (readers never block the
// writer), NORMAL synchronous (durable across process crashes, which
// is the bar for a cache-plus-state store whose authoritative events
// flow over the relay), and a 5-second busy timeout.
//
// Callers [Pool.Take] a connection, work, and [Pool.Put] it back.
// Connections are not safe for concurrent use.
package sqlitepool
