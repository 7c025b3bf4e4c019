// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists daemon state as CBOR values in a single
// SQLite key-value table. Typed accessors implement the record caps
// and list disciplines; the generic Get/Put/Delete surface serves
// callers with their own key schemes.
package store
