// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery maintains signed, expiring records describing
// identities and their devices, exchanged over the relay and directly
// between peers. Records are validated on every path in, and again on
// every path out, since time passes while they sit in the cache.
package discovery
