// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay connects the daemon to an untrusted broadcast relay.
// The relay fans every published frame out to all subscribers,
// including an echo to the publisher; it offers no ordering, delivery,
// or authenticity guarantees. All trust decisions happen above this
// package, on the signed event envelopes.
package relay
