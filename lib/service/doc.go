// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the daemon's control socket protocol: a
// CBOR request-response exchange over a Unix socket, one cycle per
// connection. [SocketServer] listens and routes requests through a
// [Dispatcher]; [ServiceClient] is the matching caller side.
package service
