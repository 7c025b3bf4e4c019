// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The daemon's periodic work (presence gossip, zone staleness checks,
// discovery record publication) runs off a [Clock] so that tests can
// drive every timer deterministically through [Fake.Advance] instead of
// sleeping. Production wiring passes [Real].
package clock
