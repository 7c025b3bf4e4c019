// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/constitute-foundation/constitute/store"
	"github.com/constitute-foundation/constitute/wire"
)

// MaxRecords bounds each record index, most-recently-updated first.
const MaxRecords = 500

// Store keys for cached records and their MRU indexes.
const (
	prefixIdentityRecord = "swarm:identity:"
	prefixDeviceRecord   = "swarm:device:"
	keyIdentityIndex     = "swarm:index:identity"
	keyDeviceIndex       = "swarm:index:device"
)

// Cache is the bounded store of validated discovery records.
type Cache struct {
	store  *store.Store
	logger *slog.Logger
}

// NewCache wraps the daemon store. A nil logger discards.
func NewCache(st *store.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{store: st, logger: logger}
}

// Put validates and caches one record envelope. Older records for the
// same subject never overwrite newer ones; the loser is dropped
// silently, since relays re-deliver freely.
func (c *Cache) Put(ctx context.Context, ev *wire.Event, now time.Time) error {
	body, err := Validate(ev, now)
	if err != nil {
		return err
	}

	var key, indexKey, subject string
	switch body.Type {
	case TypeIdentity:
		subject = body.IdentityID
		key = prefixIdentityRecord + subject
		indexKey = keyIdentityIndex
	case TypeDevice:
		subject = body.DevicePk
		key = prefixDeviceRecord + subject
		indexKey = keyDeviceIndex
	}

	var existing wire.Event
	if ok, err := c.store.Get(ctx, key, &existing); err != nil {
		return err
	} else if ok {
		if prev, err := ParseBody(&existing); err == nil && prev.TS >= body.TS {
			return nil
		}
	}

	if err := c.store.Put(ctx, key, ev); err != nil {
		return err
	}
	return c.promote(ctx, indexKey, subject)
}

// Identity returns the cached record for an identity id, re-validated.
func (c *Cache) Identity(ctx context.Context, identityID string, now time.Time) (*wire.Event, bool, error) {
	return c.get(ctx, prefixIdentityRecord+identityID, now)
}

// Device returns the cached record for a device pk, re-validated.
func (c *Cache) Device(ctx context.Context, devicePk string, now time.Time) (*wire.Event, bool, error) {
	return c.get(ctx, prefixDeviceRecord+devicePk, now)
}

func (c *Cache) get(ctx context.Context, key string, now time.Time) (*wire.Event, bool, error) {
	var ev wire.Event
	ok, err := c.store.Get(ctx, key, &ev)
	if err != nil || !ok {
		return nil, false, err
	}
	if _, err := Validate(&ev, now); err != nil {
		// Stale since caching; purge on the way out.
		if err := c.store.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return &ev, true, nil
}

// Identities returns all live identity records, most recent first.
func (c *Cache) Identities(ctx context.Context, now time.Time) ([]*wire.Event, error) {
	return c.list(ctx, keyIdentityIndex, prefixIdentityRecord, now)
}

// Devices returns all live device records, most recent first.
func (c *Cache) Devices(ctx context.Context, now time.Time) ([]*wire.Event, error) {
	return c.list(ctx, keyDeviceIndex, prefixDeviceRecord, now)
}

func (c *Cache) list(ctx context.Context, indexKey, prefix string, now time.Time) ([]*wire.Event, error) {
	var index []string
	if _, err := c.store.Get(ctx, indexKey, &index); err != nil {
		return nil, err
	}

	var live []*wire.Event
	kept := index[:0]
	for _, subject := range index {
		ev, ok, err := c.get(ctx, prefix+subject, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		live = append(live, ev)
		kept = append(kept, subject)
	}
	if len(kept) != len(index) {
		if err := c.store.Put(ctx, indexKey, kept); err != nil {
			return nil, err
		}
	}
	return live, nil
}

// promote moves subject to the front of the index, evicting (and
// deleting) the least recently updated record past the cap.
func (c *Cache) promote(ctx context.Context, indexKey, subject string) error {
	var index []string
	if _, err := c.store.Get(ctx, indexKey, &index); err != nil {
		return err
	}

	kept := make([]string, 0, len(index)+1)
	kept = append(kept, subject)
	for _, s := range index {
		if s != subject {
			kept = append(kept, s)
		}
	}
	for len(kept) > MaxRecords {
		evicted := kept[len(kept)-1]
		kept = kept[:len(kept)-1]
		prefix := prefixIdentityRecord
		if indexKey == keyDeviceIndex {
			prefix = prefixDeviceRecord
		}
		if err := c.store.Delete(ctx, prefix+evicted); err != nil {
			return err
		}
		c.logger.Debug("discovery record evicted", "subject", evicted)
	}
	return c.store.Put(ctx, indexKey, kept)
}
