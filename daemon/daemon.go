// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/constitute-foundation/constitute/discovery"
	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/lib/clock"
	"github.com/constitute-foundation/constitute/peer"
	"github.com/constitute-foundation/constitute/relay"
	"github.com/constitute-foundation/constitute/store"
	"github.com/constitute-foundation/constitute/wire"
)

// Timer cadences and thresholds.
const (
	presenceInterval   = 90 * time.Second
	stalenessInterval  = 30 * time.Second
	stalenessThreshold = 3 * time.Minute
	discoveryInterval  = 5 * time.Minute
)

// defaultRecordTTL is how long published discovery records stay valid.
const defaultRecordTTL = time.Hour

// Attestor is the optional hardware-backed credential capability. The
// daemon stores only the resulting credential id; the attestation
// mechanism is the caller's business.
type Attestor interface {
	// Upgrade performs the hardware ceremony and returns the credential
	// id, or ErrUnsupported when the platform cannot.
	Upgrade(ctx context.Context) (string, error)
}

// ErrUnsupported is returned by an Attestor on platforms without
// hardware credential support.
var ErrUnsupported = errors.New("daemon: hardware credential unsupported")

// Config assembles a daemon.
type Config struct {
	// Store is the durable persistence layer. Required.
	Store *store.Store

	// Transport is the relay connection. Required.
	Transport relay.Transport

	// Clock drives all periodic work. Defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// AppTag scopes relay traffic. Defaults to "constitute".
	AppTag string

	// DeviceLabel names a freshly created device record. Defaults to
	// "device".
	DeviceLabel string

	// PeerHint is the opaque address advertised for the direct peer
	// transport.
	PeerHint string

	// RecordTTL is the validity window of published discovery records.
	// Defaults to one hour.
	RecordTTL time.Duration

	// Attestor enables the hardware credential upgrade. Nil means
	// unsupported.
	Attestor Attestor
}

// Daemon is the protocol engine. One mutex serializes every operation,
// RPC and ingest alike: each handler is a read-full-record, mutate,
// write-full-record cycle, and the store offers no transactions to
// protect overlapping cycles from each other.
type Daemon struct {
	cfg    Config
	logger *slog.Logger
	clk    clock.Clock

	mu     sync.Mutex
	keys   *identity.Keyring
	device identity.Device
	// cipher encrypts identity-scoped traffic; nil while unlinked. Kept
	// in lockstep with the stored identity record.
	cipher *wire.RoomCipher

	cache  *discovery.Cache
	peers  *discovery.Scoreboard
	direct *peer.Transport

	handlers map[string]handlerFunc

	rx atomic.Int64
	tx atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New loads (or creates) the device record and assembles the engine.
// The daemon is functional immediately; Run only adds the frame pump
// and timers.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("daemon: store required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("daemon: transport required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AppTag == "" {
		cfg.AppTag = "constitute"
	}
	if cfg.DeviceLabel == "" {
		cfg.DeviceLabel = "device"
	}
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = defaultRecordTTL
	}

	d := &Daemon{
		cfg:    cfg,
		logger: cfg.Logger,
		clk:    cfg.Clock,
		cache:  discovery.NewCache(cfg.Store, cfg.Logger),
		peers:  discovery.NewScoreboard(cfg.Clock),
		stop:   make(chan struct{}),
	}

	if err := d.ensureDevice(ctx); err != nil {
		return nil, err
	}
	if err := d.loadCipher(ctx); err != nil {
		return nil, err
	}

	direct, err := peer.NewTransport(peer.Config{
		DevicePk: d.keys.Pk(),
		Signaler: peer.SignalerFunc(d.publishSignal),
		OnConn:   d.serveExchange,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	d.direct = direct

	d.registerHandlers()
	return d, nil
}

// ensureDevice loads the device record, creating keys and descriptor
// on first run.
func (d *Daemon) ensureDevice(ctx context.Context) error {
	device, ok, err := d.cfg.Store.Device(ctx)
	if err != nil {
		return err
	}
	if ok {
		keys, err := identity.LoadKeyring(device.Keys)
		if err != nil {
			return err
		}
		d.keys = keys
		d.device = device
		return nil
	}

	keys, err := identity.NewKeyring()
	if err != nil {
		return err
	}
	deviceID, err := identity.NewOpaqueID("dev")
	if err != nil {
		return err
	}
	device = identity.Device{
		DeviceID:         deviceID,
		Label:            d.cfg.DeviceLabel,
		DID:              "did:device:soft:" + keys.Pk(),
		CredentialMethod: identity.CredentialSoft,
		Keys:             keys.Record(),
	}
	if err := d.cfg.Store.SetDevice(ctx, device); err != nil {
		return err
	}
	d.keys = keys
	d.device = device
	d.logger.Info("device created", "device_id", device.DeviceID, "pk", keys.Pk())
	return nil
}

// loadCipher rebuilds the room cipher from the stored identity.
func (d *Daemon) loadCipher(ctx context.Context) error {
	id, ok, err := d.cfg.Store.Identity(ctx)
	if err != nil {
		return err
	}
	if !ok || !id.Linked || id.RoomKey == "" {
		d.cipher = nil
		return nil
	}
	cipher, err := wire.NewRoomCipher(id.ID, id.RoomKey)
	if err != nil {
		return fmt.Errorf("daemon: stored room key unusable: %w", err)
	}
	d.cipher = cipher
	return nil
}

// setIdentityLocked persists the identity record and keeps the room
// cipher in lockstep.
func (d *Daemon) setIdentityLocked(ctx context.Context, id identity.Identity) error {
	if err := d.cfg.Store.SetIdentity(ctx, id); err != nil {
		return err
	}
	if !id.Linked || id.RoomKey == "" {
		d.cipher = nil
		return nil
	}
	cipher, err := wire.NewRoomCipher(id.ID, id.RoomKey)
	if err != nil {
		return fmt.Errorf("daemon: new room key unusable: %w", err)
	}
	d.cipher = cipher
	return nil
}

// Run pumps inbound frames and drives the timers until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	d.Resubscribe(ctx)

	presence := d.clk.NewTicker(presenceInterval)
	staleness := d.clk.NewTicker(stalenessInterval)
	records := d.clk.NewTicker(discoveryInterval)
	defer presence.Stop()
	defer staleness.Stop()
	defer records.Stop()

	frames := d.cfg.Transport.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stop:
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			d.Ingest(ctx, frame)
		case <-presence.C:
			d.mu.Lock()
			d.gossipPresenceLocked(ctx)
			d.mu.Unlock()
		case <-staleness.C:
			d.mu.Lock()
			d.checkStalenessLocked(ctx)
			d.mu.Unlock()
		case <-records.C:
			d.mu.Lock()
			d.publishDiscoveryLocked(ctx)
			d.mu.Unlock()
		}
	}
}

// Close stops the engine. Timers are not re-armed; in-flight handlers
// finish.
func (d *Daemon) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	return d.direct.Close()
}

// DevicePk returns this device's signing public key.
func (d *Daemon) DevicePk() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys.Pk()
}

// Resubscribe sends the relay subscription: identity-scoped traffic
// first when linked, then the general app feed. Run issues it once at
// startup; transports with a reconnect hook should call it again after
// every reconnect.
func (d *Daemon) Resubscribe(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribeLocked(ctx)
}

func (d *Daemon) subscribeLocked(ctx context.Context) {
	filters := []wire.Filter{}
	if id, ok, err := d.cfg.Store.Identity(ctx); err == nil && ok && id.Linked {
		filters = append(filters, wire.Filter{
			Kinds:       []int{wire.KindApp},
			AppTags:     []string{d.cfg.AppTag},
			IdentityTag: []string{id.Label},
			Limit:       200,
		})
	}
	filters = append(filters, wire.Filter{
		Kinds:   []int{wire.KindApp, wire.KindRecord},
		AppTags: []string{d.cfg.AppTag},
		Limit:   200,
	})

	frame, err := wire.ReqFrame("constitute", filters...)
	if err != nil {
		d.logger.Error("building subscription failed", "error", err)
		return
	}
	if err := d.cfg.Transport.Send(frame); err != nil {
		d.logger.Debug("subscription not sent", "error", err)
		return
	}
	d.tx.Add(1)
}

// publishLocked signs and sends one app event. A nil cipher publishes
// plaintext; a non-nil cipher wraps the payload under that room key.
// Bootstrap kinds must always pass nil.
func (d *Daemon) publishLocked(kind string, payload any, enc *wire.RoomCipher, extraTags ...[]string) (string, error) {
	if enc != nil && wire.Bootstrap(kind) {
		return "", cryptoErr("%s is a bootstrap kind and must stay plaintext", kind)
	}
	now := d.clk.Now().Unix()

	var content string
	var err error
	if enc != nil {
		content, err = wire.BuildEncrypted(enc, kind, d.keys.Pk(), now, payload)
	} else {
		content, err = wire.BuildPlain(kind, payload)
	}
	if err != nil {
		return "", cryptoErr("building %s content: %v", kind, err)
	}

	tags := [][]string{{wire.TagApp, d.cfg.AppTag}}
	tags = append(tags, extraTags...)
	ev := &wire.Event{
		Kind:      wire.KindApp,
		CreatedAt: now,
		Tags:      tags,
		Content:   content,
	}
	if err := ev.Sign(d.keys); err != nil {
		return "", cryptoErr("signing %s: %v", kind, err)
	}

	frame, err := wire.EventFrame(ev)
	if err != nil {
		return "", err
	}
	if err := d.cfg.Transport.Send(frame); err != nil {
		if errors.Is(err, relay.ErrNotOpen) {
			return "", transportErr("relay not open")
		}
		return "", transportErr("publish failed: %v", err)
	}
	d.tx.Add(1)
	return ev.ID, nil
}

// publishRecordLocked sends a signed discovery record envelope.
func (d *Daemon) publishRecordLocked(ev *wire.Event) error {
	frame, err := wire.EventFrame(ev)
	if err != nil {
		return err
	}
	if err := d.cfg.Transport.Send(frame); err != nil {
		if errors.Is(err, relay.ErrNotOpen) {
			return transportErr("relay not open")
		}
		return transportErr("publish failed: %v", err)
	}
	d.tx.Add(1)
	return nil
}

// identityTag builds the standard identity scoping tag.
func identityTag(label string) []string { return []string{wire.TagIdentity, label} }

// targetTag addresses a point-to-point kind at one device.
func targetTag(pk string) []string { return []string{wire.TagTarget, pk} }

// zoneTag scopes zone gossip.
func zoneTag(key string) []string { return []string{wire.TagZone, key} }

// notifyLocked raises a user-visible notification. Failures are logged
// only; a full notification list never blocks protocol progress.
func (d *Daemon) notifyLocked(ctx context.Context, kind, title, body string, data map[string]string) {
	id, err := identity.NewOpaqueID("ntf")
	if err != nil {
		d.logger.Error("notification id generation failed", "error", err)
		return
	}
	n := identity.Notification{
		ID:        id,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: d.clk.Now().Unix(),
	}
	if err := d.cfg.Store.AddNotification(ctx, n); err != nil {
		d.logger.Error("storing notification failed", "kind", kind, "error", err)
	}
}

// newPairCode generates a six-digit human-verifiable code.
func newPairCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("daemon: generating pair code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
