// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// iceGatherTimeout bounds ICE candidate gathering before a description
// is published.
const iceGatherTimeout = 15 * time.Second

// answerTimeout bounds the wait for an SDP answer after publishing an
// offer.
const answerTimeout = 30 * time.Second

// channelOpenTimeout bounds the wait for a fresh data channel to open.
const channelOpenTimeout = 10 * time.Second

// Config configures a peer transport.
type Config struct {
	// DevicePk is this device's signing public key, the address peers
	// signal to.
	DevicePk string

	// Signaler publishes outbound offers and answers.
	Signaler Signaler

	// OnConn receives each inbound data channel, already detached and
	// wrapped. Called on a fresh goroutine.
	OnConn func(fromPk string, conn net.Conn)

	// ICEServers configures STUN/TURN. Empty means host candidates only.
	ICEServers []webrtc.ICEServer

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Transport maintains one PeerConnection per remote device and opens
// data channels over it. Both directions share the pool: a connection
// established by an inbound offer serves outbound dials too.
type Transport struct {
	cfg Config

	mu      sync.Mutex
	peers   map[string]*peerLink
	answers map[string]chan string

	closed    chan struct{}
	closeOnce sync.Once
	labels    atomic.Uint64
}

// peerLink tracks the PeerConnection to one remote device. established
// closes when ICE reaches connected.
type peerLink struct {
	pc          *webrtc.PeerConnection
	pk          string
	established chan struct{}
}

// NewTransport creates a transport. It is passive until signals arrive
// or Dial is called.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.DevicePk == "" {
		return nil, fmt.Errorf("peer: device pk required")
	}
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("peer: signaler required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{
		cfg:     cfg,
		peers:   make(map[string]*peerLink),
		answers: make(map[string]chan string),
		closed:  make(chan struct{}),
	}, nil
}

// Close tears down every PeerConnection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	t.mu.Lock()
	defer t.mu.Unlock()
	for pk, link := range t.peers {
		link.pc.Close()
		delete(t.peers, pk)
	}
	return nil
}

// Dial opens a data channel to the device identified by toPk,
// establishing a PeerConnection first when none exists.
func (t *Transport) Dial(ctx context.Context, toPk string) (net.Conn, error) {
	select {
	case <-t.closed:
		return nil, net.ErrClosed
	default:
	}

	link, err := t.linkTo(ctx, toPk)
	if err != nil {
		return nil, fmt.Errorf("peer: connecting to %s: %w", toPk, err)
	}

	select {
	case <-link.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, net.ErrClosed
	}
	return t.openChannel(link)
}

// HandleSignal feeds one inbound signal into the transport. The daemon
// calls this for every swarm signal addressed to this device; unknown
// kinds and stray answers are dropped quietly.
func (t *Transport) HandleSignal(fromPk, kind, sdp string) {
	switch kind {
	case SignalOffer:
		if err := t.acceptOffer(fromPk, sdp); err != nil {
			t.cfg.Logger.Warn("answering offer failed", "peer", fromPk, "error", err)
		}
	case SignalAnswer:
		t.mu.Lock()
		waiter := t.answers[fromPk]
		t.mu.Unlock()
		if waiter != nil {
			select {
			case waiter <- sdp:
			default:
			}
		}
	default:
		t.cfg.Logger.Debug("unknown signal kind", "kind", kind, "peer", fromPk)
	}
}

// linkTo returns a live link to the peer, running offer/answer
// signaling when a new PeerConnection is needed. Concurrent dials to
// the same peer share one attempt.
func (t *Transport) linkTo(ctx context.Context, toPk string) (*peerLink, error) {
	t.mu.Lock()
	if link, ok := t.peers[toPk]; ok {
		state := link.pc.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed {
			t.mu.Unlock()
			return link, nil
		}
		link.pc.Close()
		delete(t.peers, toPk)
	}

	pc, err := t.newPeerConnection()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	link := &peerLink{pc: pc, pk: toPk, established: make(chan struct{})}
	t.peers[toPk] = link
	waiter := make(chan string, 1)
	t.answers[toPk] = waiter
	t.mu.Unlock()

	if err := t.offer(ctx, link, waiter); err != nil {
		t.mu.Lock()
		if current, ok := t.peers[toPk]; ok && current == link {
			delete(t.peers, toPk)
		}
		delete(t.answers, toPk)
		t.mu.Unlock()
		pc.Close()
		return nil, err
	}

	t.mu.Lock()
	delete(t.answers, toPk)
	t.mu.Unlock()
	return link, nil
}

// offer runs the outbound half of signaling: publish a fully gathered
// offer, wait for the answer, adopt it.
func (t *Transport) offer(ctx context.Context, link *peerLink, waiter chan string) error {
	pc := link.pc
	t.wireLink(link)

	// A throwaway channel so the offer carries a data channel section.
	if _, err := pc.CreateDataChannel("init", nil); err != nil {
		return fmt.Errorf("creating init channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := t.cfg.Signaler.Publish(ctx, link.pk, SignalOffer, pc.LocalDescription().SDP); err != nil {
		return fmt.Errorf("publishing offer: %w", err)
	}
	t.cfg.Logger.Debug("offer published", "peer", link.pk)

	var answerSDP string
	select {
	case answerSDP = <-waiter:
	case <-time.After(answerTimeout):
		return fmt.Errorf("no answer within %s", answerTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return net.ErrClosed
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// acceptOffer runs the inbound half: adopt the remote offer, publish a
// fully gathered answer.
func (t *Transport) acceptOffer(fromPk, sdp string) error {
	t.mu.Lock()
	if existing, ok := t.peers[fromPk]; ok {
		state := existing.pc.ICEConnectionState()
		live := state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed
		// Offer glare: both sides dialed at once. The lexicographically
		// smaller pk is the canonical offerer; the other side yields.
		if live && fromPk > t.cfg.DevicePk {
			t.mu.Unlock()
			return nil
		}
		existing.pc.Close()
		delete(t.peers, fromPk)
	}

	pc, err := t.newPeerConnection()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	link := &peerLink{pc: pc, pk: fromPk, established: make(chan struct{})}
	t.peers[fromPk] = link
	t.mu.Unlock()

	t.wireLink(link)

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(remote); err != nil {
		t.dropLink(link)
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.dropLink(link)
		return fmt.Errorf("creating answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		t.dropLink(link)
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(iceGatherTimeout):
		t.dropLink(link)
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-t.closed:
		t.dropLink(link)
		return net.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()
	if err := t.cfg.Signaler.Publish(ctx, fromPk, SignalAnswer, pc.LocalDescription().SDP); err != nil {
		t.dropLink(link)
		return fmt.Errorf("publishing answer: %w", err)
	}
	t.cfg.Logger.Debug("answer published", "peer", fromPk)
	return nil
}

// wireLink installs the shared handlers: inbound data channels and ICE
// state tracking.
func (t *Transport) wireLink(link *peerLink) {
	link.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		// The init channel only exists to shape the SDP; nobody writes
		// to it.
		if dc.Label() == "init" {
			dc.OnOpen(func() { dc.Close() })
			return
		}
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				t.cfg.Logger.Warn("detaching inbound channel failed",
					"peer", link.pk, "label", dc.Label(), "error", err)
				return
			}
			conn := newConn(raw, t.cfg.DevicePk+"/"+dc.Label(), link.pk+"/"+dc.Label())
			if t.cfg.OnConn != nil {
				go t.cfg.OnConn(link.pk, conn)
			} else {
				conn.Close()
			}
		})
	})

	link.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.cfg.Logger.Debug("ICE state change", "peer", link.pk, "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			select {
			case <-link.established:
			default:
				close(link.established)
			}
		case webrtc.ICEConnectionStateClosed:
			t.mu.Lock()
			if current, ok := t.peers[link.pk]; ok && current == link {
				delete(t.peers, link.pk)
			}
			t.mu.Unlock()
		}
	})
}

func (t *Transport) dropLink(link *peerLink) {
	t.mu.Lock()
	if current, ok := t.peers[link.pk]; ok && current == link {
		delete(t.peers, link.pk)
	}
	t.mu.Unlock()
	link.pc.Close()
}

// openChannel creates a fresh ordered data channel on an established
// link and waits for it to open.
func (t *Transport) openChannel(link *peerLink) (net.Conn, error) {
	label := fmt.Sprintf("xchg-%d", t.labels.Add(1))
	ordered := true
	dc, err := link.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("peer: creating channel %s: %w", label, err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
	case <-time.After(channelOpenTimeout):
		dc.Close()
		return nil, fmt.Errorf("peer: channel %s did not open within %s", label, channelOpenTimeout)
	case <-t.closed:
		dc.Close()
		return nil, net.ErrClosed
	}

	raw, err := dc.Detach()
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("peer: detaching channel %s: %w", label, err)
	}
	return newConn(raw, t.cfg.DevicePk+"/"+label, link.pk+"/"+label), nil
}

// newPeerConnection builds a pion PeerConnection with detached data
// channels and loopback candidates enabled (same-host setups and tests
// have nothing else).
func (t *Transport) newPeerConnection() (*webrtc.PeerConnection, error) {
	engine := webrtc.SettingEngine{}
	engine.DetachDataChannels()
	engine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(engine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: t.cfg.ICEServers})
}
