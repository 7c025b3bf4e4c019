// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Constituted is the multi-device identity daemon. It connects to a
// broadcast relay, maintains the device's identity membership, and
// serves RPC over a unix control socket for frontends such as
// constitute-call.
//
// On startup:
//  1. Loads configuration (optional YAML file, flags win).
//  2. Opens the sqlite store and loads or creates the device record.
//  3. Dials the relay websocket; the connection is re-established in
//     the background and the subscription replayed on every reconnect.
//  4. Serves RPC on the control socket until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/constitute-foundation/constitute/daemon"
	"github.com/constitute-foundation/constitute/lib/config"
	"github.com/constitute-foundation/constitute/lib/service"
	"github.com/constitute-foundation/constitute/relay"
	"github.com/constitute-foundation/constitute/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("constituted", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file (default: $CONSTITUTE_CONFIG if set)")
	socketPath := flags.String("socket", "", "unix control socket path")
	relayURL := flags.String("relay-url", "", "relay websocket endpoint (ws:// or wss://)")
	storePath := flags.String("store", "", "sqlite database path")
	deviceLabel := flags.String("device-label", "", "device label used on first run")
	peerHint := flags.String("peer-hint", "", "address hint advertised in discovery records")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags override file values.
	if flags.Changed("socket") {
		cfg.Paths.Socket = *socketPath
	}
	if flags.Changed("relay-url") {
		cfg.Relay.URL = *relayURL
	}
	if flags.Changed("store") {
		cfg.Paths.Store = *storePath
	}
	if flags.Changed("device-label") {
		cfg.Device.Label = *deviceLabel
	}
	if flags.Changed("peer-hint") {
		cfg.Device.PeerHint = *peerHint
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Paths.Store, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// The daemon does not exist yet when the websocket first connects;
	// the engine issues its own startup subscription, this hook covers
	// reconnects.
	var engine atomic.Pointer[daemon.Daemon]
	transport, err := relay.DialWebsocket(relay.WebsocketConfig{
		URL:    cfg.Relay.URL,
		Logger: logger,
		OnOpen: func(func([]byte) error) {
			if d := engine.Load(); d != nil {
				d.Resubscribe(ctx)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer transport.Close()

	d, err := daemon.New(ctx, daemon.Config{
		Store:       st,
		Transport:   transport,
		Logger:      logger,
		DeviceLabel: cfg.Device.Label,
		PeerHint:    cfg.Device.PeerHint,
	})
	if err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	defer d.Close()
	engine.Store(d)

	server := service.NewSocketServer(cfg.Paths.Socket, d, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- d.Run(runCtx) }()
	go func() { errCh <- server.Serve(runCtx) }()

	logger.Info("constituted running",
		"socket", cfg.Paths.Socket,
		"relay", cfg.Relay.URL,
		"device_pk", d.DevicePk())

	// The first failure tears the other half down; a clean shutdown
	// returns two nils.
	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	logger.Info("constituted stopped")
	return firstErr
}
