// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Constitute-call is a one-shot RPC client for the constituted control
// socket. It sends a single method call and prints the result as JSON:
//
//	constitute-call identity.create '{"label": "alice"}'
//	constitute-call --socket /tmp/daemon.sock zones.list
//
// Params, when given, are a JSON object. A failed call prints the
// daemon's error code and message to stderr and exits nonzero.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/constitute-foundation/constitute/lib/config"
	"github.com/constitute-foundation/constitute/lib/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("constitute-call", pflag.ContinueOnError)
	socketPath := flags.String("socket", "", "daemon control socket path")
	timeout := flags.Duration("timeout", 30*time.Second, "overall call timeout")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	args := flags.Args()
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: constitute-call [--socket path] <method> [json-params]")
	}
	method := args[0]

	var params any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("params are not valid JSON: %w", err)
		}
	}

	socket := *socketPath
	if socket == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		socket = cfg.Paths.Socket
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := service.NewServiceClient(socket)
	var result any
	if err := client.Call(ctx, method, params, &result); err != nil {
		var serviceErr *service.ServiceError
		if errors.As(err, &serviceErr) && serviceErr.Code != "" {
			return fmt.Errorf("%s: %s (%s)", method, serviceErr.Message, serviceErr.Code)
		}
		return err
	}

	if result == nil {
		fmt.Println("ok")
		return nil
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
