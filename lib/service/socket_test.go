// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/constitute-foundation/constitute/lib/codec"
	"github.com/constitute-foundation/constitute/lib/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoDispatcher is a minimal Dispatcher for protocol tests.
type echoDispatcher struct{}

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string   { return e.msg }
func (e *codedError) RPCCode() string { return e.code }

func (echoDispatcher) Dispatch(ctx context.Context, method string, params codec.RawMessage) (any, error) {
	switch method {
	case "echo":
		var p map[string]string
		if err := codec.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "nothing":
		return nil, nil
	case "fail":
		return nil, &codedError{code: "state", msg: "not ready"}
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func startServer(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	server := NewSocketServer(socketPath, echoDispatcher{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "server shutdown")
	})

	// Wait for the socket to appear.
	deadline := time.Now().Add(5 * time.Second)
	for {
		client := NewServiceClient(socketPath)
		if err := client.Call(context.Background(), "nothing", nil, nil); err == nil {
			return socketPath
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became reachable")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()
	socketPath := startServer(t)
	client := NewServiceClient(socketPath)

	var result map[string]string
	err := client.Call(context.Background(), "echo", map[string]string{"hello": "world"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["hello"] != "world" {
		t.Errorf("result = %v, want echo of params", result)
	}
}

func TestCallNoData(t *testing.T) {
	t.Parallel()
	socketPath := startServer(t)
	client := NewServiceClient(socketPath)

	if err := client.Call(context.Background(), "nothing", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestCallErrorCarriesCode(t *testing.T) {
	t.Parallel()
	socketPath := startServer(t)
	client := NewServiceClient(socketPath)

	err := client.Call(context.Background(), "fail", nil, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if serviceErr.Code != "state" || serviceErr.Message != "not ready" {
		t.Errorf("service error = %+v", serviceErr)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	t.Parallel()
	socketPath := startServer(t)
	client := NewServiceClient(socketPath)

	err := client.Call(context.Background(), "bogus", nil, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if serviceErr.Code != "" {
		t.Errorf("plain error grew a code: %+v", serviceErr)
	}
}

func TestCallAgainstMissingSocket(t *testing.T) {
	t.Parallel()
	client := NewServiceClient(filepath.Join(t.TempDir(), "absent.sock"))
	if err := client.Call(context.Background(), "echo", nil, nil); err == nil {
		t.Fatalf("call against missing socket succeeded")
	}
}
