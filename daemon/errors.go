// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import "fmt"

// ErrorCode classifies RPC failures for callers.
type ErrorCode string

const (
	// CodeValidation marks missing or invalid parameters.
	CodeValidation ErrorCode = "validation"
	// CodeNotFound marks references to unknown entities.
	CodeNotFound ErrorCode = "not_found"
	// CodeState marks operations invalid in the current lifecycle state,
	// like creating an identity while already linked.
	CodeState ErrorCode = "state"
	// CodeCrypto marks failures of a caller-requested cryptographic
	// operation. Inbound decrypt failures never surface here; they are
	// dropped inside ingest.
	CodeCrypto ErrorCode = "crypto"
	// CodeTransport marks publishes attempted while the relay transport
	// is not open. Soft: the caller may retry.
	CodeTransport ErrorCode = "transport"
	// CodeUnknownMethod marks dispatch of an unregistered method.
	CodeUnknownMethod ErrorCode = "unknown_method"
)

// RPCError is the structured error returned by Dispatch. Callers
// unwrap it with errors.As to branch on Code.
type RPCError struct {
	Code    ErrorCode
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon: %s: %s", e.Code, e.Message)
}

// RPCCode exposes the code to the socket layer's response envelope.
func (e *RPCError) RPCCode() string { return string(e.Code) }

func validationErr(format string, args ...any) error {
	return &RPCError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundErr(format string, args ...any) error {
	return &RPCError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func stateErr(format string, args ...any) error {
	return &RPCError{Code: CodeState, Message: fmt.Sprintf(format, args...)}
}

func cryptoErr(format string, args ...any) error {
	return &RPCError{Code: CodeCrypto, Message: fmt.Sprintf(format, args...)}
}

func transportErr(format string, args ...any) error {
	return &RPCError{Code: CodeTransport, Message: fmt.Sprintf(format, args...)}
}
