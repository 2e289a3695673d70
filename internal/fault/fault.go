// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fault defines the error taxonomy used across component boundaries.
// Every public operation returns errors of this taxonomy; internal errors are
// classified at the boundary of the component that produced them.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorises a failure. The set is closed; new kinds require a
// corresponding wire error code in the API layer.
type Kind string

const (
	// KindPrecondition marks invalid arguments: out of range, unknown name,
	// unit mismatch, unsupported operation.
	KindPrecondition Kind = "precondition"
	// KindTransport marks I/O failures, timeouts and disconnects.
	KindTransport Kind = "transport"
	// KindProtocol marks malformed instrument responses.
	KindProtocol Kind = "protocol"
	// KindState marks operations invalid in the current state.
	KindState Kind = "state"
	// KindPersistence marks library load/save failures.
	KindPersistence Kind = "persistence"
	// KindNotFound marks unknown device/sequence/script/parameter lookups.
	KindNotFound Kind = "not_found"
)

// Error is the result-shaped failure value crossing component boundaries.
type Error struct {
	Kind    Kind
	Op      string // originating operation, e.g. "session.setValue"
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, string(e.Kind))
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error without a cause.
func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf builds a taxonomy error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches taxonomy information to an underlying cause. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		// Preserve the innermost classification.
		return &Error{Kind: fe.Kind, Op: op, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies an arbitrary error. Context cancellation and deadline
// errors map to KindTransport; unclassified errors report KindProtocol.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindProtocol
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
