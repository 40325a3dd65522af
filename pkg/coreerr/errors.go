// Copyright 2025 Certen Protocol
//
// Package coreerr fixes the uniform error-kind taxonomy shared by every
// component of the core: anchoring, resolution, signing, credentials,
// data nodes and the Layer-2 adapter all report failures through a
// CoreError carrying one of these kinds, so callers can branch on Kind
// without knowing which component raised it.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error tag surfaced to callers.
type Kind string

const (
	NotFound          Kind = "NotFound"
	Unauthorized      Kind = "Unauthorized"
	InvalidInput      Kind = "InvalidInput"
	Conflict          Kind = "Conflict"
	Timeout           Kind = "Timeout"
	TransportError    Kind = "TransportError"
	VerificationFailed Kind = "VerificationFailed"
	PartiallyAnchored Kind = "PartiallyAnchored"
	Busy              Kind = "Busy"
	Fatal             Kind = "Fatal"
)

// CoreError is the concrete error type every component returns. Op names
// the failing operation (e.g. "anchor.Commit"); Err, when present, is the
// underlying cause and is reachable via errors.Unwrap.
type CoreError struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError with no wrapped cause.
func New(kind Kind, op, msg string) *CoreError {
	return &CoreError{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds a CoreError carrying an underlying cause.
func Wrap(kind Kind, op, msg string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Retryable reports whether the core's recovery policy allows a caller to
// retry the operation that produced err: transport/timeout failures may be
// retried when the underlying operation is idempotent (the caller decides
// idempotence — this only answers "is this kind of failure retryable at
// all"). Submission-like operations must not be retried automatically
// regardless of kind, to avoid duplicate chain commitments; that
// restriction lives at the call site, not here.
func Retryable(err error) bool {
	var ce *CoreError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case Timeout, TransportError, Conflict, Busy:
		return true
	default:
		return false
	}
}
