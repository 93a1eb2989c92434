// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package upstream

import (
	"errors"
)

// Kind classifies upstream failures.
type Kind int

const (
	// KindTimeout reports an attempt that did not complete within its timeout.
	KindTimeout Kind = iota + 1
	// KindUnreachable reports a connection level failure.
	KindUnreachable
	// KindProtocol reports a malformed or rejected request/response.
	KindProtocol
)

var (
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamProtocol    = errors.New("upstream protocol error")
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrUpstreamTimeout
	case KindUnreachable:
		return ErrUpstreamUnreachable
	default:
		return ErrUpstreamProtocol
	}
}

// Error is the error returned by Querier implementations.
type Error struct {
	Kind Kind
	// Op is the operation that failed, for example "export Voucher".
	Op  string
	Err error
}

// NewError wraps err with the given kind and operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind, so errors.Is(err, ErrUpstreamTimeout) works.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of an upstream error, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var upstreamErr *Error
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Kind
	}
	return 0
}

// Retryable reports whether err is a timeout or a connection failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUnreachable:
		return true
	default:
		return false
	}
}
