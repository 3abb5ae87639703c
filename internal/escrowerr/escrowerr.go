// Package escrowerr defines the error taxonomy shared across the escrow coordinator.
package escrowerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP-edge mapping and retry decisions.
type Kind string

const (
	Validation         Kind = "validation"
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	InvalidState       Kind = "invalid_state"
	InvalidAmount      Kind = "invalid_amount"
	CryptoFailure      Kind = "crypto_failure"
	SignatureInvalid   Kind = "signature_invalid"
	ChallengeExpired   Kind = "challenge_expired"
	AddressMismatch    Kind = "address_mismatch"
	RpcUnreachable     Kind = "rpc_unreachable"
	RpcBusy            Kind = "rpc_busy"
	RpcLocked          Kind = "rpc_locked"
	RpcAlreadyMultisig Kind = "rpc_already_multisig"
	RpcNotMultisig     Kind = "rpc_not_multisig"
	RpcValidation      Kind = "rpc_validation"
	PersistenceFailure Kind = "persistence_failure"
	Timeout            Kind = "timeout"
	Internal           Kind = "internal"
)

// Error wraps an underlying error with a Kind for edge mapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsRetryable reports whether err represents a transient condition worth retrying with backoff.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RpcUnreachable, RpcBusy, RpcLocked, Timeout:
		return true
	default:
		return false
	}
}
