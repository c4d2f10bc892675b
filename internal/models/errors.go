package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of externally visible failure categories.
// Every error crossing the engine boundary carries exactly one kind.
type ErrorKind string

const (
	// ErrInvalidSymbol means a symbol parsed to neither stock nor option.
	ErrInvalidSymbol ErrorKind = "InvalidSymbol"
	// ErrQuoteUnavailable means the quote source failed or returned an
	// unpriceable quote. The engine never substitutes stale quotes.
	ErrQuoteUnavailable ErrorKind = "QuoteUnavailable"
	// ErrValidationFailed means an order failed structural validation.
	ErrValidationFailed ErrorKind = "ValidationFailed"
	// ErrInsufficientCash means post-trade cash would go negative.
	ErrInsufficientCash ErrorKind = "InsufficientCash"
	// ErrInsufficientPosition means a closing leg found no position of
	// sufficient size to close against.
	ErrInsufficientPosition ErrorKind = "InsufficientPosition"
	// ErrOrderConditionNotMet means a limit order's threshold was not
	// reached; the account is untouched.
	ErrOrderConditionNotMet ErrorKind = "OrderConditionNotMet"
	// ErrPersistence means the account store failed during save; the
	// in-memory account must be discarded and reloaded.
	ErrPersistence ErrorKind = "PersistenceError"
	// ErrCancelled means the caller cancelled a suspension point.
	ErrCancelled ErrorKind = "Cancelled"
	// ErrInternal marks a violated invariant, a programming error.
	ErrInternal ErrorKind = "Internal"
)

// Error is the structured error type used across the trading engine.
// LegIndex is -1 when the failure is not tied to a specific order leg.
type Error struct {
	Kind     ErrorKind
	Message  string
	LegIndex int
	Err      error
}

func (e *Error) Error() string {
	if e.LegIndex >= 0 {
		return fmt.Sprintf("%s (leg %d): %s", e.Kind, e.LegIndex, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a structured Error with no leg attribution.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), LegIndex: -1}
}

// NewLegError creates a structured Error attributed to one order leg.
func NewLegError(kind ErrorKind, legIndex int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), LegIndex: legIndex}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, LegIndex: -1, Err: err}
}

// KindOf classifies any error into the closed kind set. Unrecognized
// errors map to ErrInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
