package storage

import "errors"

// ErrNotFound is returned when no account exists for the requested id.
var ErrNotFound = errors.New("account not found")

// ErrStartingBalance is returned when a save attempts to change an
// account's starting balance after creation.
var ErrStartingBalance = errors.New("starting balance is immutable")
