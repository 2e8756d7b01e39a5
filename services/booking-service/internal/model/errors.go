package model

import "errors"

// Errors returned by appointment stores and directories.
var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken means a non-cancelled appointment already holds the
	// (practitioner, date, time) key.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrStatusChanged means a conditional status update found a different
	// current status than expected.
	ErrStatusChanged = errors.New("appointment status changed")
	// ErrKeyInUse means the owner's idempotency key is already bound to
	// another appointment.
	ErrKeyInUse = errors.New("idempotency key already used")
)
