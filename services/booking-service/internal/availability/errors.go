package availability

import "errors"

var (
	// ErrIncompleteSelection means the caller did not pick every required field.
	ErrIncompleteSelection = errors.New("fill all fields")
	// ErrBookingConflict means the slot was taken between listing and booking.
	// Callers should refresh the slot list and let the user pick again.
	ErrBookingConflict = errors.New("time slot already booked")
	// ErrSlotNotOffered means the requested time is not one of the practitioner's
	// slots on that date.
	ErrSlotNotOffered = errors.New("requested time is not an offered slot")
	ErrNotFound       = errors.New("not found")
	// ErrInvalidTransition rejects status changes the appointment lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrIdempotencyKey means the idempotency key is unusable: too long, or
	// already bound to a different booking by the same owner.
	ErrIdempotencyKey = errors.New("idempotency key rejected")
)

// PersistenceError wraps infrastructure failures, including timeouts. After a
// timeout the write may or may not have happened.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence error: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
