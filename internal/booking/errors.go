package booking

import (
	"errors"
	"fmt"
)

// Kind is a logical error category surfaced by the booking engine.
type Kind string

const (
	// KindValidation marks bad input: past dates, closed days, horizon overrun.
	KindValidation Kind = "validation"
	// KindNotFound marks an absent appointment, patient or type.
	KindNotFound Kind = "not_found"
	// KindConflictFull marks a slot booked to its cap.
	KindConflictFull Kind = "conflict_full"
	// KindInvalidSlot marks a time that is not a generated slot for the day.
	KindInvalidSlot Kind = "invalid_slot"
	// KindTypeInactive marks a booking against a deactivated appointment type.
	KindTypeInactive Kind = "type_inactive"
	// KindAlreadyCancelled marks a cancel of an already-cancelled appointment.
	KindAlreadyCancelled Kind = "already_cancelled"
	// KindCancelledSource marks a reschedule whose source is cancelled.
	KindCancelledSource Kind = "cancelled_source"
	// KindBadTransition marks a state machine violation.
	KindBadTransition Kind = "bad_transition"
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("booking: %s: %s", e.Kind, e.Msg)
}

// NewError builds a kinded booking error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err carries the given booking error kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// KindOf extracts the kind, or "" for non-booking errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
