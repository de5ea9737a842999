// Package waitlist keeps patients queued for freed slots and runs the
// offer/claim flow over SMS.
package waitlist

import (
	"time"

	"github.com/google/uuid"
)

// Entry statuses.
const (
	StatusWaiting   = "waiting"
	StatusNotified  = "notified"
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// OfferTTL is how long a notified entry may claim the slot.
const OfferTTL = 2 * time.Hour

// NotifyLimit caps how many entries one freed slot notifies.
const NotifyLimit = 3

// Entry is one waitlisted request. Preference fields are optional; an
// absent preference matches everything.
type Entry struct {
	ID                 uuid.UUID
	PracticeID         uuid.UUID
	PatientName        string
	Phone              string
	AppointmentTypeID  *uuid.UUID
	PreferredDateStart *time.Time
	PreferredDateEnd   *time.Time
	PreferredTimeStart *string // "HH:MM"
	PreferredTimeEnd   *string
	Priority           int
	Status             string
	NotifiedAt         *time.Time
	ExpiresAt          *time.Time
	ReplyBody          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Matches reports whether a freed (type, date, time) slot satisfies the
// entry's preferences.
func (e *Entry) Matches(apptTypeID uuid.UUID, date time.Time, hhmm string) bool {
	if e.AppointmentTypeID != nil && *e.AppointmentTypeID != apptTypeID {
		return false
	}
	if e.PreferredDateStart != nil && date.Before(*e.PreferredDateStart) {
		return false
	}
	if e.PreferredDateEnd != nil && date.After(*e.PreferredDateEnd) {
		return false
	}
	if e.PreferredTimeStart != nil && hhmm < *e.PreferredTimeStart {
		return false
	}
	if e.PreferredTimeEnd != nil && hhmm > *e.PreferredTimeEnd {
		return false
	}
	return true
}
