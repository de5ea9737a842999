// Package booking books, cancels, reschedules and confirms appointments
// with per-slot conflict semantics.
package booking

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses. Cancellation is a state, never a delete.
const (
	StatusBooked    = "booked"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
	StatusCompleted = "completed"
)

// Booking actors.
const (
	BookedByAI      = "ai"
	BookedByStaff   = "staff"
	BookedByPatient = "patient"
)

// Appointment is one occupied slot. Date and Time are wall-clock values in
// the practice timezone; timestamps are UTC instants.
type Appointment struct {
	ID                  uuid.UUID
	PracticeID          uuid.UUID
	PatientID           uuid.UUID
	AppointmentTypeID   uuid.UUID
	Date                time.Time // date component only
	Time                string    // "HH:MM"
	DurationMinutes     int
	Status              string
	Notes               string
	BookedBy            string
	CallID              *uuid.UUID
	SMSConfirmationSent bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsTerminal reports whether the appointment can no longer transition.
func (a *Appointment) IsTerminal() bool {
	return a.Status == StatusCancelled || a.Status == StatusCompleted || a.Status == StatusNoShow
}
