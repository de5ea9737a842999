// Package reminders schedules and delivers appointment reminder SMS in
// stages, with per-reminder retry accounting.
package reminders

import (
	"time"

	"github.com/google/uuid"
)

// Reminder stages.
const (
	StageConfirmation = "confirmation"
	Stage24Hour       = "24h"
	Stage2Hour        = "2h"
	StageNoShow       = "no_show"
)

// Reminder statuses.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// MaxAttempts is the per-reminder delivery attempt cap.
const MaxAttempts = 3

// Reminder is one scheduled SMS. The body is rendered at scheduling time;
// ScheduledFor is a UTC instant. Uniqueness on (appointment, scheduled_for)
// suppresses duplicates.
type Reminder struct {
	ID                uuid.UUID
	PracticeID        uuid.UUID
	AppointmentID     uuid.UUID
	PatientID         uuid.UUID
	Phone             string
	Stage             string
	Body              string
	Status            string
	ScheduledFor      time.Time
	SentAt            *time.Time
	Attempts          int
	ExternalMessageID string
	ReplyBody         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RetryReadyAt returns the earliest instant the next attempt may run.
// Backoff doubles per attempt: 2, 4, 8 minutes.
func (r *Reminder) RetryReadyAt() time.Time {
	if r.Attempts == 0 {
		return r.ScheduledFor
	}
	return r.UpdatedAt.Add(time.Duration(1<<r.Attempts) * time.Minute)
}
