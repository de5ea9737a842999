package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakridgehealth/frontdesk/internal/patients"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/schedule"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var bookingTracer = otel.Tracer("frontdesk.internal.booking")

// PracticeDirectory supplies tenant records and configuration.
type PracticeDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*practice.Practice, error)
	GetConfig(ctx context.Context, practiceID uuid.UUID) (*practice.Config, error)
	GetAppointmentType(ctx context.Context, practiceID, typeID uuid.UUID) (*practice.AppointmentType, error)
}

// PatientDirectory supplies patient records.
type PatientDirectory interface {
	Get(ctx context.Context, practiceID, id uuid.UUID) (*patients.Patient, error)
	MarkEstablished(ctx context.Context, practiceID, id uuid.UUID) error
}

// DayResolver resolves working hours for a date.
type DayResolver interface {
	Resolve(ctx context.Context, practiceID uuid.UUID, date time.Time) (schedule.DaySchedule, error)
}

// SlotSource generates the bookable slot list for a date.
type SlotSource interface {
	Slots(ctx context.Context, cfg *practice.Config, apptType *practice.AppointmentType, date time.Time) ([]schedule.Slot, error)
}

// ReminderCascade schedules and cancels reminders for an appointment.
// Implemented by the reminders package; failures never roll back bookings.
type ReminderCascade interface {
	ScheduleForAppointment(ctx context.Context, appt *Appointment) (confirmationSent bool, err error)
	CancelForAppointment(ctx context.Context, practiceID, appointmentID uuid.UUID) (int64, error)
}

// WaitlistCascade reacts to a freed slot.
type WaitlistCascade interface {
	OnCancel(ctx context.Context, appt *Appointment) (notified int, err error)
}

// Engine is the booking state machine. All appointment mutations go through
// it or the staff status-update command.
type Engine struct {
	store     *Store
	practices PracticeDirectory
	patients  PatientDirectory
	resolver  DayResolver
	slots     SlotSource
	clock     timeclock.Clock
	reminders ReminderCascade
	waitlist  WaitlistCascade
	logger    *logging.Logger
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store     *Store
	Practices PracticeDirectory
	Patients  PatientDirectory
	Resolver  DayResolver
	Slots     SlotSource
	Clock     timeclock.Clock
	Reminders ReminderCascade
	Waitlist  WaitlistCascade
	Logger    *logging.Logger
}

// NewEngine creates a booking engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		panic("booking: store required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeclock.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Engine{
		store:     cfg.Store,
		practices: cfg.Practices,
		patients:  cfg.Patients,
		resolver:  cfg.Resolver,
		slots:     cfg.Slots,
		clock:     cfg.Clock,
		reminders: cfg.Reminders,
		waitlist:  cfg.Waitlist,
		logger:    cfg.Logger,
	}
}

// BookRequest describes one booking attempt.
type BookRequest struct {
	PracticeID        uuid.UUID
	PatientID         uuid.UUID
	AppointmentTypeID uuid.UUID
	Date              time.Time
	Time              string
	BookedBy          string
	CallID            *uuid.UUID
	Notes             string
	IdempotencyKey    string
}

// Book atomically occupies a slot. The availability check and the insert
// share a per-slot advisory lock, so concurrent attempts serialise and at
// most the configured cap succeeds.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("frontdesk.practice_id", req.PracticeID.String()),
		attribute.String("frontdesk.slot", req.Date.Format(time.DateOnly)+" "+req.Time),
	)

	cfg, apptType, err := e.validateSlotRequest(ctx, req.PracticeID, req.AppointmentTypeID, req.Date, req.Time)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := e.store.FindIdempotent(ctx, req.PracticeID, req.PatientID, req.Date, req.Time, req.CallID)
		if err == nil {
			e.logger.Info("booking: idempotent replay returned existing appointment",
				"appointment_id", existing.ID, "idempotency_key", req.IdempotencyKey)
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	appt := &Appointment{
		PracticeID:        req.PracticeID,
		PatientID:         req.PatientID,
		AppointmentTypeID: apptType.ID,
		Date:              req.Date,
		Time:              req.Time,
		DurationMinutes:   slotDuration(cfg, apptType),
		Status:            StatusBooked,
		Notes:             req.Notes,
		BookedBy:          req.BookedBy,
		CallID:            req.CallID,
	}

	if err := e.insertUnderLock(ctx, appt, cfg.SlotCap()); err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.afterBook(ctx, appt)
	e.logger.Info("booking: appointment booked",
		"appointment_id", appt.ID, "practice_id", appt.PracticeID,
		"date", appt.Date.Format(time.DateOnly), "time", appt.Time, "booked_by", appt.BookedBy)
	return appt, nil
}

// Cancel marks an appointment cancelled and cascades to reminders and the
// waitlist. Cascade failures are logged, never surfaced. Returns the
// cancelled appointment and how many waitlisted patients were offered the
// freed slot.
func (e *Engine) Cancel(ctx context.Context, practiceID, id uuid.UUID, reason string) (*Appointment, int, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()

	appt, err := e.store.Get(ctx, practiceID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, NewError(KindNotFound, "appointment %s", id)
		}
		return nil, 0, err
	}
	if appt.Status == StatusCancelled {
		return nil, 0, NewError(KindAlreadyCancelled, "appointment %s is already cancelled", id)
	}

	note := ""
	if reason != "" {
		note = "Cancelled: " + reason
	}
	if err := e.store.UpdateStatus(ctx, nil, practiceID, id, StatusCancelled, note); err != nil {
		span.RecordError(err)
		return nil, 0, err
	}
	appt.Status = StatusCancelled

	notified := e.afterCancel(ctx, appt)
	e.logger.Info("booking: appointment cancelled", "appointment_id", id, "reason", reason)
	return appt, notified, nil
}

// Reschedule moves an appointment as cancel+book in one transaction. If the
// target slot is unavailable neither side changes.
func (e *Engine) Reschedule(ctx context.Context, practiceID, id uuid.UUID, newDate time.Time, newTime string, notes string) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reschedule")
	defer span.End()

	old, err := e.store.Get(ctx, practiceID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewError(KindNotFound, "appointment %s", id)
		}
		return nil, err
	}
	if old.Status == StatusCancelled {
		return nil, NewError(KindCancelledSource, "appointment %s is cancelled", id)
	}

	cfg, apptType, err := e.validateSlotRequest(ctx, practiceID, old.AppointmentTypeID, newDate, newTime)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	next := &Appointment{
		PracticeID:        practiceID,
		PatientID:         old.PatientID,
		AppointmentTypeID: old.AppointmentTypeID,
		Date:              newDate,
		Time:              newTime,
		DurationMinutes:   slotDuration(cfg, apptType),
		Status:            StatusBooked,
		Notes:             notes,
		BookedBy:          old.BookedBy,
		CallID:            old.CallID,
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: begin reschedule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.store.LockSlot(ctx, tx, practiceID, newDate, newTime); err != nil {
		return nil, err
	}
	count, err := e.store.CountSlot(ctx, tx, practiceID, newDate, newTime)
	if err != nil {
		return nil, err
	}
	if count >= cfg.SlotCap() {
		return nil, NewError(KindConflictFull, "slot %s %s is full", newDate.Format(time.DateOnly), newTime)
	}
	if err := e.store.Insert(ctx, tx, next); err != nil {
		return nil, err
	}
	cancelNote := fmt.Sprintf("Rescheduled to %s %s", newDate.Format(time.DateOnly), newTime)
	if err := e.store.UpdateStatus(ctx, tx, practiceID, old.ID, StatusCancelled, cancelNote); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("booking: commit reschedule: %w", err)
	}

	e.afterReschedule(ctx, old, next)
	e.logger.Info("booking: appointment rescheduled",
		"old_appointment_id", old.ID, "new_appointment_id", next.ID,
		"date", newDate.Format(time.DateOnly), "time", newTime)
	return next, nil
}

// Confirm transitions booked → confirmed only.
func (e *Engine) Confirm(ctx context.Context, practiceID, id uuid.UUID) (*Appointment, error) {
	appt, err := e.store.Get(ctx, practiceID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewError(KindNotFound, "appointment %s", id)
		}
		return nil, err
	}
	if appt.Status != StatusBooked {
		return nil, NewError(KindBadTransition, "cannot confirm appointment in state %s", appt.Status)
	}
	if err := e.store.UpdateStatus(ctx, nil, practiceID, id, StatusConfirmed, ""); err != nil {
		return nil, err
	}
	appt.Status = StatusConfirmed
	return appt, nil
}

// Store exposes the underlying store for read paths (tools, admin).
func (e *Engine) Store() *Store { return e.store }

// validateSlotRequest checks the type, the date window and the generated
// slot list. Returns config and resolved type on success.
func (e *Engine) validateSlotRequest(ctx context.Context, practiceID, typeID uuid.UUID, date time.Time, hhmm string) (*practice.Config, *practice.AppointmentType, error) {
	cfg, err := e.practices.GetConfig(ctx, practiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("booking: load config: %w", err)
	}
	apptType, err := e.practices.GetAppointmentType(ctx, practiceID, typeID)
	if err != nil {
		if errors.Is(err, practice.ErrNotFound) {
			return nil, nil, NewError(KindNotFound, "appointment type %s", typeID)
		}
		return nil, nil, err
	}
	if !apptType.IsActive {
		return nil, nil, NewError(KindTypeInactive, "appointment type %q is inactive", apptType.Name)
	}

	prac, err := e.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("booking: load practice: %w", err)
	}
	loc := timeclock.Location(prac.Timezone)
	today := timeclock.TodayIn(e.clock, loc)
	if date.Before(today) {
		return nil, nil, NewError(KindValidation, "date %s is in the past", date.Format(time.DateOnly))
	}
	if date.After(today.AddDate(0, 0, cfg.BookingHorizonDays)) {
		return nil, nil, NewError(KindValidation, "date %s is beyond the %d day booking horizon",
			date.Format(time.DateOnly), cfg.BookingHorizonDays)
	}

	day, err := e.resolver.Resolve(ctx, practiceID, date)
	if err != nil {
		return nil, nil, err
	}
	if !day.Working {
		return nil, nil, NewError(KindValidation, "practice is closed on %s", date.Format(time.DateOnly))
	}

	slots, err := e.slots.Slots(ctx, cfg, apptType, date)
	if err != nil {
		return nil, nil, err
	}
	exists, available := schedule.HasTime(slots, hhmm)
	if !exists {
		return nil, nil, NewError(KindInvalidSlot, "%s is not a bookable time on %s", hhmm, date.Format(time.DateOnly))
	}
	if !available {
		return nil, nil, NewError(KindConflictFull, "slot %s %s is full", date.Format(time.DateOnly), hhmm)
	}
	return cfg, apptType, nil
}

// insertUnderLock re-checks the cap and inserts inside one transaction.
func (e *Engine) insertUnderLock(ctx context.Context, appt *Appointment, capacity int) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("booking: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.store.LockSlot(ctx, tx, appt.PracticeID, appt.Date, appt.Time); err != nil {
		return err
	}
	count, err := e.store.CountSlot(ctx, tx, appt.PracticeID, appt.Date, appt.Time)
	if err != nil {
		return err
	}
	if count >= capacity {
		return NewError(KindConflictFull, "slot %s %s is full", appt.Date.Format(time.DateOnly), appt.Time)
	}
	if err := e.store.Insert(ctx, tx, appt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("booking: commit: %w", err)
	}
	return nil
}

// afterBook runs post-commit side effects: new-patient flip, reminders and
// the confirmation SMS. Best-effort only.
func (e *Engine) afterBook(ctx context.Context, appt *Appointment) {
	if e.patients != nil {
		if err := e.patients.MarkEstablished(ctx, appt.PracticeID, appt.PatientID); err != nil {
			e.logger.Warn("booking: failed to flip is_new", "patient_id", appt.PatientID, "error", err)
		}
	}
	if e.reminders == nil {
		return
	}
	sent, err := e.reminders.ScheduleForAppointment(ctx, appt)
	if err != nil {
		e.logger.Warn("booking: reminder scheduling failed", "appointment_id", appt.ID, "error", err)
		return
	}
	if sent {
		appt.SMSConfirmationSent = true
		if err := e.store.MarkConfirmationSent(ctx, appt.PracticeID, appt.ID); err != nil {
			e.logger.Warn("booking: failed to record confirmation sent", "appointment_id", appt.ID, "error", err)
		}
	}
}

func (e *Engine) afterCancel(ctx context.Context, appt *Appointment) int {
	if e.reminders != nil {
		if n, err := e.reminders.CancelForAppointment(ctx, appt.PracticeID, appt.ID); err != nil {
			e.logger.Warn("booking: reminder cascade failed", "appointment_id", appt.ID, "error", err)
		} else if n > 0 {
			e.logger.Info("booking: reminders cancelled", "appointment_id", appt.ID, "count", n)
		}
	}
	if e.waitlist == nil {
		return 0
	}
	notified, err := e.waitlist.OnCancel(ctx, appt)
	if err != nil {
		e.logger.Warn("booking: waitlist cascade failed", "appointment_id", appt.ID, "error", err)
		return 0
	}
	if notified > 0 {
		e.logger.Info("booking: waitlist notified", "appointment_id", appt.ID, "count", notified)
	}
	return notified
}

func (e *Engine) afterReschedule(ctx context.Context, old, next *Appointment) {
	if e.reminders == nil {
		return
	}
	if _, err := e.reminders.CancelForAppointment(ctx, old.PracticeID, old.ID); err != nil {
		e.logger.Warn("booking: failed to cancel old reminders", "appointment_id", old.ID, "error", err)
	}
	sent, err := e.reminders.ScheduleForAppointment(ctx, next)
	if err != nil {
		e.logger.Warn("booking: failed to schedule new reminders", "appointment_id", next.ID, "error", err)
		return
	}
	if sent {
		next.SMSConfirmationSent = true
		if err := e.store.MarkConfirmationSent(ctx, next.PracticeID, next.ID); err != nil {
			e.logger.Warn("booking: failed to record confirmation sent", "appointment_id", next.ID, "error", err)
		}
	}
}

func slotDuration(cfg *practice.Config, apptType *practice.AppointmentType) int {
	if apptType != nil && apptType.DurationMinutes > 0 {
		return apptType.DurationMinutes
	}
	return cfg.SlotDurationMinutes
}
