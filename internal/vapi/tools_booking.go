package vapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/calls"
	"github.com/oakridgehealth/frontdesk/internal/patients"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
)

// checkAvailability finds the first day with open capacity and returns the
// slot list in both machine and spoken forms.
func (r *Runtime) checkAvailability(ctx context.Context, practiceID uuid.UUID, params Params) (map[string]any, error) {
	prac, err := r.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	cfg, err := r.practices.GetConfig(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	loc := timeclock.Location(prac.Timezone)
	today := timeclock.TodayIn(r.clock, loc)

	var fromDate time.Time
	if raw := params.First("date", "preferred_date"); raw != "" {
		d, err := timeclock.ParseDate(raw, loc)
		if err != nil {
			return map[string]any{
				"available": false,
				"message":   "I didn't catch that date. Could you give it as year, month and day?",
			}, nil
		}
		if d.Before(today) {
			return map[string]any{
				"available": false,
				"message":   "That date has already passed.",
			}, nil
		}
		if d.After(today.AddDate(0, 0, cfg.BookingHorizonDays)) {
			return map[string]any{
				"available": false,
				"message": fmt.Sprintf("We only book up to %d days out. Could you pick an earlier date?",
					cfg.BookingHorizonDays),
			}, nil
		}
		fromDate = d
	}

	apptType, err := r.resolveType(ctx, practiceID, params)
	if err != nil {
		return nil, err
	}
	var typeID *uuid.UUID
	if apptType != nil {
		typeID = &apptType.ID
	}

	preferred := params.First("preferred_time", "time")
	if preferred != "" {
		if t, err := timeclock.ParseClock(preferred); err == nil {
			preferred = t.Format("15:04")
		}
	}

	next, err := r.bookings.FindNextAvailable(ctx, practiceID, typeID, fromDate, preferred)
	if err != nil {
		if booking.IsKind(err, booking.KindNotFound) {
			return map[string]any{
				"available": false,
				"message":   "I don't see any openings in our booking window. Would you like to join the waitlist?",
			}, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var times []map[string]string
	for _, slot := range next.Slots {
		if !slot.Available || seen[slot.Time] {
			continue
		}
		seen[slot.Time] = true
		times = append(times, map[string]string{
			"time":    slot.Time,
			"display": timeclock.Format12Hour(slot.Time),
		})
	}

	result := map[string]any{
		"available":    true,
		"date":         next.Date.Format(time.DateOnly),
		"date_display": dateDisplay(next.Date, today),
		"today":        today.Format(time.DateOnly),
		"times":        times,
	}
	if next.BestTime != "" {
		result["best_time"] = next.BestTime
		result["best_time_display"] = timeclock.Format12Hour(next.BestTime)
	}
	if apptType != nil {
		result["appointment_type"] = apptType.Name
	}
	return result, nil
}

// bookAppointment finds or creates the patient, resolves the appointment
// type and books the slot. Reminders and the confirmation SMS cascade from
// the engine.
func (r *Runtime) bookAppointment(ctx context.Context, practiceID uuid.UUID, params Params, externalCallID string) (map[string]any, error) {
	prac, err := r.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	loc := timeclock.Location(prac.Timezone)

	date, err := params.Date("date", loc)
	if err != nil {
		return map[string]any{"success": false, "message": "I need the appointment date to book."}, nil
	}
	hhmm, err := params.Clock("time")
	if err != nil {
		return map[string]any{"success": false, "message": "I need the appointment time to book."}, nil
	}

	apptType, err := r.resolveType(ctx, practiceID, params)
	if err != nil {
		return nil, err
	}
	if apptType == nil {
		return map[string]any{"success": false, "message": "We don't have any bookable appointment types set up."}, nil
	}

	patient, err := r.findOrCreatePatient(ctx, practiceID, params)
	if err != nil {
		return map[string]any{
			"success": false,
			"message": "I need the patient's full name and date of birth to book.",
		}, nil
	}

	callID := r.callUUID(ctx, externalCallID)
	appt, err := r.bookings.Book(ctx, booking.BookRequest{
		PracticeID:        practiceID,
		PatientID:         patient.ID,
		AppointmentTypeID: apptType.ID,
		Date:              date,
		Time:              hhmm,
		BookedBy:          booking.BookedByAI,
		CallID:            callID,
		Notes:             params.First("notes", "reason"),
		IdempotencyKey:    externalCallID,
	})
	if err != nil {
		if msg, ok := bookingFailure(err); ok {
			return map[string]any{"success": false, "message": msg}, nil
		}
		return nil, err
	}

	r.linkCall(ctx, externalCallID, &patient.ID, &appt.ID)

	today := timeclock.TodayIn(r.clock, loc)
	return map[string]any{
		"success":           true,
		"appointment_id":    appt.ID.String(),
		"patient_id":        patient.ID.String(),
		"appointment_type":  apptType.Name,
		"date":              appt.Date.Format(time.DateOnly),
		"time":              appt.Time,
		"time_display":      timeclock.Format12Hour(appt.Time),
		"confirmation_sent": appt.SMSConfirmationSent,
		"message": fmt.Sprintf("You're booked for %s on %s at %s.",
			apptType.Name, dateDisplay(appt.Date, today), timeclock.Format12Hour(appt.Time)),
	}, nil
}

// cancelAppointment cancels the patient's next upcoming appointment,
// optionally pinned to a specific date.
func (r *Runtime) cancelAppointment(ctx context.Context, practiceID uuid.UUID, params Params) (map[string]any, error) {
	patient, appt, failure, err := r.locateAppointment(ctx, practiceID, params)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}

	cancelled, notified, err := r.bookings.Cancel(ctx, practiceID, appt.ID, params.First("reason"))
	if err != nil {
		if booking.IsKind(err, booking.KindAlreadyCancelled) {
			return map[string]any{"success": true, "message": "That appointment was already cancelled."}, nil
		}
		return nil, err
	}

	r.logger.Info("vapi: appointment cancelled by phone",
		"appointment_id", cancelled.ID, "patient_id", patient.ID, "waitlist_notified", notified)
	return map[string]any{
		"success":           true,
		"appointment_id":    cancelled.ID.String(),
		"date":              cancelled.Date.Format(time.DateOnly),
		"time":              cancelled.Time,
		"waitlist_notified": notified,
		"message": fmt.Sprintf("Your appointment on %s at %s is cancelled.",
			cancelled.Date.Format("Monday, January 2"), timeclock.Format12Hour(cancelled.Time)),
	}, nil
}

// rescheduleAppointment moves the patient's upcoming appointment to a new
// slot in one transaction.
func (r *Runtime) rescheduleAppointment(ctx context.Context, practiceID uuid.UUID, params Params, externalCallID string) (map[string]any, error) {
	prac, err := r.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	loc := timeclock.Location(prac.Timezone)

	newDate, err := params.Date("new_date", loc)
	if err != nil {
		if newDate, err = params.Date("date", loc); err != nil {
			return map[string]any{"success": false, "message": "I need the new date to reschedule."}, nil
		}
	}
	newTime, err := params.Clock("new_time")
	if err != nil {
		if newTime, err = params.Clock("time"); err != nil {
			return map[string]any{"success": false, "message": "I need the new time to reschedule."}, nil
		}
	}

	patient, appt, failure, err := r.locateAppointment(ctx, practiceID, params)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}

	next, err := r.bookings.Reschedule(ctx, practiceID, appt.ID, newDate, newTime, "Rescheduled by phone")
	if err != nil {
		if msg, ok := bookingFailure(err); ok {
			return map[string]any{"success": false, "message": msg}, nil
		}
		return nil, err
	}

	r.linkCall(ctx, externalCallID, &patient.ID, &next.ID)

	today := timeclock.TodayIn(r.clock, loc)
	return map[string]any{
		"success":        true,
		"appointment_id": next.ID.String(),
		"date":           next.Date.Format(time.DateOnly),
		"time":           next.Time,
		"message": fmt.Sprintf("You're rescheduled to %s at %s.",
			dateDisplay(next.Date, today), timeclock.Format12Hour(next.Time)),
	}, nil
}

// resolveType fuzzy-matches the requested appointment type, falling back to
// the first active type. Returns nil when the practice has no active types.
func (r *Runtime) resolveType(ctx context.Context, practiceID uuid.UUID, params Params) (*practice.AppointmentType, error) {
	name := params.First("appointment_type", "type", "service")
	var (
		t   *practice.AppointmentType
		err error
	)
	if name != "" {
		t, err = r.practices.FindAppointmentTypeByName(ctx, practiceID, name)
	} else {
		t, err = r.practices.FirstActiveAppointmentType(ctx, practiceID)
	}
	if err != nil {
		if errors.Is(err, practice.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// locateAppointment resolves the caller to a patient and their next active
// appointment. A non-nil failure map is a caller-facing miss, not an error.
func (r *Runtime) locateAppointment(ctx context.Context, practiceID uuid.UUID, params Params) (*patients.Patient, *booking.Appointment, map[string]any, error) {
	first, last := callerName(params)
	if first == "" || last == "" {
		return nil, nil, map[string]any{
			"success": false,
			"message": "I need the patient's first and last name.",
		}, nil
	}
	birth, err := dob(params)
	if err != nil {
		return nil, nil, map[string]any{
			"success": false,
			"message": "I need the patient's date of birth.",
		}, nil
	}

	patient, err := r.patients.FindByName(ctx, practiceID, first, last, birth)
	if err != nil {
		if errors.Is(err, patients.ErrNotFound) {
			return nil, nil, map[string]any{
				"success": false,
				"message": "I couldn't find a patient with that name and date of birth.",
			}, nil
		}
		return nil, nil, nil, err
	}

	prac, err := r.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, nil, nil, err
	}
	loc := timeclock.Location(prac.Timezone)
	today := timeclock.TodayIn(r.clock, loc)

	var exactDate *time.Time
	if raw := params.First("date", "appointment_date", "current_date"); raw != "" {
		if d, err := timeclock.ParseDate(raw, loc); err == nil {
			exactDate = &d
		}
	}

	appt, err := r.appointments.NextActiveForPatient(ctx, practiceID, patient.ID, today, exactDate)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return nil, nil, map[string]any{
				"success": false,
				"message": "I don't see an upcoming appointment for you.",
			}, nil
		}
		return nil, nil, nil, err
	}
	return patient, appt, nil, nil
}

// linkCall attaches patient and appointment to the live call, best effort.
func (r *Runtime) linkCall(ctx context.Context, externalCallID string, patientID, appointmentID *uuid.UUID) {
	if externalCallID == "" || r.calls == nil {
		return
	}
	if patientID != nil {
		if err := r.calls.LinkPatient(ctx, externalCallID, *patientID); err != nil && !errors.Is(err, calls.ErrNotFound) {
			r.logger.Warn("vapi: link patient failed", "external_call_id", externalCallID, "error", err)
		}
	}
	if appointmentID != nil {
		if err := r.calls.LinkAppointment(ctx, externalCallID, *appointmentID); err != nil && !errors.Is(err, calls.ErrNotFound) {
			r.logger.Warn("vapi: link appointment failed", "external_call_id", externalCallID, "error", err)
		}
	}
}

// bookingFailure maps booking domain errors to caller-facing messages.
func bookingFailure(err error) (string, bool) {
	switch booking.KindOf(err) {
	case booking.KindConflictFull:
		return "That time slot just filled up. Would another time work?", true
	case booking.KindInvalidSlot:
		return "That time isn't on our schedule for that day. Would you like to hear the open times?", true
	case booking.KindValidation:
		return "We can't book that date. Could you pick another day?", true
	case booking.KindTypeInactive, booking.KindNotFound:
		return "That appointment type isn't available right now.", true
	case booking.KindCancelledSource:
		return "That appointment was cancelled, so there's nothing to move. Would you like to book a new one?", true
	default:
		return "", false
	}
}

// dateDisplay renders a date relative to today in the practice timezone.
func dateDisplay(date, today time.Time) string {
	switch {
	case date.Equal(today):
		return "Today"
	case date.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return date.Format("Monday, January 2")
	}
}
