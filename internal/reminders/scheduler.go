package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/patients"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/sms"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var remindersTracer = otel.Tracer("frontdesk.internal.reminders")

// MessageSender delivers one SMS and returns the provider message id.
type MessageSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SenderFor resolves the sender for one credential set. Wired to the SMS
// client cache in production.
type SenderFor func(creds sms.Credentials) MessageSender

// PracticeSource supplies tenant records and configuration.
type PracticeSource interface {
	Get(ctx context.Context, id uuid.UUID) (*practice.Practice, error)
	GetConfig(ctx context.Context, practiceID uuid.UUID) (*practice.Config, error)
}

// PatientSource supplies patient records.
type PatientSource interface {
	Get(ctx context.Context, practiceID, id uuid.UUID) (*patients.Patient, error)
}

// Scheduler creates reminder rows for appointments and attempts the
// immediate confirmation send. Implements the booking engine's reminder
// cascade.
type Scheduler struct {
	store       *Store
	practices   PracticeSource
	patients    PatientSource
	clock       timeclock.Clock
	senderFor   SenderFor
	globalCreds sms.Credentials
	logger      *logging.Logger
}

// NewScheduler wires a scheduler.
func NewScheduler(store *Store, practices PracticeSource, patientsSrc PatientSource, clock timeclock.Clock, senderFor SenderFor, globalCreds sms.Credentials, logger *logging.Logger) *Scheduler {
	if clock == nil {
		clock = timeclock.SystemClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		store:       store,
		practices:   practices,
		patients:    patientsSrc,
		clock:       clock,
		senderFor:   senderFor,
		globalCreds: globalCreds,
		logger:      logger,
	}
}

// ScheduleForAppointment creates the confirmation, T-24h and T-2h reminders.
// Stages already in the past are skipped; the confirmation is always due now
// and gets one immediate delivery attempt. Returns whether that attempt
// succeeded.
func (s *Scheduler) ScheduleForAppointment(ctx context.Context, appt *booking.Appointment) (bool, error) {
	ctx, span := remindersTracer.Start(ctx, "reminders.schedule")
	defer span.End()

	prac, cfg, pat, err := s.loadContext(ctx, appt.PracticeID, appt.PatientID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	phone := sms.NormalizeE164(pat.Phone)
	if phone == "" {
		s.logger.Warn("reminders: patient has no usable phone, skipping",
			"appointment_id", appt.ID, "patient_id", pat.ID)
		return false, nil
	}

	loc := timeclock.Location(prac.Timezone)
	instant, err := timeclock.At(appt.Date, appt.Time, loc)
	if err != nil {
		return false, fmt.Errorf("reminders: appointment instant: %w", err)
	}
	body := s.renderBody(cfg, prac, pat, appt, false)
	now := s.clock.Now()

	var confirmation *Reminder
	for _, stage := range []struct {
		name string
		at   time.Time
	}{
		{StageConfirmation, now},
		{Stage24Hour, instant.Add(-24 * time.Hour).UTC()},
		{Stage2Hour, instant.Add(-2 * time.Hour).UTC()},
	} {
		if stage.name != StageConfirmation && !stage.at.After(now) {
			continue
		}
		r := &Reminder{
			PracticeID:    appt.PracticeID,
			AppointmentID: appt.ID,
			PatientID:     pat.ID,
			Phone:         phone,
			Stage:         stage.name,
			Body:          body,
			ScheduledFor:  stage.at,
		}
		inserted, err := s.store.Insert(ctx, r)
		if err != nil {
			return false, err
		}
		if inserted && stage.name == StageConfirmation {
			confirmation = r
		}
	}

	if confirmation == nil {
		return false, nil
	}
	return s.trySendNow(ctx, cfg, confirmation), nil
}

// CancelForAppointment flips every pending reminder for the appointment.
func (s *Scheduler) CancelForAppointment(ctx context.Context, practiceID, appointmentID uuid.UUID) (int64, error) {
	return s.store.CancelForAppointment(ctx, practiceID, appointmentID)
}

// ScheduleNoShow inserts and immediately attempts a no-show follow-up.
func (s *Scheduler) ScheduleNoShow(ctx context.Context, appt *booking.Appointment) error {
	prac, cfg, pat, err := s.loadContext(ctx, appt.PracticeID, appt.PatientID)
	if err != nil {
		return err
	}
	phone := sms.NormalizeE164(pat.Phone)
	if phone == "" {
		return nil
	}
	r := &Reminder{
		PracticeID:    appt.PracticeID,
		AppointmentID: appt.ID,
		PatientID:     pat.ID,
		Phone:         phone,
		Stage:         StageNoShow,
		Body:          s.renderBody(cfg, prac, pat, appt, true),
		ScheduledFor:  s.clock.Now(),
	}
	inserted, err := s.store.Insert(ctx, r)
	if err != nil || !inserted {
		return err
	}
	s.trySendNow(ctx, cfg, r)
	return nil
}

func (s *Scheduler) loadContext(ctx context.Context, practiceID, patientID uuid.UUID) (*practice.Practice, *practice.Config, *patients.Patient, error) {
	prac, err := s.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reminders: load practice: %w", err)
	}
	cfg, err := s.practices.GetConfig(ctx, practiceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reminders: load config: %w", err)
	}
	pat, err := s.patients.Get(ctx, practiceID, patientID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reminders: load patient: %w", err)
	}
	return prac, cfg, pat, nil
}

// MaxBodyLen caps stored reminder bodies; a runaway practice template must
// not balloon the reminders table or the SMS payload.
const MaxBodyLen = 2000

func (s *Scheduler) renderBody(cfg *practice.Config, prac *practice.Practice, pat *patients.Patient, appt *booking.Appointment, noShow bool) string {
	lang := pat.LanguagePreference
	if lang == "" {
		lang = "en"
	}
	templates := cfg.SMSTemplates
	if noShow {
		templates = cfg.NoShowTemplates
	}
	body := Render(PickTemplate(templates, lang, noShow), map[string]string{
		"patient_name":  pat.FullName(),
		"practice_name": prac.Name,
		"date":          appt.Date.Format("Monday, January 2"),
		"time":          timeclock.Format12Hour(appt.Time),
		"phone":         prac.Phone,
	})
	if len(body) > MaxBodyLen {
		body = body[:MaxBodyLen]
	}
	return body
}

// trySendNow is the best-effort immediate delivery. Failures stay pending
// for the ticker.
func (s *Scheduler) trySendNow(ctx context.Context, cfg *practice.Config, r *Reminder) bool {
	creds := s.globalCreds.Resolve(cfg)
	if !creds.Complete() || s.senderFor == nil {
		s.logger.Warn("reminders: sms credentials missing, leaving pending", "reminder_id", r.ID)
		return false
	}
	sid, err := s.senderFor(creds).Send(ctx, r.Phone, r.Body)
	if err != nil {
		s.logger.Warn("reminders: immediate send failed, ticker will retry",
			"reminder_id", r.ID, "error", err)
		if sms.IsPermanent(err) {
			if ferr := s.store.MarkFailed(ctx, r.ID); ferr != nil {
				s.logger.Error("reminders: mark failed", "reminder_id", r.ID, "error", ferr)
			}
		}
		return false
	}
	if err := s.store.MarkSent(ctx, r.ID, sid, s.clock.Now()); err != nil {
		s.logger.Error("reminders: mark sent", "reminder_id", r.ID, "error", err)
	}
	return true
}
