package vapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/calls"
	"github.com/oakridgehealth/frontdesk/internal/insurance"
	"github.com/oakridgehealth/frontdesk/internal/observability/metrics"
	"github.com/oakridgehealth/frontdesk/internal/patients"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/refill"
	"github.com/oakridgehealth/frontdesk/internal/schedule"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/internal/voicemail"
	"github.com/oakridgehealth/frontdesk/internal/waitlist"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var vapiTracer = otel.Tracer("frontdesk.internal.vapi")

// toolTimeout bounds every tool invocation. The caller is on a live voice
// call; a hung tool must not hang the call.
const toolTimeout = 15 * time.Second

// PracticeDirectory supplies tenant records and appointment types.
type PracticeDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*practice.Practice, error)
	GetConfig(ctx context.Context, practiceID uuid.UUID) (*practice.Config, error)
	FindAppointmentTypeByName(ctx context.Context, practiceID uuid.UUID, name string) (*practice.AppointmentType, error)
	FirstActiveAppointmentType(ctx context.Context, practiceID uuid.UUID) (*practice.AppointmentType, error)
	ListAppointmentTypes(ctx context.Context, practiceID uuid.UUID) ([]practice.AppointmentType, error)
}

// PatientDirectory supplies and creates patient records.
type PatientDirectory interface {
	Get(ctx context.Context, practiceID, id uuid.UUID) (*patients.Patient, error)
	FindByName(ctx context.Context, practiceID uuid.UUID, first, last string, dob time.Time) (*patients.Patient, error)
	FindOrCreate(ctx context.Context, p *patients.Patient) (*patients.Patient, error)
	UpdatePhone(ctx context.Context, practiceID, id uuid.UUID, phone string) error
}

// CallDirectory links tool outcomes back to the live call record.
type CallDirectory interface {
	GetByExternalID(ctx context.Context, externalID string) (*calls.Call, error)
	SaveCallerInfo(ctx context.Context, externalID, callerName, callerPhone string, patientID *uuid.UUID) error
	LinkPatient(ctx context.Context, externalID string, patientID uuid.UUID) error
	LinkAppointment(ctx context.Context, externalID string, appointmentID uuid.UUID) error
}

// BookingEngine is the slice of the booking engine the tools drive.
type BookingEngine interface {
	Book(ctx context.Context, req booking.BookRequest) (*booking.Appointment, error)
	Cancel(ctx context.Context, practiceID, id uuid.UUID, reason string) (*booking.Appointment, int, error)
	Reschedule(ctx context.Context, practiceID, id uuid.UUID, newDate time.Time, newTime string, notes string) (*booking.Appointment, error)
	FindNextAvailable(ctx context.Context, practiceID uuid.UUID, typeID *uuid.UUID, fromDate time.Time, preferredTime string) (*booking.NextAvailable, error)
}

// AppointmentFinder locates a patient's upcoming appointment.
type AppointmentFinder interface {
	NextActiveForPatient(ctx context.Context, practiceID, patientID uuid.UUID, fromDate time.Time, exactDate *time.Time) (*booking.Appointment, error)
}

// DayResolver resolves working hours for a date.
type DayResolver interface {
	Resolve(ctx context.Context, practiceID uuid.UUID, date time.Time) (schedule.DaySchedule, error)
}

// WeeklyHoursSource lists the weekly template for the hours tool.
type WeeklyHoursSource interface {
	ListWeeklyTemplates(ctx context.Context, practiceID uuid.UUID) ([]schedule.WeeklyTemplate, error)
}

// WaitlistSink accepts waitlist signups.
type WaitlistSink interface {
	Add(ctx context.Context, req waitlist.AddRequest) (*waitlist.Entry, error)
}

// EligibilityChecker runs external insurance verification.
type EligibilityChecker interface {
	Configured() bool
	Check(ctx context.Context, req insurance.EligibilityRequest) (*insurance.EligibilityResult, error)
}

// VoicemailSink persists voicemails.
type VoicemailSink interface {
	Insert(ctx context.Context, v *voicemail.Voicemail) error
}

// RefillSink persists refill requests.
type RefillSink interface {
	Insert(ctx context.Context, r *refill.Request) error
}

// Runtime executes the tool functions exposed to the voice assistant.
type Runtime struct {
	practices    PracticeDirectory
	patients     PatientDirectory
	calls        CallDirectory
	bookings     BookingEngine
	appointments AppointmentFinder
	resolver     DayResolver
	hours        WeeklyHoursSource
	waitlist     WaitlistSink
	insurance    EligibilityChecker
	voicemails   VoicemailSink
	refills      RefillSink
	clock        timeclock.Clock
	logger       *logging.Logger
	metrics      *metrics.CallMetrics
}

// RuntimeConfig wires the runtime's collaborators.
type RuntimeConfig struct {
	Practices    PracticeDirectory
	Patients     PatientDirectory
	Calls        CallDirectory
	Bookings     BookingEngine
	Appointments AppointmentFinder
	Resolver     DayResolver
	Hours        WeeklyHoursSource
	Waitlist     WaitlistSink
	Insurance    EligibilityChecker
	Voicemails   VoicemailSink
	Refills      RefillSink
	Clock        timeclock.Clock
	Logger       *logging.Logger
	Metrics      *metrics.CallMetrics
}

// NewRuntime creates the tool runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Practices == nil {
		panic("vapi: practices required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeclock.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Runtime{
		practices:    cfg.Practices,
		patients:     cfg.Patients,
		calls:        cfg.Calls,
		bookings:     cfg.Bookings,
		appointments: cfg.Appointments,
		resolver:     cfg.Resolver,
		hours:        cfg.Hours,
		waitlist:     cfg.Waitlist,
		insurance:    cfg.Insurance,
		voicemails:   cfg.Voicemails,
		refills:      cfg.Refills,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// genericError is what the assistant hears when a tool fails. Internal
// error text never crosses this boundary.
func genericError(tool string) map[string]any {
	return map[string]any{"error": tool + " encountered an error. Please try again."}
}

// Invoke runs one named tool under the per-invocation deadline. It never
// returns an error: failures, timeouts and panics all collapse to the
// generic tool error.
func (r *Runtime) Invoke(ctx context.Context, practiceID uuid.UUID, name string, raw json.RawMessage, externalCallID string) map[string]any {
	ctx, span := vapiTracer.Start(ctx, "vapi.tool."+name)
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.practice_id", practiceID.String()))

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	start := time.Now()
	params, err := ParseParams(raw)
	if err != nil {
		r.logger.Warn("vapi: bad tool arguments", "tool", name, "error", err)
		r.metrics.ObserveTool(name, "bad_arguments", time.Since(start).Seconds())
		return genericError(name)
	}

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("vapi: tool panicked", "tool", name, "panic", fmt.Sprint(rec))
				done <- outcome{err: fmt.Errorf("vapi: tool %s panicked", name)}
			}
		}()
		res, err := r.dispatch(ctx, practiceID, name, params, externalCallID)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("vapi: tool timed out", "tool", name)
		span.RecordError(ctx.Err())
		r.metrics.ObserveTool(name, "timeout", time.Since(start).Seconds())
		return genericError(name)
	case out := <-done:
		if out.err != nil {
			r.logger.Warn("vapi: tool failed", "tool", name, "error", out.err)
			span.RecordError(out.err)
			r.metrics.ObserveTool(name, "error", time.Since(start).Seconds())
			return genericError(name)
		}
		r.metrics.ObserveTool(name, "ok", time.Since(start).Seconds())
		return out.result
	}
}

func (r *Runtime) dispatch(ctx context.Context, practiceID uuid.UUID, name string, params Params, externalCallID string) (map[string]any, error) {
	switch name {
	case "save_caller_info":
		return r.saveCallerInfo(ctx, practiceID, params, externalCallID)
	case "check_patient_exists":
		return r.checkPatientExists(ctx, practiceID, params, externalCallID)
	case "get_patient_details":
		return r.getPatientDetails(ctx, practiceID, params)
	case "check_availability":
		return r.checkAvailability(ctx, practiceID, params)
	case "book_appointment":
		return r.bookAppointment(ctx, practiceID, params, externalCallID)
	case "cancel_appointment":
		return r.cancelAppointment(ctx, practiceID, params)
	case "reschedule_appointment":
		return r.rescheduleAppointment(ctx, practiceID, params, externalCallID)
	case "verify_insurance":
		return r.verifyInsurance(ctx, practiceID, params)
	case "request_refill":
		return r.requestRefill(ctx, practiceID, params, externalCallID)
	case "transfer_to_staff":
		return r.transferToStaff(ctx, practiceID, params)
	case "check_office_hours":
		return r.checkOfficeHours(ctx, practiceID)
	case "leave_voicemail":
		return r.leaveVoicemail(ctx, practiceID, params, externalCallID)
	case "add_to_waitlist":
		return r.addToWaitlist(ctx, practiceID, params)
	default:
		return nil, fmt.Errorf("vapi: unknown tool %q", name)
	}
}

// callUUID resolves the internal call row for the live call, nil when the
// call is unknown.
func (r *Runtime) callUUID(ctx context.Context, externalCallID string) *uuid.UUID {
	if externalCallID == "" || r.calls == nil {
		return nil
	}
	call, err := r.calls.GetByExternalID(ctx, externalCallID)
	if err != nil {
		if !errors.Is(err, calls.ErrNotFound) {
			r.logger.Warn("vapi: call lookup failed", "external_call_id", externalCallID, "error", err)
		}
		return nil
	}
	return &call.ID
}

// dob parses the date-of-birth parameter. Birth dates are calendar values,
// parsed in UTC.
func dob(params Params) (time.Time, error) {
	raw := params.First("date_of_birth", "dob", "birth_date")
	if raw == "" {
		return time.Time{}, errors.New("vapi: date of birth required")
	}
	return timeclock.ParseDate(raw, time.UTC)
}

func callerName(params Params) (first, last string) {
	first = params.First("first_name", "firstName")
	last = params.First("last_name", "lastName")
	return first, last
}
