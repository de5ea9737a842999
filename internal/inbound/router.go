// Package inbound routes patient SMS replies to reminder, waitlist and
// booking actions.
package inbound

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/observability/metrics"
	"github.com/oakridgehealth/frontdesk/internal/reminders"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var inboundTracer = otel.Tracer("frontdesk.internal.inbound")

// Action tags describing what a reply did.
const (
	ActionConfirmed      = "confirmed"
	ActionCancelled      = "cancelled"
	ActionRescheduleNote = "reschedule_requested"
	ActionUnrecognized   = "unrecognized"
	ActionWaitlist       = "waitlist"
	ActionFallback       = "fallback"
)

// Result is the routed outcome: the reply to text back and what happened.
type Result struct {
	Reply  string
	Action string
}

// ReminderSource finds the reminder a reply refers to.
type ReminderSource interface {
	LatestSentForPhone(ctx context.Context, phone string) (*reminders.Reminder, error)
	SaveReply(ctx context.Context, id uuid.UUID, body string) error
}

// BookingActions mutates appointments on behalf of replies.
type BookingActions interface {
	Confirm(ctx context.Context, practiceID, id uuid.UUID) (*booking.Appointment, error)
	Cancel(ctx context.Context, practiceID, id uuid.UUID, reason string) (*booking.Appointment, int, error)
}

// AppointmentSource reads and annotates appointments.
type AppointmentSource interface {
	Get(ctx context.Context, practiceID, id uuid.UUID) (*booking.Appointment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, practiceID, id uuid.UUID, status, notes string) error
}

// WaitlistReplies resolves live slot offers.
type WaitlistReplies interface {
	OnReply(ctx context.Context, phone, body string) (handled bool, reply string, err error)
}

// Router applies the reply policy: reminder replies first, then waitlist
// offers, then a generic fallback.
type Router struct {
	reminders ReminderSource
	bookings  BookingActions
	appts     AppointmentSource
	waitlist  WaitlistReplies
	logger    *logging.Logger
	metrics   *metrics.MessagingMetrics
}

// NewRouter wires the reply router.
func NewRouter(remindersSrc ReminderSource, bookings BookingActions, appts AppointmentSource, waitlistSrc WaitlistReplies, logger *logging.Logger, m *metrics.MessagingMetrics) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		reminders: remindersSrc,
		bookings:  bookings,
		appts:     appts,
		waitlist:  waitlistSrc,
		logger:    logger,
		metrics:   m,
	}
}

const fallbackReply = "Thanks for your message. Please call our office and we will be happy to help."

// Route handles one inbound SMS. Matching is case-insensitive and the raw
// reply is always stored on the matched record.
func (rt *Router) Route(ctx context.Context, phone, body string) (Result, error) {
	ctx, span := inboundTracer.Start(ctx, "inbound.route")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.sms.from", phone))

	res, err := rt.route(ctx, phone, body)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	rt.metrics.ObserveInboundSMS(res.Action)
	return res, nil
}

func (rt *Router) route(ctx context.Context, phone, body string) (Result, error) {
	reminder, err := rt.reminders.LatestSentForPhone(ctx, phone)
	if err != nil && !errors.Is(err, reminders.ErrNotFound) {
		return Result{}, err
	}
	if reminder != nil {
		return rt.handleReminderReply(ctx, reminder, body)
	}

	if rt.waitlist != nil {
		handled, reply, err := rt.waitlist.OnReply(ctx, phone, body)
		if err != nil {
			return Result{}, err
		}
		if handled {
			return Result{Reply: reply, Action: ActionWaitlist}, nil
		}
	}

	return Result{Reply: fallbackReply, Action: ActionFallback}, nil
}

func (rt *Router) handleReminderReply(ctx context.Context, reminder *reminders.Reminder, body string) (Result, error) {
	if err := rt.reminders.SaveReply(ctx, reminder.ID, body); err != nil {
		rt.logger.Error("inbound: save reply", "reminder_id", reminder.ID, "error", err)
	}

	keyword := strings.ToUpper(strings.TrimSpace(body))
	switch keyword {
	case "CONFIRM", "CONFIRMAR", "YES", "SI", "Y":
		return rt.confirm(ctx, reminder)
	case "CANCEL", "CANCELAR", "NO":
		return rt.cancel(ctx, reminder)
	case "RESCHEDULE", "REPROGRAMAR":
		return rt.annotateReschedule(ctx, reminder)
	default:
		return Result{
			Reply:  "Sorry, we didn't understand that. Reply CONFIRM, CANCEL, or RESCHEDULE.",
			Action: ActionUnrecognized,
		}, nil
	}
}

func (rt *Router) confirm(ctx context.Context, reminder *reminders.Reminder) (Result, error) {
	appt, err := rt.appts.Get(ctx, reminder.PracticeID, reminder.AppointmentID)
	if err != nil {
		return Result{}, err
	}
	switch appt.Status {
	case booking.StatusConfirmed:
		return Result{Reply: "Your appointment is already confirmed. See you then!", Action: ActionConfirmed}, nil
	case booking.StatusBooked:
		if _, err := rt.bookings.Confirm(ctx, reminder.PracticeID, reminder.AppointmentID); err != nil {
			return Result{}, err
		}
		return Result{Reply: "Thank you, your appointment is confirmed. See you then!", Action: ActionConfirmed}, nil
	default:
		return Result{Reply: fallbackReply, Action: ActionFallback}, nil
	}
}

func (rt *Router) cancel(ctx context.Context, reminder *reminders.Reminder) (Result, error) {
	_, _, err := rt.bookings.Cancel(ctx, reminder.PracticeID, reminder.AppointmentID, "patient replied by SMS")
	if err != nil {
		if booking.IsKind(err, booking.KindAlreadyCancelled) {
			return Result{Reply: "That appointment was already cancelled.", Action: ActionCancelled}, nil
		}
		return Result{}, err
	}
	return Result{
		Reply:  "Your appointment has been cancelled. Call us any time to rebook.",
		Action: ActionCancelled,
	}, nil
}

func (rt *Router) annotateReschedule(ctx context.Context, reminder *reminders.Reminder) (Result, error) {
	appt, err := rt.appts.Get(ctx, reminder.PracticeID, reminder.AppointmentID)
	if err != nil {
		return Result{}, err
	}
	err = rt.appts.UpdateStatus(ctx, nil, reminder.PracticeID, appt.ID, appt.Status,
		"Patient requested reschedule by SMS")
	if err != nil {
		return Result{}, err
	}
	return Result{
		Reply:  "Got it. Our staff will call you shortly to find a new time.",
		Action: ActionRescheduleNote,
	}, nil
}
