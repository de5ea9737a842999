package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/observability/metrics"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/sms"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var waitlistTracer = otel.Tracer("frontdesk.internal.waitlist")

// defaultPriority is used when a signup omits priority or supplies one
// outside the 1..5 range the schema accepts.
const defaultPriority = 3

// MessageSender delivers one SMS.
type MessageSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SenderFor resolves the sender for one credential set.
type SenderFor func(creds sms.Credentials) MessageSender

// PracticeSource supplies tenant records and configuration.
type PracticeSource interface {
	Get(ctx context.Context, id uuid.UUID) (*practice.Practice, error)
	GetConfig(ctx context.Context, practiceID uuid.UUID) (*practice.Config, error)
}

// Engine runs the waitlist offer flow. Implements the booking engine's
// waitlist cascade.
type Engine struct {
	store       *Store
	practices   PracticeSource
	clock       timeclock.Clock
	senderFor   SenderFor
	globalCreds sms.Credentials
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
}

// NewEngine wires the waitlist engine.
func NewEngine(store *Store, practices PracticeSource, clock timeclock.Clock, senderFor SenderFor, globalCreds sms.Credentials, logger *logging.Logger, m *metrics.MessagingMetrics) *Engine {
	if clock == nil {
		clock = timeclock.SystemClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:       store,
		practices:   practices,
		clock:       clock,
		senderFor:   senderFor,
		globalCreds: globalCreds,
		logger:      logger,
		metrics:     m,
	}
}

// AddRequest is one waitlist signup.
type AddRequest struct {
	PracticeID         uuid.UUID
	PatientName        string
	Phone              string
	AppointmentTypeID  *uuid.UUID
	PreferredDateStart *time.Time
	PreferredDateEnd   *time.Time
	PreferredTimeStart *string
	PreferredTimeEnd   *string
	Priority           int
}

// Add creates a waiting entry.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*Entry, error) {
	if strings.TrimSpace(req.PatientName) == "" {
		return nil, errors.New("waitlist: patient name required")
	}
	phone := sms.NormalizeE164(req.Phone)
	if phone == "" {
		return nil, errors.New("waitlist: valid phone required")
	}
	if req.Priority < 1 || req.Priority > 5 {
		req.Priority = defaultPriority
	}
	entry := &Entry{
		PracticeID:         req.PracticeID,
		PatientName:        strings.TrimSpace(req.PatientName),
		Phone:              phone,
		AppointmentTypeID:  req.AppointmentTypeID,
		PreferredDateStart: req.PreferredDateStart,
		PreferredDateEnd:   req.PreferredDateEnd,
		PreferredTimeStart: req.PreferredTimeStart,
		PreferredTimeEnd:   req.PreferredTimeEnd,
		Priority:           req.Priority,
		Status:             StatusWaiting,
	}
	if err := e.store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	e.logger.Info("waitlist: entry added", "entry_id", entry.ID, "practice_id", entry.PracticeID)
	return entry, nil
}

// OnCancel offers a freed slot to the best matching waiting entries.
// Returns how many were notified.
func (e *Engine) OnCancel(ctx context.Context, appt *booking.Appointment) (int, error) {
	ctx, span := waitlistTracer.Start(ctx, "waitlist.on_cancel")
	defer span.End()

	entries, err := e.store.ListWaiting(ctx, appt.PracticeID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	prac, err := e.practices.Get(ctx, appt.PracticeID)
	if err != nil {
		return 0, fmt.Errorf("waitlist: load practice: %w", err)
	}
	cfg, err := e.practices.GetConfig(ctx, appt.PracticeID)
	if err != nil {
		return 0, fmt.Errorf("waitlist: load config: %w", err)
	}

	body := fmt.Sprintf(
		"Good news from %s: a %s slot on %s just opened up. Reply YES within 2 hours to claim it, or NO to pass.",
		prac.Name, timeclock.Format12Hour(appt.Time), appt.Date.Format("Monday, January 2"))

	now := e.clock.Now()
	notified := 0
	for i := range entries {
		if notified >= NotifyLimit {
			break
		}
		entry := &entries[i]
		if !entry.Matches(appt.AppointmentTypeID, appt.Date, appt.Time) {
			continue
		}
		if !e.sendOffer(ctx, cfg, entry, body) {
			e.metrics.ObserveWaitlistNotification("failed")
			continue
		}
		if err := e.store.MarkNotified(ctx, entry.ID, now, now.Add(OfferTTL)); err != nil {
			e.logger.Error("waitlist: mark notified", "entry_id", entry.ID, "error", err)
			continue
		}
		e.metrics.ObserveWaitlistNotification("sent")
		notified++
	}
	if notified > 0 {
		e.logger.Info("waitlist: slot offered", "appointment_id", appt.ID, "notified", notified)
	}
	return notified, nil
}

// OnReply resolves a live offer from an inbound SMS. Returns false when the
// phone has no live offer.
func (e *Engine) OnReply(ctx context.Context, phone, body string) (bool, string, error) {
	entry, err := e.store.LatestNotifiedForPhone(ctx, phone, e.clock.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}

	switch strings.ToUpper(strings.TrimSpace(body)) {
	case "YES", "SI", "Y":
		if err := e.store.Resolve(ctx, entry.ID, StatusBooked, body); err != nil {
			return true, "", err
		}
		e.logger.Info("waitlist: offer claimed", "entry_id", entry.ID)
		return true, "Great, the slot is yours. Our staff will confirm your appointment shortly.", nil
	case "NO":
		if err := e.store.Resolve(ctx, entry.ID, StatusCancelled, body); err != nil {
			return true, "", err
		}
		return true, "No problem, we have released the slot.", nil
	default:
		if err := e.store.SaveReplyOnly(ctx, entry.ID, body); err != nil {
			return true, "", err
		}
		return true, "Please reply YES to claim the opening or NO to pass.", nil
	}
}

// Expire sweeps lapsed offers and stale waiting entries.
func (e *Engine) Expire(ctx context.Context) {
	now := e.clock.Now()
	if n, err := e.store.ExpireOffers(ctx, now); err != nil {
		e.logger.Error("waitlist: expire offers", "error", err)
	} else if n > 0 {
		e.logger.Info("waitlist: offers expired", "count", n)
	}
	if n, err := e.store.ExpireStaleWaiting(ctx, now); err != nil {
		e.logger.Error("waitlist: expire stale waiting", "error", err)
	} else if n > 0 {
		e.logger.Info("waitlist: stale entries expired", "count", n)
	}
}

// Run sweeps on an interval until the context ends.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Expire(ctx)
		}
	}
}

func (e *Engine) sendOffer(ctx context.Context, cfg *practice.Config, entry *Entry, body string) bool {
	creds := e.globalCreds.Resolve(cfg)
	if !creds.Complete() || e.senderFor == nil {
		e.logger.Warn("waitlist: sms credentials missing", "entry_id", entry.ID)
		return false
	}
	if _, err := e.senderFor(creds).Send(ctx, entry.Phone, body); err != nil {
		e.logger.Warn("waitlist: offer send failed", "entry_id", entry.ID, "error", err)
		return false
	}
	return true
}
