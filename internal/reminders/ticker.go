package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/observability/metrics"
	"github.com/oakridgehealth/frontdesk/internal/sms"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

// noShowGrace is how long past the slot a no-show waits before follow-up.
const noShowGrace = 30 * time.Minute

// AppointmentSource reads appointment state for delivery-time rechecks and
// the no-show sweep. Satisfied by the booking store.
type AppointmentSource interface {
	Get(ctx context.Context, practiceID, id uuid.UUID) (*booking.Appointment, error)
	ListRecentNoShows(ctx context.Context, cutoff time.Time, limit int) ([]booking.Appointment, error)
}

// Ticker is the singleton send loop. One pass drains due reminders and
// sweeps fresh no-shows.
type Ticker struct {
	store       *Store
	appts       AppointmentSource
	practices   PracticeSource
	scheduler   *Scheduler
	clock       timeclock.Clock
	senderFor   SenderFor
	globalCreds sms.Credentials
	interval    time.Duration
	batchSize   int
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
}

// NewTicker wires the send loop.
func NewTicker(store *Store, appts AppointmentSource, practices PracticeSource, scheduler *Scheduler, clock timeclock.Clock, senderFor SenderFor, globalCreds sms.Credentials, interval time.Duration, batchSize int, logger *logging.Logger, m *metrics.MessagingMetrics) *Ticker {
	if clock == nil {
		clock = timeclock.SystemClock{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ticker{
		store:       store,
		appts:       appts,
		practices:   practices,
		scheduler:   scheduler,
		clock:       clock,
		senderFor:   senderFor,
		globalCreds: globalCreds,
		interval:    interval,
		batchSize:   batchSize,
		logger:      logger,
		metrics:     m,
	}
}

// Run loops until the context ends.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, failed := t.Tick(ctx)
			if sent+failed > 0 {
				t.logger.Info("reminders: tick complete", "sent", sent, "failed", failed)
			}
			t.SweepNoShows(ctx)
		}
	}
}

// Tick delivers one batch of due reminders. Each reminder commits its own
// outcome, so one failure never re-sends its batch-mates.
func (t *Ticker) Tick(ctx context.Context) (sent, failed int) {
	now := t.clock.Now()
	due, err := t.store.ListDue(ctx, now, t.batchSize)
	if err != nil {
		t.logger.Error("reminders: list due", "error", err)
		return 0, 0
	}

	for i := range due {
		r := &due[i]
		switch t.deliver(ctx, r, now) {
		case deliverySent:
			sent++
			t.metrics.ObserveReminder(r.Stage, "sent")
		case deliveryFailed:
			failed++
			t.metrics.ObserveReminder(r.Stage, "failed")
		}
	}
	return sent, failed
}

type deliveryOutcome int

const (
	deliverySkipped deliveryOutcome = iota
	deliverySent
	deliveryFailed
)

func (t *Ticker) deliver(ctx context.Context, r *Reminder, now time.Time) deliveryOutcome {
	appt, err := t.appts.Get(ctx, r.PracticeID, r.AppointmentID)
	if err != nil {
		t.logger.Error("reminders: load appointment", "reminder_id", r.ID, "error", err)
		return deliverySkipped
	}
	if appt.Status == booking.StatusCancelled || appt.Status == booking.StatusNoShow {
		if err := t.store.Cancel(ctx, r.ID); err != nil {
			t.logger.Error("reminders: cancel stale reminder", "reminder_id", r.ID, "error", err)
		}
		return deliverySkipped
	}
	if r.Attempts > 0 && now.Before(r.RetryReadyAt()) {
		return deliverySkipped
	}

	cfg, err := t.practices.GetConfig(ctx, r.PracticeID)
	if err != nil {
		t.logger.Error("reminders: load config", "reminder_id", r.ID, "error", err)
		return deliverySkipped
	}
	creds := t.globalCreds.Resolve(cfg)
	if !creds.Complete() {
		t.logger.Warn("reminders: sms credentials missing", "reminder_id", r.ID, "practice_id", r.PracticeID)
		if err := t.store.MarkFailed(ctx, r.ID); err != nil {
			t.logger.Error("reminders: mark failed", "reminder_id", r.ID, "error", err)
		}
		return deliveryFailed
	}

	sid, err := t.senderFor(creds).Send(ctx, r.Phone, r.Body)
	if err != nil {
		if sms.IsPermanent(err) {
			t.logger.Warn("reminders: permanent provider failure", "reminder_id", r.ID, "error", err)
			if ferr := t.store.MarkFailed(ctx, r.ID); ferr != nil {
				t.logger.Error("reminders: mark failed", "reminder_id", r.ID, "error", ferr)
			}
			return deliveryFailed
		}
		t.logger.Warn("reminders: transient send failure", "reminder_id", r.ID,
			"attempts", r.Attempts+1, "error", err)
		if berr := t.store.BumpAttempt(ctx, r.ID); berr != nil {
			t.logger.Error("reminders: bump attempt", "reminder_id", r.ID, "error", berr)
		}
		if r.Attempts+1 >= MaxAttempts {
			return deliveryFailed
		}
		return deliverySkipped
	}

	if err := t.store.MarkSent(ctx, r.ID, sid, now); err != nil {
		t.logger.Error("reminders: mark sent", "reminder_id", r.ID, "error", err)
	}
	return deliverySent
}

// SweepNoShows inserts follow-ups for no-show appointments past the grace
// period that have none yet.
func (t *Ticker) SweepNoShows(ctx context.Context) {
	if t.scheduler == nil {
		return
	}
	cutoff := t.clock.Now().Add(-noShowGrace)
	appts, err := t.appts.ListRecentNoShows(ctx, cutoff, t.batchSize)
	if err != nil {
		t.logger.Error("reminders: list no-shows", "error", err)
		return
	}
	for i := range appts {
		if err := t.scheduler.ScheduleNoShow(ctx, &appts[i]); err != nil {
			t.logger.Error("reminders: schedule no-show follow-up",
				"appointment_id", appts[i].ID, "error", err)
		}
	}
}
