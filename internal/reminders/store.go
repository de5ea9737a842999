package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no reminder matches.
var ErrNotFound = errors.New("reminders: not found")

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists reminders.
type Store struct {
	db DB
}

// NewStore creates a reminder store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const reminderColumns = `id, practice_id, appointment_id, patient_id, phone,
	stage, body, status, scheduled_for, sent_at, attempts,
	COALESCE(external_message_id, ''), COALESCE(reply_body, ''),
	created_at, updated_at`

// Insert writes a reminder, reporting false when the (appointment,
// scheduled_for) uniqueness swallowed a duplicate.
func (s *Store) Insert(ctx context.Context, r *Reminder) (bool, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = StatusPending
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, practice_id, appointment_id, patient_id, phone,
			stage, body, status, scheduled_for, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (appointment_id, scheduled_for) DO NOTHING`,
		r.ID, r.PracticeID, r.AppointmentID, r.PatientID, r.Phone,
		r.Stage, r.Body, r.Status, r.ScheduledFor, r.Attempts, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("reminders: insert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListDue returns pending reminders ripe for delivery, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = 'pending' AND scheduled_for <= $1 AND attempts < $2
		ORDER BY scheduled_for
		LIMIT $3`, now, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list due: %w", err)
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders
		SET status = 'sent', sent_at = $2, external_message_id = $3, updated_at = now()
		WHERE id = $1`, id, at, externalID)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a permanent failure, bumping the attempt counter.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders
		SET status = 'failed', attempts = attempts + 1, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reminders: mark failed: %w", err)
	}
	return nil
}

// BumpAttempt counts a transient failure. Crossing the attempt cap flips
// the reminder to failed.
func (s *Store) BumpAttempt(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders
		SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE status END,
			updated_at = now()
		WHERE id = $1`, id, MaxAttempts)
	if err != nil {
		return fmt.Errorf("reminders: bump attempt: %w", err)
	}
	return nil
}

// Cancel marks one reminder cancelled.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'cancelled', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reminders: cancel: %w", err)
	}
	return nil
}

// CancelForAppointment cancels every pending reminder for an appointment,
// returning how many flipped.
func (s *Store) CancelForAppointment(ctx context.Context, practiceID, appointmentID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'cancelled', updated_at = now()
		WHERE practice_id = $1 AND appointment_id = $2 AND status = 'pending'`,
		practiceID, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel for appointment: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LatestSentForPhone finds the most recent delivered reminder for a phone
// number, for inbound reply routing.
func (s *Store) LatestSentForPhone(ctx context.Context, phone string) (*Reminder, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE phone = $1 AND status = 'sent'
		ORDER BY sent_at DESC
		LIMIT 1`, phone)
	return scanReminder(row)
}

// SaveReply stores the raw inbound reply on the matched reminder.
func (s *Store) SaveReply(ctx context.Context, id uuid.UUID, body string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders SET reply_body = $2, updated_at = now()
		WHERE id = $1`, id, body)
	if err != nil {
		return fmt.Errorf("reminders: save reply: %w", err)
	}
	return nil
}

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	err := row.Scan(&r.ID, &r.PracticeID, &r.AppointmentID, &r.PatientID, &r.Phone,
		&r.Stage, &r.Body, &r.Status, &r.ScheduledFor, &r.SentAt, &r.Attempts,
		&r.ExternalMessageID, &r.ReplyBody, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reminders: scan: %w", err)
	}
	return &r, nil
}

func scanReminderRows(rows pgx.Rows) (*Reminder, error) {
	var r Reminder
	err := rows.Scan(&r.ID, &r.PracticeID, &r.AppointmentID, &r.PatientID, &r.Phone,
		&r.Stage, &r.Body, &r.Status, &r.ScheduledFor, &r.SentAt, &r.Attempts,
		&r.ExternalMessageID, &r.ReplyBody, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("reminders: scan: %w", err)
	}
	return &r, nil
}
