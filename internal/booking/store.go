package booking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no appointment matches.
var ErrNotFound = errors.New("booking: appointment not found")

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is the read/write subset shared by the pool and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists appointments.
type Store struct {
	db DB
}

// NewStore creates a booking store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Begin opens a transaction for the engine's atomic units.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.Begin(ctx)
}

const apptColumns = `id, practice_id, patient_id, appointment_type_id, date,
	time, duration_minutes, status, COALESCE(notes, ''), booked_by, call_id,
	sms_confirmation_sent, created_at, updated_at`

// CountByTime aggregates non-cancelled appointment counts grouped by time
// for one (practice, date). Implements schedule.BookingCounter.
func (s *Store) CountByTime(ctx context.Context, practiceID uuid.UUID, date time.Time) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time, COUNT(*)
		FROM appointments
		WHERE practice_id = $1 AND date = $2 AND status <> 'cancelled'
		GROUP BY time`, practiceID, date.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("booking: count by time: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var hhmm string
		var n int
		if err := rows.Scan(&hhmm, &n); err != nil {
			return nil, fmt.Errorf("booking: scan slot count: %w", err)
		}
		counts[hhmm] = n
	}
	return counts, rows.Err()
}

// LockSlot takes a transaction-scoped advisory lock serialising all bookings
// for one (practice, date, time). Released automatically at commit/rollback.
func (s *Store) LockSlot(ctx context.Context, tx pgx.Tx, practiceID uuid.UUID, date time.Time, hhmm string) error {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", practiceID, date.Format(time.DateOnly), hhmm)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64())); err != nil {
		return fmt.Errorf("booking: lock slot: %w", err)
	}
	return nil
}

// CountSlot returns the non-cancelled count for one exact slot, inside tx.
func (s *Store) CountSlot(ctx context.Context, tx pgx.Tx, practiceID uuid.UUID, date time.Time, hhmm string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE practice_id = $1 AND date = $2 AND time = $3 AND status <> 'cancelled'`,
		practiceID, date.Format(time.DateOnly), hhmm).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("booking: count slot: %w", err)
	}
	return n, nil
}

// Insert writes a new appointment row inside tx.
func (s *Store) Insert(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusBooked
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, practice_id, patient_id, appointment_type_id,
			date, time, duration_minutes, status, notes, booked_by, call_id,
			sms_confirmation_sent, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.PracticeID, a.PatientID, a.AppointmentTypeID,
		a.Date.Format(time.DateOnly), a.Time, a.DurationMinutes, a.Status, a.Notes,
		a.BookedBy, a.CallID, a.SMSConfirmationSent, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("booking: insert: %w", err)
	}
	return nil
}

// Get loads one appointment scoped to a practice.
func (s *Store) Get(ctx context.Context, practiceID, id uuid.UUID) (*Appointment, error) {
	return s.get(ctx, s.db, practiceID, id)
}

// GetTx loads one appointment inside a transaction.
func (s *Store) GetTx(ctx context.Context, tx pgx.Tx, practiceID, id uuid.UUID) (*Appointment, error) {
	return s.get(ctx, tx, practiceID, id)
}

func (s *Store) get(ctx context.Context, q querier, practiceID, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments WHERE practice_id = $1 AND id = $2`, practiceID, id)
	return scanAppointment(row)
}

// FindIdempotent returns a non-terminal appointment matching the identity of
// a repeated voice booking, or ErrNotFound.
func (s *Store) FindIdempotent(ctx context.Context, practiceID, patientID uuid.UUID, date time.Time, hhmm string, callID *uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE practice_id = $1 AND patient_id = $2 AND date = $3 AND time = $4
			AND ($5::uuid IS NULL OR call_id = $5)
			AND status IN ('booked', 'confirmed')
		ORDER BY created_at DESC
		LIMIT 1`, practiceID, patientID, date.Format(time.DateOnly), hhmm, callID)
	return scanAppointment(row)
}

// UpdateStatus transitions an appointment, optionally appending to notes.
// Runs inside tx when one is supplied.
func (s *Store) UpdateStatus(ctx context.Context, tx pgx.Tx, practiceID, id uuid.UUID, status string, notes string) error {
	var q querier = s.db
	if tx != nil {
		q = tx
	}
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			notes = CASE WHEN $4 = '' THEN notes ELSE trim(both E'\n' from COALESCE(notes, '') || E'\n' || $4) END,
			updated_at = now()
		WHERE practice_id = $1 AND id = $2`, practiceID, id, status, notes)
	if err != nil {
		return fmt.Errorf("booking: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConfirmationSent records that the confirmation SMS went out.
func (s *Store) MarkConfirmationSent(ctx context.Context, practiceID, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointments SET sms_confirmation_sent = TRUE, updated_at = now()
		WHERE practice_id = $1 AND id = $2`, practiceID, id)
	if err != nil {
		return fmt.Errorf("booking: mark confirmation sent: %w", err)
	}
	return nil
}

// NextActiveForPatient finds the patient's next non-cancelled appointment on
// or after fromDate, optionally pinned to an exact date.
func (s *Store) NextActiveForPatient(ctx context.Context, practiceID, patientID uuid.UUID, fromDate time.Time, exactDate *time.Time) (*Appointment, error) {
	var row pgx.Row
	if exactDate != nil {
		row = s.db.QueryRow(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			WHERE practice_id = $1 AND patient_id = $2 AND date = $3
				AND status IN ('booked', 'confirmed')
			ORDER BY time
			LIMIT 1`, practiceID, patientID, exactDate.Format(time.DateOnly))
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			WHERE practice_id = $1 AND patient_id = $2 AND date >= $3
				AND status IN ('booked', 'confirmed')
			ORDER BY date, time
			LIMIT 1`, practiceID, patientID, fromDate.Format(time.DateOnly))
	}
	return scanAppointment(row)
}

// ListForDate returns all appointments for a practice on one date.
func (s *Store) ListForDate(ctx context.Context, practiceID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE practice_id = $1 AND date = $2
		ORDER BY time, created_at`, practiceID, date.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("booking: list for date: %w", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointmentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListRecentNoShows finds no-show appointments whose slot passed more than
// the grace period ago, for the follow-up sweep. Slot times are practice-local
// wall clock, so each is converted through its practice timezone before
// comparing against the UTC cutoff.
func (s *Store) ListRecentNoShows(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.practice_id, a.patient_id, a.appointment_type_id, a.date,
			a.time, a.duration_minutes, a.status, COALESCE(a.notes, ''), a.booked_by,
			a.call_id, a.sms_confirmation_sent, a.created_at, a.updated_at
		FROM appointments a
		JOIN practices p ON p.id = a.practice_id
		WHERE a.status = 'no_show'
			AND ((a.date::timestamp + a.time::time) AT TIME ZONE p.timezone) <= $1
			AND NOT EXISTS (
				SELECT 1 FROM reminders r
				WHERE r.appointment_id = a.id AND r.stage = 'no_show'
			)
		ORDER BY a.date, a.time
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("booking: list recent no-shows: %w", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointmentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PracticeID, &a.PatientID, &a.AppointmentTypeID,
		&a.Date, &a.Time, &a.DurationMinutes, &a.Status, &a.Notes, &a.BookedBy,
		&a.CallID, &a.SMSConfirmationSent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("booking: scan appointment: %w", err)
	}
	return &a, nil
}

func scanAppointmentRows(rows pgx.Rows) (*Appointment, error) {
	var a Appointment
	err := rows.Scan(&a.ID, &a.PracticeID, &a.PatientID, &a.AppointmentTypeID,
		&a.Date, &a.Time, &a.DurationMinutes, &a.Status, &a.Notes, &a.BookedBy,
		&a.CallID, &a.SMSConfirmationSent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("booking: scan appointment: %w", err)
	}
	return &a, nil
}
