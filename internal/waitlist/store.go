package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no entry matches.
var ErrNotFound = errors.New("waitlist: entry not found")

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists waitlist entries.
type Store struct {
	db DB
}

// NewStore creates a waitlist store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, practice_id, patient_name, phone, appointment_type_id,
	preferred_date_start, preferred_date_end, preferred_time_start,
	preferred_time_end, priority, status, notified_at, expires_at,
	COALESCE(reply_body, ''), created_at, updated_at`

// Insert writes a new entry.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = StatusWaiting
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO waitlist_entries (id, practice_id, patient_name, phone,
			appointment_type_id, preferred_date_start, preferred_date_end,
			preferred_time_start, preferred_time_end, priority, status,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.PracticeID, e.PatientName, e.Phone,
		e.AppointmentTypeID, e.PreferredDateStart, e.PreferredDateEnd,
		e.PreferredTimeStart, e.PreferredTimeEnd, e.Priority, e.Status,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("waitlist: insert: %w", err)
	}
	return nil
}

// ListWaiting returns the waiting entries for a practice, best candidates
// first.
func (s *Store) ListWaiting(ctx context.Context, practiceID uuid.UUID) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE practice_id = $1 AND status = 'waiting'
		ORDER BY priority, created_at`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("waitlist: list waiting: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MarkNotified records the slot offer and its expiry.
func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID, at, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'notified', notified_at = $2, expires_at = $3, updated_at = now()
		WHERE id = $1`, id, at, expiresAt)
	if err != nil {
		return fmt.Errorf("waitlist: mark notified: %w", err)
	}
	return nil
}

// LatestNotifiedForPhone finds the most recent live offer for a phone.
func (s *Store) LatestNotifiedForPhone(ctx context.Context, phone string, now time.Time) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE phone = $1 AND status = 'notified' AND expires_at > $2
		ORDER BY notified_at DESC
		LIMIT 1`, phone, now)
	return scanEntry(row)
}

// Resolve finalises an offer with the raw reply attached.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, status, replyBody string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $2, reply_body = $3, updated_at = now()
		WHERE id = $1`, id, status, replyBody)
	if err != nil {
		return fmt.Errorf("waitlist: resolve: %w", err)
	}
	return nil
}

// SaveReplyOnly stores an unrecognised reply without changing state.
func (s *Store) SaveReplyOnly(ctx context.Context, id uuid.UUID, replyBody string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries SET reply_body = $2, updated_at = now()
		WHERE id = $1`, id, replyBody)
	if err != nil {
		return fmt.Errorf("waitlist: save reply: %w", err)
	}
	return nil
}

// ExpireOffers flips notified entries past their expiry. Returns how many.
func (s *Store) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'expired', updated_at = now()
		WHERE status = 'notified' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("waitlist: expire offers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireStaleWaiting flips waiting entries whose preferred window has
// passed. Returns how many.
func (s *Store) ExpireStaleWaiting(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'expired', updated_at = now()
		WHERE status = 'waiting' AND preferred_date_end IS NOT NULL
			AND preferred_date_end < $1`, today.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("waitlist: expire stale waiting: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PracticeID, &e.PatientName, &e.Phone, &e.AppointmentTypeID,
		&e.PreferredDateStart, &e.PreferredDateEnd, &e.PreferredTimeStart,
		&e.PreferredTimeEnd, &e.Priority, &e.Status, &e.NotifiedAt, &e.ExpiresAt,
		&e.ReplyBody, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("waitlist: scan: %w", err)
	}
	return &e, nil
}

func scanEntryRows(rows pgx.Rows) (*Entry, error) {
	var e Entry
	err := rows.Scan(&e.ID, &e.PracticeID, &e.PatientName, &e.Phone, &e.AppointmentTypeID,
		&e.PreferredDateStart, &e.PreferredDateEnd, &e.PreferredTimeStart,
		&e.PreferredTimeEnd, &e.Priority, &e.Status, &e.NotifiedAt, &e.ExpiresAt,
		&e.ReplyBody, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("waitlist: scan: %w", err)
	}
	return &e, nil
}
