// Package voicemail persists messages callers leave with the assistant.
package voicemail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no voicemail matches.
var ErrNotFound = errors.New("voicemail: not found")

// Urgency levels.
const (
	UrgencyNormal    = "normal"
	UrgencyUrgent    = "urgent"
	UrgencyEmergency = "emergency"
)

// MaxMessageLen caps stored voicemail text.
const MaxMessageLen = 10_000

// Voicemail is one message left for staff.
type Voicemail struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	CallID      *uuid.UUID
	CallerName  string
	CallerPhone string
	Message     string
	Urgency     string
	Reviewed    bool
	CreatedAt   time.Time
}

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists voicemails.
type Store struct {
	db DB
}

// NewStore creates a voicemail store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ValidUrgency reports whether the value is an accepted urgency level.
func ValidUrgency(v string) bool {
	return v == UrgencyNormal || v == UrgencyUrgent || v == UrgencyEmergency
}

// Insert writes a voicemail, truncating over-long messages.
func (s *Store) Insert(ctx context.Context, v *Voicemail) error {
	if v.Message == "" {
		return errors.New("voicemail: message required")
	}
	if len(v.Message) > MaxMessageLen {
		v.Message = v.Message[:MaxMessageLen]
	}
	if v.Urgency == "" {
		v.Urgency = UrgencyNormal
	}
	if !ValidUrgency(v.Urgency) {
		return fmt.Errorf("voicemail: invalid urgency %q", v.Urgency)
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO voicemails (id, practice_id, call_id, caller_name,
			caller_phone, message, urgency, reviewed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8)`,
		v.ID, v.PracticeID, v.CallID, v.CallerName,
		v.CallerPhone, v.Message, v.Urgency, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("voicemail: insert: %w", err)
	}
	return nil
}

// ListUnreviewed returns pending voicemails for staff, most urgent first.
func (s *Store) ListUnreviewed(ctx context.Context, practiceID uuid.UUID, limit int) ([]Voicemail, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, call_id, COALESCE(caller_name, ''),
			COALESCE(caller_phone, ''), message, urgency, reviewed, created_at
		FROM voicemails
		WHERE practice_id = $1 AND reviewed = FALSE
		ORDER BY CASE urgency WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END,
			created_at
		LIMIT $2`, practiceID, limit)
	if err != nil {
		return nil, fmt.Errorf("voicemail: list unreviewed: %w", err)
	}
	defer rows.Close()
	var out []Voicemail
	for rows.Next() {
		var v Voicemail
		if err := rows.Scan(&v.ID, &v.PracticeID, &v.CallID, &v.CallerName,
			&v.CallerPhone, &v.Message, &v.Urgency, &v.Reviewed, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("voicemail: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkReviewed flags a voicemail as handled by staff.
func (s *Store) MarkReviewed(ctx context.Context, practiceID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE voicemails SET reviewed = TRUE
		WHERE practice_id = $1 AND id = $2`, practiceID, id)
	if err != nil {
		return fmt.Errorf("voicemail: mark reviewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
