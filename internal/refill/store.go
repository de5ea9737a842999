// Package refill records prescription refill requests taken over voice.
package refill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no refill request matches.
var ErrNotFound = errors.New("refill: not found")

// Request statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusDenied    = "denied"
)

// Request is one refill ask awaiting staff action.
type Request struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	PatientID   *uuid.UUID
	CallID      *uuid.UUID
	PatientName string
	Medication  string
	Dosage      string
	Pharmacy    string
	Urgency     string
	Status      string
	CreatedAt   time.Time
}

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists refill requests.
type Store struct {
	db DB
}

// NewStore creates a refill store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Insert writes a refill request.
func (s *Store) Insert(ctx context.Context, r *Request) error {
	if r.Medication == "" {
		return errors.New("refill: medication required")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Urgency == "" {
		r.Urgency = "normal"
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO refill_requests (id, practice_id, patient_id, call_id,
			patient_name, medication, dosage, pharmacy, urgency, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.PracticeID, r.PatientID, r.CallID,
		r.PatientName, r.Medication, r.Dosage, r.Pharmacy, r.Urgency, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("refill: insert: %w", err)
	}
	return nil
}

// ListPending returns open requests for staff review.
func (s *Store) ListPending(ctx context.Context, practiceID uuid.UUID, limit int) ([]Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, patient_id, call_id, COALESCE(patient_name, ''),
			medication, COALESCE(dosage, ''), COALESCE(pharmacy, ''),
			urgency, status, created_at
		FROM refill_requests
		WHERE practice_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2`, practiceID, limit)
	if err != nil {
		return nil, fmt.Errorf("refill: list pending: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.PracticeID, &r.PatientID, &r.CallID, &r.PatientName,
			&r.Medication, &r.Dosage, &r.Pharmacy, &r.Urgency, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("refill: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateStatus resolves a request.
func (s *Store) UpdateStatus(ctx context.Context, practiceID, id uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE refill_requests SET status = $3
		WHERE practice_id = $1 AND id = $2`, practiceID, id, status)
	if err != nil {
		return fmt.Errorf("refill: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
