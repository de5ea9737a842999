package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no patient matches.
var ErrNotFound = errors.New("patients: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides patient persistence.
type Store struct {
	db DB
}

// NewStore creates a patient store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const patientColumns = `id, practice_id, first_name, last_name, dob, phone, address,
	language_preference, insurance_carrier, member_id, is_new, opted_out_recall,
	created_at, updated_at`

// Get loads a patient by id scoped to the practice.
func (s *Store) Get(ctx context.Context, practiceID, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients WHERE practice_id = $1 AND id = $2`, practiceID, id)
	return scanPatient(row)
}

// FindByName looks up (first, last, dob) case-insensitively within a practice.
func (s *Store) FindByName(ctx context.Context, practiceID uuid.UUID, first, last string, dob time.Time) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE practice_id = $1
			AND lower(first_name) = lower($2)
			AND lower(last_name) = lower($3)
			AND dob = $4
		LIMIT 1`, practiceID, strings.TrimSpace(first), strings.TrimSpace(last), dob)
	return scanPatient(row)
}

// FindOrCreate returns the existing patient for (first, last, dob) or inserts one.
func (s *Store) FindOrCreate(ctx context.Context, p *Patient) (*Patient, error) {
	existing, err := s.FindByName(ctx, p.PracticeID, p.FirstName, p.LastName, p.DOB)
	if err == nil {
		// Backfill a phone learned on this call.
		if existing.Phone == "" && p.Phone != "" {
			if uerr := s.UpdatePhone(ctx, existing.PracticeID, existing.ID, p.Phone); uerr == nil {
				existing.Phone = p.Phone
			}
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.LanguagePreference == "" {
		p.LanguagePreference = "en"
	}
	now := time.Now().UTC()
	p.IsNew = true
	p.CreatedAt = now
	p.UpdatedAt = now
	tag, err := s.db.Exec(ctx, `
		INSERT INTO patients (id, practice_id, first_name, last_name, dob, phone, address,
			language_preference, insurance_carrier, member_id, is_new, opted_out_recall,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (practice_id, lower(last_name), lower(first_name), dob) DO NOTHING`,
		p.ID, p.PracticeID, strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName),
		p.DOB, p.Phone, p.Address, p.LanguagePreference, p.InsuranceCarrier, p.MemberID,
		p.IsNew, p.OptedOutRecall, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("patients: insert: %w", err)
	}
	// A concurrent caller inserted the same identity first; return their row.
	if tag.RowsAffected() == 0 {
		return s.FindByName(ctx, p.PracticeID, p.FirstName, p.LastName, p.DOB)
	}
	return p, nil
}

// MarkEstablished flips is_new to false after the first booking.
func (s *Store) MarkEstablished(ctx context.Context, practiceID, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients SET is_new = FALSE, updated_at = now()
		WHERE practice_id = $1 AND id = $2 AND is_new`, practiceID, id)
	if err != nil {
		return fmt.Errorf("patients: mark established: %w", err)
	}
	return nil
}

// UpdatePhone records a phone number learned mid-call.
func (s *Store) UpdatePhone(ctx context.Context, practiceID, id uuid.UUID, phone string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients SET phone = $3, updated_at = now()
		WHERE practice_id = $1 AND id = $2`, practiceID, id, phone)
	if err != nil {
		return fmt.Errorf("patients: update phone: %w", err)
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PracticeID, &p.FirstName, &p.LastName, &p.DOB,
		&p.Phone, &p.Address, &p.LanguagePreference, &p.InsuranceCarrier,
		&p.MemberID, &p.IsNew, &p.OptedOutRecall, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("patients: scan: %w", err)
	}
	return &p, nil
}
