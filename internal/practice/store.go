package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a practice or config row is absent.
var ErrNotFound = errors.New("practice: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for practices and their configuration.
type Store struct {
	db DB
}

// NewStore creates a practice store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Get loads a practice by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Practice, error) {
	var p Practice
	err := s.db.QueryRow(ctx, `
		SELECT id, name, timezone, phone, address, created_at, updated_at
		FROM practices WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Timezone, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("practice: get: %w", err)
	}
	return &p, nil
}

// GetConfig loads the operational config for a practice.
func (s *Store) GetConfig(ctx context.Context, practiceID uuid.UUID) (*Config, error) {
	var cfg Config
	var templates, noShow []byte
	err := s.db.QueryRow(ctx, `
		SELECT practice_id, slot_duration_minutes, booking_horizon_days,
			allow_overbooking, max_overbooking_per_slot, transfer_number,
			sms_templates, no_show_templates, voice_assistant_id,
			vapi_api_key, twilio_account_sid, twilio_auth_token,
			twilio_from_number, eligibility_api_key, eligibility_enabled
		FROM practice_configs WHERE practice_id = $1`, practiceID).
		Scan(&cfg.PracticeID, &cfg.SlotDurationMinutes, &cfg.BookingHorizonDays,
			&cfg.AllowOverbooking, &cfg.MaxOverbookingSlot, &cfg.TransferNumber,
			&templates, &noShow, &cfg.VoiceAssistantID,
			&cfg.VapiAPIKey, &cfg.TwilioAccountSID, &cfg.TwilioAuthToken,
			&cfg.TwilioFromNumber, &cfg.EligibilityAPIKey, &cfg.EligibilityOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("practice: get config: %w", err)
	}
	if len(templates) > 0 {
		if err := json.Unmarshal(templates, &cfg.SMSTemplates); err != nil {
			return nil, fmt.Errorf("practice: decode sms templates: %w", err)
		}
	}
	if len(noShow) > 0 {
		if err := json.Unmarshal(noShow, &cfg.NoShowTemplates); err != nil {
			return nil, fmt.Errorf("practice: decode no-show templates: %w", err)
		}
	}
	return &cfg, nil
}

// LookupByDialedNumber resolves the tenant that owns a dialed E.164 number.
// Matches either the practice main phone or the configured SMS sender.
func (s *Store) LookupByDialedNumber(ctx context.Context, number string) (uuid.UUID, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return uuid.Nil, ErrNotFound
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		SELECT p.id
		FROM practices p
		LEFT JOIN practice_configs c ON c.practice_id = p.id
		WHERE p.phone = $1 OR c.twilio_from_number = $1
		LIMIT 1`, number).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("practice: lookup by number: %w", err)
	}
	return id, nil
}

// GetAppointmentType loads a single appointment type scoped to a practice.
func (s *Store) GetAppointmentType(ctx context.Context, practiceID, typeID uuid.UUID) (*AppointmentType, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, name, duration_minutes, is_active, sort_order
		FROM appointment_types WHERE practice_id = $1 AND id = $2`, practiceID, typeID)
	return scanAppointmentType(row)
}

// FindAppointmentTypeByName fuzzy-matches an appointment type by name using
// a case-insensitive LIKE with pattern metacharacters escaped. Falls back to
// the first active type by sort order when no name matches.
func (s *Store) FindAppointmentTypeByName(ctx context.Context, practiceID uuid.UUID, name string) (*AppointmentType, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		pattern := "%" + escapeLike(name) + "%"
		row := s.db.QueryRow(ctx, `
			SELECT id, practice_id, name, duration_minutes, is_active, sort_order
			FROM appointment_types
			WHERE practice_id = $1 AND is_active AND name ILIKE $2 ESCAPE '\'
			ORDER BY sort_order, name
			LIMIT 1`, practiceID, pattern)
		at, err := scanAppointmentType(row)
		if err == nil {
			return at, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.FirstActiveAppointmentType(ctx, practiceID)
}

// FirstActiveAppointmentType returns the first active type by sort order.
func (s *Store) FirstActiveAppointmentType(ctx context.Context, practiceID uuid.UUID) (*AppointmentType, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, name, duration_minutes, is_active, sort_order
		FROM appointment_types
		WHERE practice_id = $1 AND is_active
		ORDER BY sort_order, name
		LIMIT 1`, practiceID)
	return scanAppointmentType(row)
}

// ListAppointmentTypes returns all active types for a practice in sort order.
func (s *Store) ListAppointmentTypes(ctx context.Context, practiceID uuid.UUID) ([]AppointmentType, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, name, duration_minutes, is_active, sort_order
		FROM appointment_types
		WHERE practice_id = $1 AND is_active
		ORDER BY sort_order, name`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("practice: list appointment types: %w", err)
	}
	defer rows.Close()
	var out []AppointmentType
	for rows.Next() {
		var at AppointmentType
		if err := rows.Scan(&at.ID, &at.PracticeID, &at.Name, &at.DurationMinutes, &at.IsActive, &at.SortOrder); err != nil {
			return nil, fmt.Errorf("practice: scan appointment type: %w", err)
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func scanAppointmentType(row pgx.Row) (*AppointmentType, error) {
	var at AppointmentType
	err := row.Scan(&at.ID, &at.PracticeID, &at.Name, &at.DurationMinutes, &at.IsActive, &at.SortOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("practice: scan appointment type: %w", err)
	}
	return &at, nil
}

// escapeLike escapes %, _ and \ so user input cannot widen a LIKE pattern.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
