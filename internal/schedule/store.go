// Package schedule computes per-date working hours and bookable slots.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WeeklyTemplate is the default hours for one weekday (0=Sunday .. 6=Saturday).
type WeeklyTemplate struct {
	PracticeID uuid.UUID
	DayOfWeek  int
	IsEnabled  bool
	Open       string
	Close      string
}

// Override replaces the weekly template for a single date.
type Override struct {
	PracticeID uuid.UUID
	Date       time.Time
	IsWorking  bool
	Open       *string
	Close      *string
	Reason     string
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads schedule templates, overrides and holidays.
type Store struct {
	db DB
}

// NewStore creates a schedule store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// IsHoliday reports whether a date is a global holiday.
func (s *Store) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM holidays WHERE date = $1 LIMIT 1`, date.Format(time.DateOnly)).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("schedule: check holiday: %w", err)
	}
	return true, nil
}

// GetOverride returns the override for (practice, date), or nil.
func (s *Store) GetOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*Override, error) {
	var o Override
	err := s.db.QueryRow(ctx, `
		SELECT practice_id, date, is_working, open_time, close_time, COALESCE(reason, '')
		FROM schedule_overrides
		WHERE practice_id = $1 AND date = $2`, practiceID, date.Format(time.DateOnly)).
		Scan(&o.PracticeID, &o.Date, &o.IsWorking, &o.Open, &o.Close, &o.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("schedule: get override: %w", err)
	}
	return &o, nil
}

// GetWeeklyTemplate returns the template row for a weekday, or nil.
func (s *Store) GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*WeeklyTemplate, error) {
	var t WeeklyTemplate
	var open, closeAt *string
	err := s.db.QueryRow(ctx, `
		SELECT practice_id, day_of_week, is_enabled, open_time, close_time
		FROM weekly_schedule_templates
		WHERE practice_id = $1 AND day_of_week = $2`, practiceID, dayOfWeek).
		Scan(&t.PracticeID, &t.DayOfWeek, &t.IsEnabled, &open, &closeAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("schedule: get weekly template: %w", err)
	}
	if open != nil {
		t.Open = *open
	}
	if closeAt != nil {
		t.Close = *closeAt
	}
	return &t, nil
}

// ListWeeklyTemplates returns all enabled weekday rows for a practice.
func (s *Store) ListWeeklyTemplates(ctx context.Context, practiceID uuid.UUID) ([]WeeklyTemplate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT practice_id, day_of_week, is_enabled, COALESCE(open_time, ''), COALESCE(close_time, '')
		FROM weekly_schedule_templates
		WHERE practice_id = $1 AND is_enabled
		ORDER BY day_of_week`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("schedule: list weekly templates: %w", err)
	}
	defer rows.Close()
	var out []WeeklyTemplate
	for rows.Next() {
		var t WeeklyTemplate
		if err := rows.Scan(&t.PracticeID, &t.DayOfWeek, &t.IsEnabled, &t.Open, &t.Close); err != nil {
			return nil, fmt.Errorf("schedule: scan weekly template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
