package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound marks a missing feedback row or prompt version.
var ErrNotFound = errors.New("feedback: not found")

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists feedback, insights and prompt versions.
type Store struct {
	db DB
}

// NewStore creates a feedback store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Exists reports whether a call already has feedback.
func (s *Store) Exists(ctx context.Context, callID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM call_feedback WHERE call_id = $1`, callID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feedback: exists: %w", err)
	}
	return true, nil
}

// Insert writes one analysis result.
func (s *Store) Insert(ctx context.Context, fb *CallFeedback) error {
	if fb.ID == uuid.Nil {
		fb.ID = uuid.New()
	}
	fb.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_feedback (id, practice_id, call_id, prompt_version_id,
			overall_score, resolution_score, efficiency_score, empathy_score,
			accuracy_score, was_successful, failure_point, failure_reason,
			improvement, complexity, caller_dropped, key_observations, source, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		fb.ID, fb.PracticeID, fb.CallID, fb.PromptVersionID,
		fb.OverallScore, fb.ResolutionScore, fb.EfficiencyScore, fb.EmpathyScore,
		fb.AccuracyScore, fb.WasSuccessful, fb.FailurePoint, fb.FailureReason,
		fb.Improvement, fb.Complexity, fb.CallerDropped, fb.KeyObservations, fb.Source, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("feedback: insert: %w", err)
	}
	return nil
}

// Count returns the number of feedback rows for a practice.
func (s *Store) Count(ctx context.Context, practiceID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_feedback WHERE practice_id = $1`, practiceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("feedback: count: %w", err)
	}
	return n, nil
}

// ListRecent returns feedback rows newer than since, newest first.
func (s *Store) ListRecent(ctx context.Context, practiceID uuid.UUID, since time.Time, limit int) ([]CallFeedback, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, call_id, prompt_version_id, overall_score,
			resolution_score, efficiency_score, empathy_score, accuracy_score,
			was_successful, COALESCE(failure_point, ''), COALESCE(failure_reason, ''),
			COALESCE(improvement, ''), COALESCE(complexity, ''),
			caller_dropped, key_observations, source, created_at
		FROM call_feedback
		WHERE practice_id = $1 AND created_at > $2
		ORDER BY created_at DESC
		LIMIT $3`, practiceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback: list recent: %w", err)
	}
	defer rows.Close()
	var out []CallFeedback
	for rows.Next() {
		var fb CallFeedback
		if err := rows.Scan(&fb.ID, &fb.PracticeID, &fb.CallID, &fb.PromptVersionID,
			&fb.OverallScore, &fb.ResolutionScore, &fb.EfficiencyScore, &fb.EmpathyScore,
			&fb.AccuracyScore, &fb.WasSuccessful, &fb.FailurePoint, &fb.FailureReason,
			&fb.Improvement, &fb.Complexity, &fb.CallerDropped, &fb.KeyObservations,
			&fb.Source, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("feedback: scan: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// InsertInsight writes a mined pattern unless an open insight with the same
// title already exists.
func (s *Store) InsertInsight(ctx context.Context, in *Insight) (bool, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	in.CreatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		INSERT INTO feedback_insights (id, practice_id, type, category, title,
			detail, suggested_fix, severity, affected_calls, status, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, 'open', $10
		WHERE NOT EXISTS (
			SELECT 1 FROM feedback_insights
			WHERE practice_id = $2 AND title = $5 AND status = 'open')`,
		in.ID, in.PracticeID, in.Type, in.Category, in.Title,
		in.Detail, in.SuggestedFix, in.Severity, in.AffectedCalls, in.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("feedback: insert insight: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListOpenInsights returns unresolved patterns for a practice.
func (s *Store) ListOpenInsights(ctx context.Context, practiceID uuid.UUID, limit int) ([]Insight, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, COALESCE(type, ''), COALESCE(category, ''), title,
			COALESCE(detail, ''), COALESCE(suggested_fix, ''), COALESCE(severity, ''),
			affected_calls, status, created_at
		FROM feedback_insights
		WHERE practice_id = $1 AND status = 'open'
		ORDER BY created_at DESC
		LIMIT $2`, practiceID, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback: list insights: %w", err)
	}
	defer rows.Close()
	var out []Insight
	for rows.Next() {
		var in Insight
		if err := rows.Scan(&in.ID, &in.PracticeID, &in.Type, &in.Category, &in.Title,
			&in.Detail, &in.SuggestedFix, &in.Severity, &in.AffectedCalls,
			&in.Status, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("feedback: scan insight: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ResolveInsight closes an open pattern as applied or dismissed.
func (s *Store) ResolveInsight(ctx context.Context, practiceID, id uuid.UUID, status string) error {
	if status != InsightApplied && status != InsightDismissed {
		return fmt.Errorf("feedback: invalid insight status %q", status)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE feedback_insights SET status = $3
		WHERE practice_id = $1 AND id = $2 AND status = 'open'`, practiceID, id, status)
	if err != nil {
		return fmt.Errorf("feedback: resolve insight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivePromptVersion loads the active prompt for a practice.
func (s *Store) ActivePromptVersion(ctx context.Context, practiceID uuid.UUID) (*PromptVersion, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, version, prompt, COALESCE(reason, ''), is_active,
			total_calls, successful_calls, avg_score, booking_rate,
			activated_at, deactivated_at, created_at
		FROM prompt_versions
		WHERE practice_id = $1 AND is_active
		ORDER BY version DESC
		LIMIT 1`, practiceID)
	return scanPromptVersion(row)
}

// ApplyPrompt atomically deactivates the current version and activates a new
// one with version = max + 1.
func (s *Store) ApplyPrompt(ctx context.Context, practiceID uuid.UUID, prompt, reason string) (*PromptVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedback: begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE prompt_versions SET is_active = FALSE, deactivated_at = $2
		WHERE practice_id = $1 AND is_active`, practiceID, now); err != nil {
		return nil, fmt.Errorf("feedback: deactivate prompt: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO prompt_versions (id, practice_id, version, prompt, reason,
			is_active, total_calls, successful_calls, avg_score, booking_rate,
			activated_at, created_at)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, TRUE, 0, 0, 0, 0, $5, $5
		FROM prompt_versions WHERE practice_id = $2
		RETURNING id, practice_id, version, prompt, COALESCE(reason, ''), is_active,
			total_calls, successful_calls, avg_score, booking_rate,
			activated_at, deactivated_at, created_at`,
		uuid.New(), practiceID, prompt, reason, now)
	pv, err := scanPromptVersion(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("feedback: commit apply: %w", err)
	}
	return pv, nil
}

// RefreshMetrics recomputes the rolling counters for a prompt version.
// Successful calls are those the analyser marked was_successful; booking
// rate is the share of analysed calls that produced an appointment.
func (s *Store) RefreshMetrics(ctx context.Context, promptVersionID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE prompt_versions SET
			total_calls = stats.total,
			successful_calls = stats.successful,
			avg_score = stats.avg_score,
			booking_rate = stats.booking_rate
		FROM (
			SELECT
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE f.was_successful) AS successful,
				COALESCE(AVG(f.overall_score), 0) AS avg_score,
				CASE WHEN COUNT(*) = 0 THEN 0
					ELSE COUNT(*) FILTER (WHERE c.appointment_id IS NOT NULL)::float / COUNT(*)
				END AS booking_rate
			FROM call_feedback f
			JOIN calls c ON c.id = f.call_id
			WHERE f.prompt_version_id = $1
		) AS stats
		WHERE prompt_versions.id = $1`, promptVersionID)
	if err != nil {
		return fmt.Errorf("feedback: refresh metrics: %w", err)
	}
	return nil
}

func scanPromptVersion(row pgx.Row) (*PromptVersion, error) {
	var pv PromptVersion
	err := row.Scan(&pv.ID, &pv.PracticeID, &pv.Version, &pv.Prompt, &pv.Reason, &pv.IsActive,
		&pv.TotalCalls, &pv.SuccessfulCalls, &pv.AvgScore, &pv.BookingRate,
		&pv.ActivatedAt, &pv.DeactivatedAt, &pv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: scan prompt version: %w", err)
	}
	return &pv, nil
}
