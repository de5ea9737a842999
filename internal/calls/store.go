package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no call matches.
var ErrNotFound = errors.New("calls: call not found")

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists calls. Every mutation is idempotent on external_call_id so
// out-of-order webhook deliveries converge.
type Store struct {
	db DB
}

// NewStore creates a call store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const callColumns = `id, practice_id, external_call_id, patient_id, appointment_id,
	COALESCE(caller_name, ''), COALESCE(caller_phone, ''), direction, status,
	started_at, ended_at, COALESCE(transcript, ''), COALESCE(recording_url, ''),
	COALESCE(summary, ''), structured_data, COALESCE(success_evaluation, ''),
	COALESCE(duration_seconds, 0), COALESCE(cost, 0), COALESCE(ended_reason, ''),
	callback_needed, created_at, updated_at`

// CreateOrUpdate inserts the call if absent, else refreshes status and
// timestamps. Existing non-null fields are never blanked by a late update.
func (s *Store) CreateOrUpdate(ctx context.Context, practiceID uuid.UUID, externalID, callerPhone, status, direction string, startedAt, endedAt *time.Time) (*Call, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO calls (id, practice_id, external_call_id, caller_phone,
			status, direction, started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, now(), now())
		ON CONFLICT (external_call_id) DO UPDATE SET
			caller_phone = COALESCE(calls.caller_phone, NULLIF($4, '')),
			status = CASE WHEN $5 = '' THEN calls.status ELSE $5 END,
			started_at = COALESCE(calls.started_at, $7),
			ended_at = COALESCE($8, calls.ended_at),
			updated_at = now()
		RETURNING `+callColumns,
		uuid.New(), practiceID, externalID, callerPhone, status, direction, startedAt, endedAt)
	return scanCall(row)
}

// Get loads a call by its internal id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Call, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls WHERE id = $1`, id)
	return scanCall(row)
}

// GetByExternalID loads a call by the platform call id. Used for tenant
// resolution before anything else about the webhook is trusted.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Call, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls WHERE external_call_id = $1`, externalID)
	return scanCall(row)
}

// LinkPatient attaches a patient once identity is established.
func (s *Store) LinkPatient(ctx context.Context, externalID string, patientID uuid.UUID) error {
	return s.execByExternal(ctx, `
		UPDATE calls SET patient_id = $2, updated_at = now()
		WHERE external_call_id = $1`, externalID, patientID)
}

// LinkAppointment attaches the appointment a call produced.
func (s *Store) LinkAppointment(ctx context.Context, externalID string, appointmentID uuid.UUID) error {
	return s.execByExternal(ctx, `
		UPDATE calls SET appointment_id = $2, updated_at = now()
		WHERE external_call_id = $1`, externalID, appointmentID)
}

// SaveCallerInfo records identity fields mid-call so dropped calls keep
// whatever was learned. Empty values leave existing data alone.
func (s *Store) SaveCallerInfo(ctx context.Context, externalID, callerName, callerPhone string, patientID *uuid.UUID) error {
	return s.execByExternal(ctx, `
		UPDATE calls SET
			caller_name = COALESCE(NULLIF($2, ''), caller_name),
			caller_phone = COALESCE(NULLIF($3, ''), caller_phone),
			patient_id = COALESCE($4, patient_id),
			updated_at = now()
		WHERE external_call_id = $1`, externalID, callerName, callerPhone, patientID)
}

// SaveEndOfCall persists the report artefacts.
func (s *Store) SaveEndOfCall(ctx context.Context, externalID string, eoc EndOfCall) error {
	return s.execByExternal(ctx, `
		UPDATE calls SET
			transcript = $2, recording_url = $3, summary = $4,
			structured_data = $5, success_evaluation = $6,
			duration_seconds = $7, cost = $8, ended_reason = $9,
			ended_at = COALESCE($10, ended_at),
			callback_needed = $11,
			status = 'ended',
			updated_at = now()
		WHERE external_call_id = $1`,
		externalID, eoc.Transcript, eoc.RecordingURL, eoc.Summary,
		eoc.StructuredData, eoc.SuccessEvaluation,
		eoc.DurationSeconds, eoc.Cost, eoc.EndedReason, eoc.EndedAt,
		eoc.CallbackNeeded)
}

// ListRecentEnded returns finished calls for a practice, newest first.
func (s *Store) ListRecentEnded(ctx context.Context, practiceID uuid.UUID, limit int) ([]Call, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE practice_id = $1 AND status = 'ended'
		ORDER BY ended_at DESC NULLS LAST
		LIMIT $2`, practiceID, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list recent ended: %w", err)
	}
	defer rows.Close()
	var out []Call
	for rows.Next() {
		c, err := scanCallRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) execByExternal(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("calls: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCall(row pgx.Row) (*Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.PracticeID, &c.ExternalCallID, &c.PatientID, &c.AppointmentID,
		&c.CallerName, &c.CallerPhone, &c.Direction, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.Transcript, &c.RecordingURL,
		&c.Summary, &c.StructuredData, &c.SuccessEvaluation,
		&c.DurationSeconds, &c.Cost, &c.EndedReason,
		&c.CallbackNeeded, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("calls: scan: %w", err)
	}
	return &c, nil
}

func scanCallRows(rows pgx.Rows) (*Call, error) {
	var c Call
	err := rows.Scan(&c.ID, &c.PracticeID, &c.ExternalCallID, &c.PatientID, &c.AppointmentID,
		&c.CallerName, &c.CallerPhone, &c.Direction, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.Transcript, &c.RecordingURL,
		&c.Summary, &c.StructuredData, &c.SuccessEvaluation,
		&c.DurationSeconds, &c.Cost, &c.EndedReason,
		&c.CallbackNeeded, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("calls: scan: %w", err)
	}
	return &c, nil
}
