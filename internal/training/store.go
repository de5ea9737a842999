package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound marks a missing session or recording.
var ErrNotFound = errors.New("training: not found")

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists training sessions and recordings.
type Store struct {
	db DB
}

// NewStore creates a training store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// CreateSession opens a new session.
func (s *Store) CreateSession(ctx context.Context, practiceID uuid.UUID, name string) (*Session, error) {
	sess := &Session{
		ID:         uuid.New(),
		PracticeID: practiceID,
		Name:       name,
		Status:     SessionOpen,
		CreatedAt:  time.Now().UTC(),
	}
	sess.UpdatedAt = sess.CreatedAt
	_, err := s.db.Exec(ctx, `
		INSERT INTO training_sessions (id, practice_id, name, status, prompt_draft, created_at, updated_at)
		VALUES ($1,$2,$3,$4,'',$5,$5)`,
		sess.ID, sess.PracticeID, sess.Name, sess.Status, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("training: create session: %w", err)
	}
	return sess, nil
}

// GetSession loads a session scoped to a practice.
func (s *Store) GetSession(ctx context.Context, practiceID, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, name, status, COALESCE(prompt_draft, ''), created_at, updated_at
		FROM training_sessions
		WHERE practice_id = $1 AND id = $2`, practiceID, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.PracticeID, &sess.Name, &sess.Status,
		&sess.PromptDraft, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("training: get session: %w", err)
	}
	return &sess, nil
}

// UpdateSessionStatus moves a session through the pipeline.
func (s *Store) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE training_sessions SET status = $2, updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("training: update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDraft stores the aggregated prompt draft on the session.
func (s *Store) SaveDraft(ctx context.Context, id uuid.UUID, draft string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE training_sessions SET prompt_draft = $2, updated_at = now()
		WHERE id = $1`, id, draft)
	if err != nil {
		return fmt.Errorf("training: save draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRecording registers an uploaded audio file.
func (s *Store) AddRecording(ctx context.Context, rec *Recording) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = RecordingUploaded
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO training_recordings (id, session_id, s3_key, file_name, transcript, analysis, status, created_at)
		VALUES ($1,$2,$3,$4,'','',$5,$6)`,
		rec.ID, rec.SessionID, rec.S3Key, rec.FileName, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("training: add recording: %w", err)
	}
	return nil
}

// ListRecordings returns a session's recordings in upload order.
func (s *Store) ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]Recording, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, s3_key, file_name, COALESCE(transcript, ''),
			COALESCE(analysis, ''), status, created_at
		FROM training_recordings
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("training: list recordings: %w", err)
	}
	defer rows.Close()
	var out []Recording
	for rows.Next() {
		var rec Recording
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.S3Key, &rec.FileName,
			&rec.Transcript, &rec.Analysis, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("training: scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveTranscript records a successful transcription.
func (s *Store) SaveTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE training_recordings SET transcript = $2, status = $3
		WHERE id = $1`, id, transcript, RecordingTranscribed)
	if err != nil {
		return fmt.Errorf("training: save transcript: %w", err)
	}
	return nil
}

// SaveAnalysis records the per-transcript analysis.
func (s *Store) SaveAnalysis(ctx context.Context, id uuid.UUID, analysis string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE training_recordings SET analysis = $2, status = $3
		WHERE id = $1`, id, analysis, RecordingAnalysed)
	if err != nil {
		return fmt.Errorf("training: save analysis: %w", err)
	}
	return nil
}

// MarkRecordingFailed flags a recording the pipeline could not process.
func (s *Store) MarkRecordingFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE training_recordings SET status = $2
		WHERE id = $1`, id, RecordingFailed)
	if err != nil {
		return fmt.Errorf("training: mark failed: %w", err)
	}
	return nil
}
