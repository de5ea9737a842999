// Package training turns recorded practice sessions into prompt
// improvements: audio is uploaded per session, transcribed, analysed, and
// aggregated into a prompt draft that can be published as the next active
// prompt version.
package training

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses.
const (
	SessionOpen       = "open"
	SessionProcessing = "processing"
	SessionComplete   = "complete"
)

// Recording statuses.
const (
	RecordingUploaded    = "uploaded"
	RecordingTranscribed = "transcribed"
	RecordingAnalysed    = "analysed"
	RecordingFailed      = "failed"
)

// Session groups the recordings of one training exercise.
type Session struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	Name        string
	Status      string
	PromptDraft string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Recording is one uploaded audio file within a session.
type Recording struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	S3Key      string
	FileName   string
	Transcript string
	Analysis   string
	Status     string
	CreatedAt  time.Time
}
