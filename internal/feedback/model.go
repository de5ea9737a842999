// Package feedback scores completed calls with an LLM, mines recurring
// failure patterns and versions the assistant's system prompt.
package feedback

import (
	"time"

	"github.com/google/uuid"
)

// minAnalyzableDuration is the floor below which a call carries no signal.
const minAnalyzableDuration = 5 // seconds

// maxTranscriptBytes caps the transcript sent to the LLM.
const maxTranscriptBytes = 8 << 10

// lowScoreThreshold triggers immediate pattern detection.
const lowScoreThreshold = 0.3

// CallFeedback is the per-call analysis result.
type CallFeedback struct {
	ID              uuid.UUID
	PracticeID      uuid.UUID
	CallID          uuid.UUID
	PromptVersionID *uuid.UUID
	OverallScore    float64
	ResolutionScore float64
	EfficiencyScore float64
	EmpathyScore    float64
	AccuracyScore   float64
	WasSuccessful   bool
	FailurePoint    string
	FailureReason   string
	Improvement     string
	Complexity      string
	CallerDropped   bool
	KeyObservations []string
	Source          string
	CreatedAt       time.Time
}

// Feedback sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Insight is a recurring pattern mined from recent feedback.
type Insight struct {
	ID            uuid.UUID
	PracticeID    uuid.UUID
	Type          string
	Category      string
	Title         string
	Detail        string
	SuggestedFix  string
	Severity      string
	AffectedCalls int
	Status        string
	CreatedAt     time.Time
}

// Insight statuses. Open insights close as applied (a prompt change
// addressed them) or dismissed.
const (
	InsightOpen      = "open"
	InsightApplied   = "applied"
	InsightDismissed = "dismissed"
)

// PromptVersion is one generation of the assistant's system prompt.
type PromptVersion struct {
	ID              uuid.UUID
	PracticeID      uuid.UUID
	Version         int
	Prompt          string
	Reason          string
	IsActive        bool
	TotalCalls      int
	SuccessfulCalls int
	AvgScore        float64
	BookingRate     float64
	ActivatedAt     *time.Time
	DeactivatedAt   *time.Time
	CreatedAt       time.Time
}

// clampScore bounds a model-reported score to [0, 1].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
