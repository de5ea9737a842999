package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakridgehealth/frontdesk/internal/calls"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var feedbackTracer = otel.Tracer("frontdesk.internal.feedback")

const analysisSystemPrompt = "You are a quality analyst for a medical office phone assistant. " +
	"Score the call transcript and respond with a single JSON object only."

// chatClient is the LLM surface the analyzer needs.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CallSource loads completed calls for analysis.
type CallSource interface {
	Get(ctx context.Context, id uuid.UUID) (*calls.Call, error)
}

// Analyzer scores completed calls. A nil LLM client degrades to the
// deterministic fallback scorer.
type Analyzer struct {
	store    *Store
	calls    CallSource
	client   chatClient
	model    string
	timeout  time.Duration
	patternN int
	logger   *logging.Logger
}

// AnalyzerConfig wires the analyzer.
type AnalyzerConfig struct {
	Store    *Store
	Calls    CallSource
	Client   chatClient
	Model    string
	Timeout  time.Duration
	PatternN int
	Logger   *logging.Logger
}

// NewAnalyzer creates a feedback analyzer.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.Store == nil {
		panic("feedback: store required")
	}
	if cfg.Calls == nil {
		panic("feedback: call source required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.PatternN <= 0 {
		cfg.PatternN = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Analyzer{
		store:    cfg.Store,
		calls:    cfg.Calls,
		client:   cfg.Client,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		patternN: cfg.PatternN,
		logger:   cfg.Logger,
	}
}

// analysisResult is the JSON-mode response shape.
type analysisResult struct {
	OverallScore    float64  `json:"overall_score"`
	ResolutionScore float64  `json:"resolution_score"`
	EfficiencyScore float64  `json:"efficiency_score"`
	EmpathyScore    float64  `json:"empathy_score"`
	AccuracyScore   float64  `json:"accuracy_score"`
	WasSuccessful   bool     `json:"was_successful"`
	FailurePoint    string   `json:"failure_point"`
	FailureReason   string   `json:"failure_reason"`
	Improvement     string   `json:"improvement_suggestion"`
	Complexity      string   `json:"complexity"`
	CallerDropped   bool     `json:"caller_dropped"`
	KeyObservations []string `json:"key_observations"`
}

// AnalyzeCall scores one completed call and persists the feedback. Calls
// under 5 seconds and calls already analysed are skipped.
func (a *Analyzer) AnalyzeCall(ctx context.Context, callID uuid.UUID) error {
	ctx, span := feedbackTracer.Start(ctx, "feedback.analyze_call")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.call_id", callID.String()))

	call, err := a.calls.Get(ctx, callID)
	if err != nil {
		return fmt.Errorf("feedback: load call: %w", err)
	}
	if call.DurationSeconds < minAnalyzableDuration {
		a.logger.Info("feedback: skipping short call", "call_id", callID, "duration_s", call.DurationSeconds)
		return nil
	}
	exists, err := a.store.Exists(ctx, callID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	result, source := a.scoreCall(ctx, call)

	fb := &CallFeedback{
		PracticeID:      call.PracticeID,
		CallID:          call.ID,
		OverallScore:    clampScore(result.OverallScore),
		ResolutionScore: clampScore(result.ResolutionScore),
		EfficiencyScore: clampScore(result.EfficiencyScore),
		EmpathyScore:    clampScore(result.EmpathyScore),
		AccuracyScore:   clampScore(result.AccuracyScore),
		WasSuccessful:   result.WasSuccessful,
		FailurePoint:    result.FailurePoint,
		FailureReason:   result.FailureReason,
		Improvement:     result.Improvement,
		Complexity:      result.Complexity,
		CallerDropped:   result.CallerDropped,
		KeyObservations: result.KeyObservations,
		Source:          source,
	}
	active, err := a.store.ActivePromptVersion(ctx, call.PracticeID)
	if err == nil {
		fb.PromptVersionID = &active.ID
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := a.store.Insert(ctx, fb); err != nil {
		return err
	}
	a.logger.Info("feedback: call analysed",
		"call_id", callID, "score", fb.OverallScore, "source", source)

	if fb.PromptVersionID != nil {
		if err := a.store.RefreshMetrics(ctx, *fb.PromptVersionID); err != nil {
			a.logger.Warn("feedback: metrics refresh failed", "prompt_version_id", *fb.PromptVersionID, "error", err)
		}
	}

	if a.shouldDetectPatterns(ctx, call.PracticeID, fb.OverallScore) {
		if err := a.DetectPatterns(ctx, call.PracticeID); err != nil {
			a.logger.Warn("feedback: pattern detection failed", "practice_id", call.PracticeID, "error", err)
		}
	}
	return nil
}

// scoreCall asks the LLM for an analysis, falling back to the deterministic
// scorer when the LLM is unreachable or returns garbage.
func (a *Analyzer) scoreCall(ctx context.Context, call *calls.Call) (analysisResult, string) {
	if a.client == nil {
		return fallbackScore(call), SourceFallback
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildAnalysisPrompt(call)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		a.logger.Warn("feedback: llm analysis failed, using fallback", "call_id", call.ID, "error", err)
		return fallbackScore(call), SourceFallback
	}
	if len(resp.Choices) == 0 {
		return fallbackScore(call), SourceFallback
	}

	var result analysisResult
	if err := json.Unmarshal([]byte(stripJSONFences(resp.Choices[0].Message.Content)), &result); err != nil {
		a.logger.Warn("feedback: unparseable llm analysis, using fallback", "call_id", call.ID, "error", err)
		return fallbackScore(call), SourceFallback
	}
	return result, SourceLLM
}

// shouldDetectPatterns fires every Nth analysed call, or immediately on a
// low score.
func (a *Analyzer) shouldDetectPatterns(ctx context.Context, practiceID uuid.UUID, score float64) bool {
	if score < lowScoreThreshold {
		return true
	}
	n, err := a.store.Count(ctx, practiceID)
	if err != nil {
		a.logger.Warn("feedback: count failed", "practice_id", practiceID, "error", err)
		return false
	}
	return n > 0 && n%a.patternN == 0
}

// buildAnalysisPrompt assembles call metadata, the truncated transcript and
// any structured data into the scoring prompt.
func buildAnalysisPrompt(call *calls.Call) string {
	transcript := call.Transcript
	if len(transcript) > maxTranscriptBytes {
		transcript = transcript[:maxTranscriptBytes]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Call metadata:\n- duration_seconds: %d\n- ended_reason: %s\n- direction: %s\n",
		call.DurationSeconds, call.EndedReason, call.Direction)
	if call.Summary != "" {
		fmt.Fprintf(&b, "- platform_summary: %s\n", call.Summary)
	}
	if len(call.StructuredData) > 0 {
		fmt.Fprintf(&b, "\nStructured data:\n%s\n", call.StructuredData)
	}
	fmt.Fprintf(&b, "\nTranscript:\n%s\n", transcript)
	b.WriteString(`
Respond with JSON: {"overall_score": <0..1>, "resolution_score": <0..1>,
"efficiency_score": <0..1>, "empathy_score": <0..1>, "accuracy_score": <0..1>,
"was_successful": <bool>, "failure_point": <string|"">,
"failure_reason": <string|"">, "improvement_suggestion": <string|"">,
"complexity": <"simple"|"moderate"|"complex">, "caller_dropped": <bool>,
"key_observations": [<string>, ...]}`)
	return b.String()
}

// fallbackScore is the deterministic scorer used when the LLM is
// unreachable. It reads only ended_reason and duration; the sub-scores
// mirror the overall score since nothing finer is observable.
func fallbackScore(call *calls.Call) analysisResult {
	result := analysisResult{Complexity: "simple"}
	switch call.EndedReason {
	case "customer-ended-call", "assistant-ended-call":
		if call.DurationSeconds >= 60 {
			result.OverallScore = 0.7
		} else if call.DurationSeconds >= 20 {
			result.OverallScore = 0.5
		} else {
			result.OverallScore = 0.3
			result.CallerDropped = true
			result.FailurePoint = "early_hangup"
		}
	case "assistant-error", "phone-call-provider-closed-websocket":
		result.OverallScore = 0.1
		result.FailurePoint = "platform_error"
		result.FailureReason = call.EndedReason
	case "customer-did-not-answer", "customer-busy", "voicemail":
		result.OverallScore = 0.2
		result.FailurePoint = "no_contact"
		result.FailureReason = call.EndedReason
	default:
		result.OverallScore = 0.4
	}
	result.ResolutionScore = result.OverallScore
	result.EfficiencyScore = result.OverallScore
	result.EmpathyScore = result.OverallScore
	result.AccuracyScore = result.OverallScore
	result.WasSuccessful = result.OverallScore >= 0.7
	return result
}

// stripJSONFences removes markdown code fences some models wrap JSON in.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
