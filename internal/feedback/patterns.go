package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

const patternSystemPrompt = "You aggregate call-quality feedback for a medical office phone assistant. " +
	"Find recurring failure patterns and respond with a single JSON object only."

// patternWindow bounds how far back pattern detection looks.
const patternWindow = 24 * time.Hour

// patternBatchLimit caps the feedback rows sent to the LLM.
const patternBatchLimit = 100

// insightsResponse is the aggregation JSON shape.
type insightsResponse struct {
	Insights []struct {
		Type          string `json:"type"`
		Category      string `json:"category"`
		Title         string `json:"title"`
		Detail        string `json:"detail"`
		SuggestedFix  string `json:"suggested_fix"`
		Severity      string `json:"severity"`
		AffectedCalls int    `json:"affected_calls"`
	} `json:"insights"`
}

// DetectPatterns mines recent feedback for recurring failures and persists
// new open insights, deduplicated by title.
func (a *Analyzer) DetectPatterns(ctx context.Context, practiceID uuid.UUID) error {
	ctx, span := feedbackTracer.Start(ctx, "feedback.detect_patterns")
	defer span.End()

	if a.client == nil {
		return nil
	}

	since := time.Now().UTC().Add(-patternWindow)
	recent, err := a.store.ListRecent(ctx, practiceID, since, patternBatchLimit)
	if err != nil {
		return err
	}
	if len(recent) < 2 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: patternSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPatternPrompt(recent)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("feedback: pattern llm call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	var parsed insightsResponse
	if err := json.Unmarshal([]byte(stripJSONFences(resp.Choices[0].Message.Content)), &parsed); err != nil {
		return fmt.Errorf("feedback: parse insights: %w", err)
	}

	inserted := 0
	for _, in := range parsed.Insights {
		title := strings.TrimSpace(in.Title)
		if title == "" {
			continue
		}
		ok, err := a.store.InsertInsight(ctx, &Insight{
			PracticeID:    practiceID,
			Type:          in.Type,
			Category:      in.Category,
			Title:         title,
			Detail:        in.Detail,
			SuggestedFix:  in.SuggestedFix,
			Severity:      in.Severity,
			AffectedCalls: in.AffectedCalls,
		})
		if err != nil {
			return err
		}
		if ok {
			inserted++
		}
	}
	if inserted > 0 {
		a.logger.Info("feedback: new insights recorded", "practice_id", practiceID, "count", inserted)
	}
	return nil
}

func buildPatternPrompt(recent []CallFeedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recent call feedback (%d calls, newest first):\n", len(recent))
	for _, fb := range recent {
		fmt.Fprintf(&b, "- score=%.2f", fb.OverallScore)
		if fb.FailurePoint != "" {
			fmt.Fprintf(&b, " failure=%s", fb.FailurePoint)
		}
		if fb.FailureReason != "" {
			fmt.Fprintf(&b, " reason=%q", fb.FailureReason)
		}
		if fb.CallerDropped {
			b.WriteString(" caller_dropped")
		}
		b.WriteByte('\n')
	}
	b.WriteString(`
Respond with JSON: {"insights": [{"type": <"failure"|"friction"|"opportunity">,
"category": <e.g. "booking"|"identification"|"hours"|"other">,
"title": <short recurring pattern>, "detail": <what happens and how often>,
"suggested_fix": <concrete prompt or flow change>,
"severity": <"low"|"medium"|"high">, "affected_calls": <int>}]}.
Only include patterns appearing in at least two calls.`)
	return b.String()
}
