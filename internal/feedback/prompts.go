package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

const improveSystemPrompt = "You refine the system prompt of a medical office phone assistant. " +
	"Return only the improved prompt text, no commentary."

// ImprovePrompt asks the LLM for a better system prompt given the active
// version and the open insights, then activates it as a new version.
func (a *Analyzer) ImprovePrompt(ctx context.Context, practiceID uuid.UUID, reason string) (*PromptVersion, error) {
	ctx, span := feedbackTracer.Start(ctx, "feedback.improve_prompt")
	defer span.End()

	if a.client == nil {
		return nil, errors.New("feedback: no llm client configured")
	}

	active, err := a.store.ActivePromptVersion(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	insights, err := a.store.ListOpenInsights(ctx, practiceID, 20)
	if err != nil {
		return nil, err
	}
	if len(insights) == 0 {
		return nil, errors.New("feedback: no open insights to act on")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: improveSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildImprovePrompt(active.Prompt, insights)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: improve llm call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("feedback: empty llm response")
	}
	improved := strings.TrimSpace(stripJSONFences(resp.Choices[0].Message.Content))
	if improved == "" {
		return nil, errors.New("feedback: llm returned an empty prompt")
	}

	pv, err := a.store.ApplyPrompt(ctx, practiceID, improved, reason)
	if err != nil {
		return nil, err
	}
	a.logger.Info("feedback: prompt version activated",
		"practice_id", practiceID, "version", pv.Version, "reason", reason)
	return pv, nil
}

func buildImprovePrompt(current string, insights []Insight) string {
	var b strings.Builder
	b.WriteString("Current system prompt:\n---\n")
	b.WriteString(current)
	b.WriteString("\n---\n\nObserved problems from recent calls:\n")
	for _, in := range insights {
		fmt.Fprintf(&b, "- [%s] %s", in.Severity, in.Title)
		if in.Detail != "" {
			fmt.Fprintf(&b, ": %s", in.Detail)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nRewrite the prompt to address these problems. Keep what works. Return only the prompt text.")
	return b.String()
}
