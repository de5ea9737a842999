package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/oakridgehealth/frontdesk/internal/feedback"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var trainingTracer = otel.Tracer("frontdesk.internal.training")

const analyseSystemPrompt = "You review transcripts of practice calls handled by a medical office " +
	"phone assistant. Point out what the assistant did well and where it went wrong. Be concrete and brief."

const draftSystemPrompt = "You write the system prompt for a medical office phone assistant. " +
	"Given per-call reviews, produce an improved prompt that fixes the recurring problems. " +
	"Return only the prompt text, no commentary."

// AudioStorage is the object storage surface the pipeline uses.
type AudioStorage interface {
	Key(practiceID, sessionID, recordingID uuid.UUID, fileName string) string
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// llmClient covers the two OpenAI calls the pipeline makes. *openai.Client
// satisfies it.
type llmClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// PromptPublisher activates a drafted prompt as the next live version.
// *feedback.Store satisfies it.
type PromptPublisher interface {
	ApplyPrompt(ctx context.Context, practiceID uuid.UUID, prompt, reason string) (*feedback.PromptVersion, error)
}

// Pipeline runs a training session end to end: upload, transcribe, analyse,
// aggregate, and optionally publish the resulting prompt.
type Pipeline struct {
	store     *Store
	audio     AudioStorage
	client    llmClient
	publisher PromptPublisher
	model     string
	timeout   time.Duration
	logger    *logging.Logger
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Store     *Store
	Audio     AudioStorage
	Client    llmClient
	Publisher PromptPublisher
	Model     string
	Timeout   time.Duration
	Logger    *logging.Logger
}

// NewPipeline builds a Pipeline. Store and Audio are required.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Store == nil {
		panic("training: nil store")
	}
	if cfg.Audio == nil {
		panic("training: nil audio storage")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Pipeline{
		store:     cfg.Store,
		audio:     cfg.Audio,
		client:    cfg.Client,
		publisher: cfg.Publisher,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// Upload stores one audio file against an open session.
func (p *Pipeline) Upload(ctx context.Context, practiceID, sessionID uuid.UUID, fileName, contentType string, body io.Reader) (*Recording, error) {
	sess, err := p.store.GetSession(ctx, practiceID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != SessionOpen {
		return nil, fmt.Errorf("training: session %s is %s, uploads are closed", sess.ID, sess.Status)
	}

	rec := &Recording{ID: uuid.New(), SessionID: sess.ID, FileName: fileName}
	rec.S3Key = p.audio.Key(practiceID, sess.ID, rec.ID, fileName)
	if err := p.audio.Put(ctx, rec.S3Key, contentType, body); err != nil {
		return nil, err
	}
	if err := p.store.AddRecording(ctx, rec); err != nil {
		return nil, err
	}
	p.logger.Info("training: recording uploaded",
		"session_id", sess.ID, "recording_id", rec.ID, "key", rec.S3Key)
	return rec, nil
}

// Process transcribes and analyses every recording in the session, then
// aggregates the analyses into a prompt draft. Recordings that fail are
// marked and skipped; the session completes if at least one survives.
func (p *Pipeline) Process(ctx context.Context, practiceID, sessionID uuid.UUID) (*Session, error) {
	ctx, span := trainingTracer.Start(ctx, "training.process")
	defer span.End()

	if p.client == nil {
		return nil, errors.New("training: no llm client configured")
	}
	sess, err := p.store.GetSession(ctx, practiceID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == SessionComplete {
		return nil, fmt.Errorf("training: session %s already processed", sess.ID)
	}
	if err := p.store.UpdateSessionStatus(ctx, sess.ID, SessionProcessing); err != nil {
		return nil, err
	}

	recs, err := p.store.ListRecordings(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("training: session %s has no recordings", sess.ID)
	}

	var analyses []string
	for i := range recs {
		rec := &recs[i]
		if rec.Status == RecordingFailed {
			continue
		}
		if err := p.processRecording(ctx, rec); err != nil {
			p.logger.Error("training: recording failed",
				"recording_id", rec.ID, "error", err)
			if mErr := p.store.MarkRecordingFailed(ctx, rec.ID); mErr != nil {
				p.logger.Error("training: mark failed", "recording_id", rec.ID, "error", mErr)
			}
			continue
		}
		analyses = append(analyses, rec.Analysis)
	}
	if len(analyses) == 0 {
		return nil, fmt.Errorf("training: no recordings in session %s could be processed", sess.ID)
	}

	draft, err := p.draftPrompt(ctx, analyses)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveDraft(ctx, sess.ID, draft); err != nil {
		return nil, err
	}
	if err := p.store.UpdateSessionStatus(ctx, sess.ID, SessionComplete); err != nil {
		return nil, err
	}

	sess.PromptDraft = draft
	sess.Status = SessionComplete
	p.logger.Info("training: session processed",
		"session_id", sess.ID, "recordings", len(recs), "analysed", len(analyses))
	return sess, nil
}

// Publish activates a completed session's draft as the next prompt version.
func (p *Pipeline) Publish(ctx context.Context, practiceID, sessionID uuid.UUID, reason string) (*feedback.PromptVersion, error) {
	if p.publisher == nil {
		return nil, errors.New("training: no prompt publisher configured")
	}
	sess, err := p.store.GetSession(ctx, practiceID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != SessionComplete || strings.TrimSpace(sess.PromptDraft) == "" {
		return nil, fmt.Errorf("training: session %s has no draft to publish", sess.ID)
	}
	if reason == "" {
		reason = fmt.Sprintf("training session %s", sess.Name)
	}
	pv, err := p.publisher.ApplyPrompt(ctx, practiceID, sess.PromptDraft, reason)
	if err != nil {
		return nil, err
	}
	p.logger.Info("training: prompt published",
		"session_id", sess.ID, "version", pv.Version)
	return pv, nil
}

func (p *Pipeline) processRecording(ctx context.Context, rec *Recording) error {
	if rec.Transcript == "" {
		body, err := p.audio.Get(ctx, rec.S3Key)
		if err != nil {
			return err
		}
		tctx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err := p.client.CreateTranscription(tctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			Reader:   body,
			FilePath: rec.FileName,
		})
		cancel()
		body.Close()
		if err != nil {
			return fmt.Errorf("training: transcribe: %w", err)
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return errors.New("training: empty transcript")
		}
		if err := p.store.SaveTranscript(ctx, rec.ID, text); err != nil {
			return err
		}
		rec.Transcript = text
		rec.Status = RecordingTranscribed
	}

	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.client.CreateChatCompletion(actx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analyseSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Transcript:\n" + rec.Transcript},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("training: analyse: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("training: empty analysis response")
	}
	analysis := strings.TrimSpace(resp.Choices[0].Message.Content)
	if analysis == "" {
		return errors.New("training: empty analysis")
	}
	if err := p.store.SaveAnalysis(ctx, rec.ID, analysis); err != nil {
		return err
	}
	rec.Analysis = analysis
	rec.Status = RecordingAnalysed
	return nil
}

func (p *Pipeline) draftPrompt(ctx context.Context, analyses []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Reviews of %d practice calls:\n", len(analyses))
	for i, a := range analyses {
		fmt.Fprintf(&b, "\nCall %d:\n%s\n", i+1, a)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("training: draft prompt: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("training: empty draft response")
	}
	draft := strings.TrimSpace(resp.Choices[0].Message.Content)
	if draft == "" {
		return "", errors.New("training: llm returned an empty draft")
	}
	return draft, nil
}
