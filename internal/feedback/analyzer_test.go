package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/oakridgehealth/frontdesk/internal/calls"
)

var (
	fbPracticeID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	fbCallID     = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	fbVersionID  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

type fakeChat struct {
	responses []string
	err       error
	requests  []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	content := ""
	if len(f.responses) > 0 {
		content = f.responses[0]
		f.responses = f.responses[1:]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

type fakeCallSource struct {
	call *calls.Call
}

func (f *fakeCallSource) Get(_ context.Context, _ uuid.UUID) (*calls.Call, error) {
	if f.call == nil {
		return nil, calls.ErrNotFound
	}
	return f.call, nil
}

type analyzerFixture struct {
	analyzer *Analyzer
	mock     pgxmock.PgxPoolIface
	chat     *fakeChat
	source   *fakeCallSource
}

func newAnalyzerFixture(t *testing.T) *analyzerFixture {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	f := &analyzerFixture{
		mock: mock,
		chat: &fakeChat{},
		source: &fakeCallSource{call: &calls.Call{
			ID: fbCallID, PracticeID: fbPracticeID,
			Transcript: "assistant: Hello\nuser: I need an appointment",
			Direction:  "inbound", EndedReason: "customer-ended-call",
			DurationSeconds: 95,
		}},
	}
	f.analyzer = NewAnalyzer(AnalyzerConfig{
		Store:    NewStore(mock),
		Calls:    f.source,
		Client:   f.chat,
		PatternN: 10,
	})
	return f
}

func (f *analyzerFixture) expectNoActiveVersion() {
	f.mock.ExpectQuery("FROM prompt_versions").
		WithArgs(fbPracticeID).
		WillReturnError(pgx.ErrNoRows)
}

func (f *analyzerFixture) expectInsert() {
	f.mock.ExpectExec("INSERT INTO call_feedback").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func (f *analyzerFixture) expectCount(n int) {
	f.mock.ExpectQuery("SELECT COUNT").
		WithArgs(fbPracticeID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
}

func TestAnalyzeSkipsShortCall(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.source.call.DurationSeconds = 3

	if err := f.analyzer.AnalyzeCall(context.Background(), fbCallID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(f.chat.requests) != 0 {
		t.Fatal("llm should not have been called")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAnalyzeSkipsExistingFeedback(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.mock.ExpectQuery("SELECT 1 FROM call_feedback").
		WithArgs(fbCallID).
		WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))

	if err := f.analyzer.AnalyzeCall(context.Background(), fbCallID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(f.chat.requests) != 0 {
		t.Fatal("llm should not have been called")
	}
}

func TestAnalyzeClampsScoreAndStripsFences(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.chat.responses = []string{"```json\n{\"overall_score\": 1.8, \"complexity\": \"simple\", \"key_observations\": [\"polite\"]}\n```"}

	f.mock.ExpectQuery("SELECT 1 FROM call_feedback").
		WithArgs(fbCallID).
		WillReturnError(pgx.ErrNoRows)
	f.expectNoActiveVersion()
	f.mock.ExpectExec("INSERT INTO call_feedback").
		WithArgs(pgxmock.AnyArg(), fbPracticeID, fbCallID, pgxmock.AnyArg(),
			1.0, 0.0, 0.0, 0.0, 0.0, false, "", "", "", "simple",
			false, []string{"polite"}, SourceLLM, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.expectCount(7) // 7 % 10 != 0, no pattern run

	if err := f.analyzer.AnalyzeCall(context.Background(), fbCallID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAnalyzeFallsBackWhenLLMUnreachable(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.chat.err = errors.New("connection refused")
	f.source.call.EndedReason = "assistant-error"

	f.mock.ExpectQuery("SELECT 1 FROM call_feedback").
		WithArgs(fbCallID).
		WillReturnError(pgx.ErrNoRows)
	f.expectNoActiveVersion()
	f.mock.ExpectExec("INSERT INTO call_feedback").
		WithArgs(pgxmock.AnyArg(), fbPracticeID, fbCallID, pgxmock.AnyArg(),
			0.1, 0.1, 0.1, 0.1, 0.1, false, "platform_error", "assistant-error", "", "simple",
			false, []string(nil), SourceFallback, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// 0.1 < 0.3 triggers pattern detection immediately; the window query
	// returns a single row, which is below the pattern minimum.
	f.mock.ExpectQuery("FROM call_feedback").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "call_id", "prompt_version_id", "overall_score",
			"resolution_score", "efficiency_score", "empathy_score", "accuracy_score",
			"was_successful", "failure_point", "failure_reason", "improvement", "complexity",
			"caller_dropped", "key_observations", "source", "created_at",
		}))

	if err := f.analyzer.AnalyzeCall(context.Background(), fbCallID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAnalyzeLinksActivePromptAndRefreshesMetrics(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.chat.responses = []string{`{"overall_score": 0.9, "complexity": "simple"}`}

	now := time.Now().UTC()
	f.mock.ExpectQuery("SELECT 1 FROM call_feedback").
		WithArgs(fbCallID).
		WillReturnError(pgx.ErrNoRows)
	f.mock.ExpectQuery("FROM prompt_versions").
		WithArgs(fbPracticeID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "version", "prompt", "reason", "is_active",
			"total_calls", "successful_calls", "avg_score", "booking_rate",
			"activated_at", "deactivated_at", "created_at",
		}).AddRow(fbVersionID, fbPracticeID, 3, "You are a scheduler.", "", true,
			10, 7, 0.72, 0.4, &now, nil, now))
	f.expectInsert()
	f.mock.ExpectExec("UPDATE prompt_versions").
		WithArgs(fbVersionID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.expectCount(3)

	if err := f.analyzer.AnalyzeCall(context.Background(), fbCallID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFallbackScore(t *testing.T) {
	cases := []struct {
		reason     string
		duration   int
		score      float64
		dropped    bool
		successful bool
	}{
		{"customer-ended-call", 120, 0.7, false, true},
		{"customer-ended-call", 30, 0.5, false, false},
		{"customer-ended-call", 8, 0.3, true, false},
		{"assistant-error", 40, 0.1, false, false},
		{"voicemail", 20, 0.2, false, false},
		{"something-new", 60, 0.4, false, false},
	}
	for _, tc := range cases {
		got := fallbackScore(&calls.Call{EndedReason: tc.reason, DurationSeconds: tc.duration})
		if got.OverallScore != tc.score {
			t.Fatalf("%s/%ds: score = %v, want %v", tc.reason, tc.duration, got.OverallScore, tc.score)
		}
		if got.CallerDropped != tc.dropped {
			t.Fatalf("%s/%ds: dropped = %v", tc.reason, tc.duration, got.CallerDropped)
		}
		if got.WasSuccessful != tc.successful {
			t.Fatalf("%s/%ds: successful = %v", tc.reason, tc.duration, got.WasSuccessful)
		}
		if got.ResolutionScore != tc.score || got.AccuracyScore != tc.score {
			t.Fatalf("%s/%ds: sub-scores should mirror overall", tc.reason, tc.duration)
		}
	}
}

func TestBuildAnalysisPromptTruncatesTranscript(t *testing.T) {
	long := make([]byte, maxTranscriptBytes*2)
	for i := range long {
		long[i] = 'x'
	}
	prompt := buildAnalysisPrompt(&calls.Call{Transcript: string(long), DurationSeconds: 60})
	if len(prompt) > maxTranscriptBytes+1024 {
		t.Fatalf("prompt too long: %d bytes", len(prompt))
	}
}

func TestDetectPatternsDedupsByTitle(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.chat.responses = []string{`{"insights": [
		{"title": "Confuses similar appointment types", "detail": "3 calls", "severity": "medium"},
		{"title": "", "detail": "ignored", "severity": "low"},
		{"title": "Already open insight", "detail": "dup", "severity": "high"}]}`}

	feedbackCols := []string{
		"id", "practice_id", "call_id", "prompt_version_id", "overall_score",
		"resolution_score", "efficiency_score", "empathy_score", "accuracy_score",
		"was_successful", "failure_point", "failure_reason", "improvement", "complexity",
		"caller_dropped", "key_observations", "source", "created_at",
	}
	rows := pgxmock.NewRows(feedbackCols)
	for i := 0; i < 3; i++ {
		rows.AddRow(uuid.New(), fbPracticeID, uuid.New(), nil, 0.2,
			0.2, 0.2, 0.2, 0.2, false,
			"booking", "type confusion", "", "simple", false, []string(nil), SourceLLM, time.Now())
	}
	f.mock.ExpectQuery("FROM call_feedback").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows)
	f.mock.ExpectExec("INSERT INTO feedback_insights").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.mock.ExpectExec("INSERT INTO feedback_insights").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0)) // dedup hit

	if err := f.analyzer.DetectPatterns(context.Background(), fbPracticeID); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyPromptActivatesNextVersion(t *testing.T) {
	f := newAnalyzerFixture(t)
	now := time.Now().UTC()

	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE prompt_versions SET is_active = FALSE").
		WithArgs(fbPracticeID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectQuery("INSERT INTO prompt_versions").
		WithArgs(pgxmock.AnyArg(), fbPracticeID, "Improved prompt.", "low booking rate", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "version", "prompt", "reason", "is_active",
			"total_calls", "successful_calls", "avg_score", "booking_rate",
			"activated_at", "deactivated_at", "created_at",
		}).AddRow(uuid.New(), fbPracticeID, 4, "Improved prompt.", "low booking rate", true,
			0, 0, 0.0, 0.0, &now, nil, now))
	f.mock.ExpectCommit()

	store := NewStore(f.mock)
	pv, err := store.ApplyPrompt(context.Background(), fbPracticeID, "Improved prompt.", "low booking rate")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if pv.Version != 4 || !pv.IsActive {
		t.Fatalf("version = %+v", pv)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStripJSONFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                      `{"a":1}`,
		"```json\n{\"a\":1}\n```":        `{"a":1}`,
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"  ```json\n{\"a\": [1,2]}\n```": `{"a": [1,2]}`,
	}
	for in, want := range cases {
		if got := stripJSONFences(in); got != want {
			t.Fatalf("strip(%q) = %q, want %q", in, got, want)
		}
	}
}
