package vapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakridgehealth/frontdesk/internal/calls"
	"github.com/oakridgehealth/frontdesk/internal/observability/metrics"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

// maxBodyBytes caps webhook payloads at 1 MB.
const maxBodyBytes = 1 << 20

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Vapi-Signature"

// CallRecorder is the call lifecycle surface the dispatcher drives.
type CallRecorder interface {
	CreateOrUpdate(ctx context.Context, practiceID uuid.UUID, externalID, callerPhone, status, direction string, startedAt, endedAt *time.Time) (*calls.Call, error)
	GetByExternalID(ctx context.Context, externalID string) (*calls.Call, error)
	SaveEndOfCall(ctx context.Context, externalID string, eoc calls.EndOfCall) error
}

// TenantLookup resolves a dialed number to a practice.
type TenantLookup interface {
	LookupByDialedNumber(ctx context.Context, number string) (uuid.UUID, error)
}

// FeedbackAnalyzer runs post-call analysis. Implemented by the feedback
// package; the dispatcher retries it in the background.
type FeedbackAnalyzer interface {
	AnalyzeCall(ctx context.Context, callID uuid.UUID) error
}

// Dispatcher terminates the voice-platform webhook. It always answers 200
// once a payload is accepted so the platform never retries; the only
// non-200 is 413 for over-size bodies.
type Dispatcher struct {
	secret     string
	production bool
	runtime    *Runtime
	calls      CallRecorder
	tenants    TenantLookup
	feedback   FeedbackAnalyzer
	logger     *logging.Logger
	metrics    *metrics.CallMetrics

	// spawn runs background work; overridable in tests to run inline.
	spawn func(func())
}

// DispatcherConfig wires the dispatcher.
type DispatcherConfig struct {
	WebhookSecret string
	Production    bool
	Runtime       *Runtime
	Calls         CallRecorder
	Tenants       TenantLookup
	Feedback      FeedbackAnalyzer
	Logger        *logging.Logger
	Metrics       *metrics.CallMetrics
}

// NewDispatcher creates the webhook dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Runtime == nil {
		panic("vapi: runtime required")
	}
	if cfg.Calls == nil {
		panic("vapi: call recorder required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Dispatcher{
		secret:     cfg.WebhookSecret,
		production: cfg.Production,
		runtime:    cfg.Runtime,
		calls:      cfg.Calls,
		tenants:    cfg.Tenants,
		feedback:   cfg.Feedback,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		spawn:      func(fn func()) { go fn() },
	}
}

// ServeHTTP handles POST /webhook/vapi.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := vapiTracer.Start(r.Context(), "vapi.webhook")
	defer span.End()
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		d.logger.Warn("vapi: read body failed", "error", err)
		d.metrics.ObserveWebhook("invalid", "read_failed", time.Since(start).Seconds())
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if len(body) > maxBodyBytes {
		d.metrics.ObserveWebhook("invalid", "oversize", time.Since(start).Seconds())
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if d.secret != "" {
		if !VerifySignature(d.secret, body, r.Header.Get(SignatureHeader)) {
			// Do not leak whether verification is enabled.
			d.logger.Warn("vapi: signature mismatch", "remote", r.RemoteAddr)
			d.metrics.ObserveWebhook("invalid", "bad_signature", time.Since(start).Seconds())
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
	} else if d.production {
		d.logger.Error("vapi: no webhook secret configured in production")
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	} else {
		d.logger.Warn("vapi: webhook secret not configured, accepting unsigned request")
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		d.logger.Warn("vapi: unparseable webhook body", "error", err)
		d.metrics.ObserveWebhook("invalid", "unparseable", time.Since(start).Seconds())
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	msg := &env.Message
	span.SetAttributes(attribute.String("frontdesk.event_type", msg.Type))

	practiceID, ok := d.resolveTenant(ctx, msg)
	if !ok {
		d.logger.Warn("vapi: unresolved tenant", "event_type", msg.Type, "dialed", msg.Call.DialedNumber())
		d.metrics.ObserveWebhook(msg.Type, "unresolved_tenant", time.Since(start).Seconds())
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	defer func() {
		d.metrics.ObserveWebhook(msg.Type, "ok", time.Since(start).Seconds())
	}()

	switch msg.Type {
	case TypeAssistantRequest:
		// Assistant configuration lives in the platform dashboard.
		writeJSON(w, http.StatusOK, map[string]any{"assistant": nil})
	case TypeStatusUpdate:
		d.handleStatusUpdate(ctx, practiceID, msg)
		writeJSON(w, http.StatusOK, map[string]any{})
	case TypeToolCalls:
		writeJSON(w, http.StatusOK, d.handleToolCalls(ctx, practiceID, msg))
	case TypeFunctionCall:
		writeJSON(w, http.StatusOK, d.handleFunctionCall(ctx, practiceID, msg))
	case TypeEndOfCall:
		d.handleEndOfCall(ctx, practiceID, msg)
		writeJSON(w, http.StatusOK, map[string]any{})
	case TypeHang:
		d.logger.Info("vapi: hang event", "call_id", externalCallID(msg))
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		d.logger.Info("vapi: unhandled event type", "type", msg.Type)
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

// resolveTenant maps the event to a practice: by the existing call record
// first, then by the dialed number. There is no default practice.
func (d *Dispatcher) resolveTenant(ctx context.Context, msg *Message) (uuid.UUID, bool) {
	id := externalCallID(msg)
	if id != "" {
		call, err := d.calls.GetByExternalID(ctx, id)
		if err == nil {
			return call.PracticeID, true
		}
		if !errors.Is(err, calls.ErrNotFound) {
			d.logger.Warn("vapi: call lookup failed", "external_call_id", id, "error", err)
		}
	}
	dialed := msg.Call.DialedNumber()
	if dialed == "" || d.tenants == nil {
		return uuid.Nil, false
	}
	practiceID, err := d.tenants.LookupByDialedNumber(ctx, dialed)
	if err != nil {
		if !errors.Is(err, practice.ErrNotFound) {
			d.logger.Warn("vapi: dialed number lookup failed", "number", dialed, "error", err)
		}
		return uuid.Nil, false
	}
	return practiceID, true
}

func (d *Dispatcher) handleStatusUpdate(ctx context.Context, practiceID uuid.UUID, msg *Message) {
	id := externalCallID(msg)
	if id == "" {
		return
	}
	var caller string
	if msg.Call != nil && msg.Call.Customer != nil {
		caller = msg.Call.Customer.Number
	}
	var started *time.Time
	if msg.Status == "in-progress" || msg.Status == "ringing" {
		now := time.Now().UTC()
		started = &now
	}
	if _, err := d.calls.CreateOrUpdate(ctx, practiceID, id, caller, msg.Status, msg.Call.Direction(), started, nil); err != nil {
		d.logger.Warn("vapi: status update persist failed", "external_call_id", id, "error", err)
	}
}

func (d *Dispatcher) handleToolCalls(ctx context.Context, practiceID uuid.UUID, msg *Message) map[string]any {
	id := externalCallID(msg)
	results := make([]map[string]any, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		out := d.runtime.Invoke(ctx, practiceID, tc.Function.Name, tc.Function.RawParams(), id)
		results = append(results, map[string]any{
			"toolCallId": tc.ID,
			"result":     encodeToolResult(out),
		})
	}
	return map[string]any{"results": results}
}

func (d *Dispatcher) handleFunctionCall(ctx context.Context, practiceID uuid.UUID, msg *Message) map[string]any {
	if msg.FunctionCall == nil {
		return map[string]any{}
	}
	out := d.runtime.Invoke(ctx, practiceID, msg.FunctionCall.Name, msg.FunctionCall.RawParams(), externalCallID(msg))
	return map[string]any{"result": encodeToolResult(out)}
}

func (d *Dispatcher) handleEndOfCall(ctx context.Context, practiceID uuid.UUID, msg *Message) {
	id := externalCallID(msg)
	if id == "" {
		d.logger.Warn("vapi: end-of-call report without call id")
		return
	}

	var caller string
	if msg.Call != nil && msg.Call.Customer != nil {
		caller = msg.Call.Customer.Number
	}
	call, err := d.calls.CreateOrUpdate(ctx, practiceID, id, caller, "ended", msg.Call.Direction(), msg.StartedAt, msg.EndedAt)
	if err != nil {
		d.logger.Error("vapi: end-of-call upsert failed", "external_call_id", id, "error", err)
		return
	}

	duration := msg.Duration()
	callerPhone := call.CallerPhone
	if callerPhone == "" {
		callerPhone = caller
	}
	eoc := calls.EndOfCall{
		Transcript:        msg.TranscriptText(),
		RecordingURL:      msg.RecordingURL,
		Summary:           msg.SummaryText(),
		StructuredData:    msg.StructuredData(),
		SuccessEvaluation: successEvaluation(msg),
		DurationSeconds:   duration,
		Cost:              msg.Cost,
		EndedReason:       msg.EndedReason,
		EndedAt:           msg.EndedAt,
		CallbackNeeded:    NeedsCallback(msg.EndedReason, duration, call.CallerName, callerPhone),
	}
	if err := d.calls.SaveEndOfCall(ctx, id, eoc); err != nil {
		d.logger.Error("vapi: end-of-call persist failed", "external_call_id", id, "error", err)
		return
	}
	d.logger.Info("vapi: end-of-call recorded",
		"external_call_id", id, "duration_s", duration,
		"ended_reason", msg.EndedReason, "callback_needed", eoc.CallbackNeeded)

	if d.feedback != nil {
		callID := call.ID
		d.spawn(func() { d.analyzeWithRetry(callID) })
	}
}

// analyzeWithRetry runs feedback analysis with up to 3 attempts and
// exponential backoff. Detached from the request context.
func (d *Dispatcher) analyzeWithRetry(callID uuid.UUID) {
	backoff := 2 * time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := d.feedback.AnalyzeCall(ctx, callID)
		cancel()
		if err == nil {
			return
		}
		d.logger.Warn("vapi: feedback analysis failed", "call_id", callID, "attempt", attempt, "error", err)
		if attempt < 3 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
}

func externalCallID(msg *Message) string {
	if msg.Call == nil {
		return ""
	}
	return msg.Call.ID
}

func successEvaluation(msg *Message) string {
	if msg.Analysis == nil || len(msg.Analysis.SuccessEvaluation) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg.Analysis.SuccessEvaluation, &s); err == nil {
		return s
	}
	return string(msg.Analysis.SuccessEvaluation)
}

// encodeToolResult flattens a tool result for the platform: a bare error
// becomes its message, anything else is compact JSON.
func encodeToolResult(out map[string]any) string {
	if len(out) == 1 {
		if msg, ok := out["error"].(string); ok {
			return msg
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "done"
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
