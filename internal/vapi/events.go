// Package vapi terminates voice-platform webhooks: signature verification,
// tenant resolution, event dispatch and the tool runtime.
package vapi

import (
	"encoding/json"
	"strings"
	"time"
)

// Webhook event types.
const (
	TypeAssistantRequest = "assistant-request"
	TypeStatusUpdate     = "status-update"
	TypeToolCalls        = "tool-calls"
	TypeFunctionCall     = "function-call"
	TypeEndOfCall        = "end-of-call-report"
	TypeHang             = "hang"
)

// Envelope is the webhook body: {message: {type, ...}}.
type Envelope struct {
	Message Message `json:"message"`
}

// Message is one platform event. Only the fields relevant to the type are
// populated.
type Message struct {
	Type         string        `json:"type"`
	Call         *CallInfo     `json:"call"`
	Status       string        `json:"status"`
	ToolCalls    []ToolCall    `json:"toolCalls"`
	FunctionCall *FunctionCall `json:"functionCall"`

	// End-of-call report fields.
	Transcript        string          `json:"transcript"`
	RecordingURL      string          `json:"recordingUrl"`
	Summary           string          `json:"summary"`
	Analysis          *Analysis       `json:"analysis"`
	Messages          []TurnMessage   `json:"messages"`
	StartedAt         *time.Time      `json:"startedAt"`
	EndedAt           *time.Time      `json:"endedAt"`
	DurationSeconds   float64         `json:"durationSeconds"`
	Cost              float64         `json:"cost"`
	EndedReason       string          `json:"endedReason"`
	StructuredDataRaw json.RawMessage `json:"structuredData"`
}

// CallInfo identifies the call and the dialed number.
type CallInfo struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Customer    *Party       `json:"customer"`
	PhoneNumber *DialedPhone `json:"phoneNumber"`
}

// Party is a call participant.
type Party struct {
	Number string `json:"number"`
}

// DialedPhone is the practice-side number the caller reached.
type DialedPhone struct {
	Number            string `json:"number"`
	TwilioPhoneNumber string `json:"twilioPhoneNumber"`
}

// DialedNumber returns whichever dialed-number field is populated.
func (c *CallInfo) DialedNumber() string {
	if c == nil || c.PhoneNumber == nil {
		return ""
	}
	if c.PhoneNumber.Number != "" {
		return c.PhoneNumber.Number
	}
	return c.PhoneNumber.TwilioPhoneNumber
}

// Direction derives inbound/outbound from the platform call type.
func (c *CallInfo) Direction() string {
	if c == nil {
		return "inbound"
	}
	if strings.Contains(strings.ToLower(c.Type), "outbound") {
		return "outbound"
	}
	return "inbound"
}

// Analysis holds the platform's own call evaluation.
type Analysis struct {
	Summary           string          `json:"summary"`
	StructuredData    json.RawMessage `json:"structuredData"`
	SuccessEvaluation json.RawMessage `json:"successEvaluation"`
}

// TurnMessage is one conversation turn, the transcript fallback.
type TurnMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	Content string `json:"content"`
}

// ToolCall is one entry of a tool-calls event.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names a tool and carries its raw arguments, which arrive
// either as an object or as a JSON-encoded string.
type FunctionCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

// RawParams returns whichever argument field is populated.
func (f *FunctionCall) RawParams() json.RawMessage {
	if len(f.Arguments) > 0 {
		return f.Arguments
	}
	return f.Parameters
}

// TranscriptText prefers the plain transcript, falling back to joining the
// turn messages by role.
func (m *Message) TranscriptText() string {
	if strings.TrimSpace(m.Transcript) != "" {
		return m.Transcript
	}
	var b strings.Builder
	for _, turn := range m.Messages {
		text := turn.Message
		if text == "" {
			text = turn.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		role := turn.Role
		if role == "" {
			role = "unknown"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(text)
	}
	return b.String()
}

// StructuredData prefers the analysis block over the top-level field.
func (m *Message) StructuredData() json.RawMessage {
	if m.Analysis != nil && len(m.Analysis.StructuredData) > 0 {
		return m.Analysis.StructuredData
	}
	return m.StructuredDataRaw
}

// SummaryText prefers the analysis summary.
func (m *Message) SummaryText() string {
	if m.Analysis != nil && m.Analysis.Summary != "" {
		return m.Analysis.Summary
	}
	return m.Summary
}

// Duration computes seconds, falling back to the timestamp delta.
func (m *Message) Duration() int {
	if m.DurationSeconds > 0 {
		return int(m.DurationSeconds)
	}
	if m.StartedAt != nil && m.EndedAt != nil && m.EndedAt.After(*m.StartedAt) {
		return int(m.EndedAt.Sub(*m.StartedAt).Seconds())
	}
	return 0
}

// callbackReasons are ended reasons that flag a staff callback.
var callbackReasons = map[string]bool{
	"customer-did-not-answer":              true,
	"customer-busy":                        true,
	"assistant-error":                      true,
	"phone-call-provider-closed-websocket": true,
	"assistant-forwarded-call":             true,
	"voicemail":                            true,
}

// NeedsCallback applies the callback flag rule: a suspicious ended reason
// or a sub-15s call, provided the caller left any identity to call back.
func NeedsCallback(endedReason string, durationSeconds int, callerName, callerPhone string) bool {
	if callerName == "" && callerPhone == "" {
		return false
	}
	if callbackReasons[endedReason] {
		return true
	}
	return durationSeconds > 0 && durationSeconds < 15
}
