// Package calls records voice call lifecycles, keyed idempotently by the
// platform's external call id.
package calls

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Call directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Call is one voice call and its artefacts. Identity fields fill in
// mid-call as the assistant learns them; end-of-call artefacts arrive last.
type Call struct {
	ID                uuid.UUID
	PracticeID        uuid.UUID
	ExternalCallID    string
	PatientID         *uuid.UUID
	AppointmentID     *uuid.UUID
	CallerName        string
	CallerPhone       string
	Direction         string
	Status            string
	StartedAt         *time.Time
	EndedAt           *time.Time
	Transcript        string
	RecordingURL      string
	Summary           string
	StructuredData    json.RawMessage
	SuccessEvaluation string
	DurationSeconds   int
	Cost              float64
	EndedReason       string
	CallbackNeeded    bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EndOfCall is the artefact bundle from the end-of-call report.
type EndOfCall struct {
	Transcript        string
	RecordingURL      string
	Summary           string
	StructuredData    json.RawMessage
	SuccessEvaluation string
	DurationSeconds   int
	Cost              float64
	EndedReason       string
	EndedAt           *time.Time
	CallbackNeeded    bool
}
