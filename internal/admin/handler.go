// Package admin is the JWT-guarded staff surface: the day's schedule,
// appointment status changes, voicemail and refill review, call-quality
// insights, and prompt management.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/feedback"
	"github.com/oakridgehealth/frontdesk/internal/refill"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/internal/training"
	"github.com/oakridgehealth/frontdesk/internal/voicemail"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

// maxUploadBytes caps a single training audio upload at 25 MB, the
// transcription API's own limit.
const maxUploadBytes = 25 << 20

// AppointmentBook reads and mutates appointment rows.
type AppointmentBook interface {
	ListForDate(ctx context.Context, practiceID uuid.UUID, date time.Time) ([]booking.Appointment, error)
	Get(ctx context.Context, practiceID, id uuid.UUID) (*booking.Appointment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, practiceID, id uuid.UUID, status string, notes string) error
}

// BookingCanceller cancels through the engine so reminders and the
// waitlist cascade fire.
type BookingCanceller interface {
	Cancel(ctx context.Context, practiceID, id uuid.UUID, reason string) (*booking.Appointment, int, error)
}

// VoicemailQueue is the review queue for recorded messages.
type VoicemailQueue interface {
	ListUnreviewed(ctx context.Context, practiceID uuid.UUID, limit int) ([]voicemail.Voicemail, error)
	MarkReviewed(ctx context.Context, practiceID, id uuid.UUID) error
}

// RefillQueue is the review queue for refill requests.
type RefillQueue interface {
	ListPending(ctx context.Context, practiceID uuid.UUID, limit int) ([]refill.Request, error)
	UpdateStatus(ctx context.Context, practiceID, id uuid.UUID, status string) error
}

// InsightBoard lists and resolves call-quality insights.
type InsightBoard interface {
	ListOpenInsights(ctx context.Context, practiceID uuid.UUID, limit int) ([]feedback.Insight, error)
	ResolveInsight(ctx context.Context, practiceID, id uuid.UUID, status string) error
}

// PromptControl reads and replaces the active prompt version.
type PromptControl interface {
	ActivePromptVersion(ctx context.Context, practiceID uuid.UUID) (*feedback.PromptVersion, error)
	ApplyPrompt(ctx context.Context, practiceID uuid.UUID, prompt, reason string) (*feedback.PromptVersion, error)
}

// TrainingSessions opens training sessions.
type TrainingSessions interface {
	CreateSession(ctx context.Context, practiceID uuid.UUID, name string) (*training.Session, error)
	GetSession(ctx context.Context, practiceID, id uuid.UUID) (*training.Session, error)
}

// TrainingPipeline runs a session through upload, processing and publish.
type TrainingPipeline interface {
	Upload(ctx context.Context, practiceID, sessionID uuid.UUID, fileName, contentType string, body io.Reader) (*training.Recording, error)
	Process(ctx context.Context, practiceID, sessionID uuid.UUID) (*training.Session, error)
	Publish(ctx context.Context, practiceID, sessionID uuid.UUID, reason string) (*feedback.PromptVersion, error)
}

// Handler serves the staff endpoints.
type Handler struct {
	appointments AppointmentBook
	canceller    BookingCanceller
	voicemails   VoicemailQueue
	refills      RefillQueue
	insights     InsightBoard
	prompts      PromptControl
	sessions     TrainingSessions
	pipeline     TrainingPipeline
	logger       *logging.Logger
}

// HandlerConfig wires the staff handler. Nil collaborators disable their
// routes with 404s rather than panics; Appointments is required.
type HandlerConfig struct {
	Appointments AppointmentBook
	Canceller    BookingCanceller
	Voicemails   VoicemailQueue
	Refills      RefillQueue
	Insights     InsightBoard
	Prompts      PromptControl
	Sessions     TrainingSessions
	Pipeline     TrainingPipeline
	Logger       *logging.Logger
}

// NewHandler creates the staff handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Appointments == nil {
		panic("admin: appointments required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		appointments: cfg.Appointments,
		canceller:    cfg.Canceller,
		voicemails:   cfg.Voicemails,
		refills:      cfg.Refills,
		insights:     cfg.Insights,
		prompts:      cfg.Prompts,
		sessions:     cfg.Sessions,
		pipeline:     cfg.Pipeline,
		logger:       cfg.Logger,
	}
}

// Routes returns the staff router, mounted under /admin by the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/practices/{practiceID}", func(r chi.Router) {
		r.Get("/appointments", h.ListAppointments)
		r.Put("/appointments/{appointmentID}/status", h.UpdateAppointmentStatus)
		if h.voicemails != nil {
			r.Get("/voicemails", h.ListVoicemails)
			r.Post("/voicemails/{voicemailID}/review", h.ReviewVoicemail)
		}
		if h.refills != nil {
			r.Get("/refills", h.ListRefills)
			r.Put("/refills/{refillID}/status", h.UpdateRefillStatus)
		}
		if h.insights != nil {
			r.Get("/insights", h.ListInsights)
			r.Post("/insights/{insightID}/resolve", h.ResolveInsight)
		}
		if h.prompts != nil {
			r.Get("/prompt", h.GetActivePrompt)
			r.Post("/prompt", h.ApplyPrompt)
		}
		if h.sessions != nil && h.pipeline != nil {
			r.Post("/training/sessions", h.CreateTrainingSession)
			r.Get("/training/sessions/{sessionID}", h.GetTrainingSession)
			r.Post("/training/sessions/{sessionID}/recordings", h.UploadRecording)
			r.Post("/training/sessions/{sessionID}/process", h.ProcessTrainingSession)
			r.Post("/training/sessions/{sessionID}/publish", h.PublishTrainingSession)
		}
	})
	return r
}

// ListAppointments returns the schedule for one date.
// GET /admin/practices/{practiceID}/appointments?date=2026-03-09
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "date query parameter required")
		return
	}
	date, err := timeclock.ParseDate(raw, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unrecognized date")
		return
	}
	appts, err := h.appointments.ListForDate(r.Context(), practiceID, date)
	if err != nil {
		h.logger.Error("admin: list appointments", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":         date.Format(time.DateOnly),
		"appointments": appts,
	})
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// staffStatusTargets are the statuses staff may set directly. Cancellation
// goes through the booking engine so the waitlist cascade fires.
var staffStatusTargets = map[string]bool{
	booking.StatusConfirmed: true,
	booking.StatusNoShow:    true,
	booking.StatusCompleted: true,
	booking.StatusCancelled: true,
}

// UpdateAppointmentStatus transitions an appointment.
// PUT /admin/practices/{practiceID}/appointments/{appointmentID}/status
func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	apptID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !staffStatusTargets[req.Status] {
		writeError(w, http.StatusBadRequest, "status must be one of confirmed, no_show, completed, cancelled")
		return
	}

	appt, err := h.appointments.Get(r.Context(), practiceID, apptID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("admin: load appointment", "appointment_id", apptID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if appt.IsTerminal() {
		writeError(w, http.StatusConflict, "appointment is already "+appt.Status)
		return
	}

	if req.Status == booking.StatusCancelled {
		if h.canceller == nil {
			writeError(w, http.StatusBadRequest, "cancellation not available")
			return
		}
		reason := req.Notes
		if reason == "" {
			reason = "Cancelled by staff"
		}
		cancelled, notified, err := h.canceller.Cancel(r.Context(), practiceID, apptID, reason)
		if err != nil {
			h.logger.Error("admin: cancel appointment", "appointment_id", apptID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"appointment":       cancelled,
			"waitlist_notified": notified,
		})
		return
	}

	if err := h.appointments.UpdateStatus(r.Context(), nil, practiceID, apptID, req.Status, req.Notes); err != nil {
		h.logger.Error("admin: update status", "appointment_id", apptID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	appt.Status = req.Status
	h.logger.Info("admin: appointment status updated",
		"appointment_id", apptID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

// ListVoicemails returns unreviewed voicemails.
// GET /admin/practices/{practiceID}/voicemails
func (h *Handler) ListVoicemails(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	vms, err := h.voicemails.ListUnreviewed(r.Context(), practiceID, 100)
	if err != nil {
		h.logger.Error("admin: list voicemails", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voicemails": vms})
}

// ReviewVoicemail marks one voicemail reviewed.
// POST /admin/practices/{practiceID}/voicemails/{voicemailID}/review
func (h *Handler) ReviewVoicemail(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "voicemailID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid voicemail id")
		return
	}
	if err := h.voicemails.MarkReviewed(r.Context(), practiceID, id); err != nil {
		if errors.Is(err, voicemail.ErrNotFound) {
			writeError(w, http.StatusNotFound, "voicemail not found")
			return
		}
		h.logger.Error("admin: review voicemail", "voicemail_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviewed": true})
}

// ListRefills returns pending refill requests.
// GET /admin/practices/{practiceID}/refills
func (h *Handler) ListRefills(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	reqs, err := h.refills.ListPending(r.Context(), practiceID, 100)
	if err != nil {
		h.logger.Error("admin: list refills", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refills": reqs})
}

// UpdateRefillStatus resolves a refill request.
// PUT /admin/practices/{practiceID}/refills/{refillID}/status
func (h *Handler) UpdateRefillStatus(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "refillID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid refill id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != refill.StatusCompleted && req.Status != refill.StatusDenied {
		writeError(w, http.StatusBadRequest, "status must be completed or denied")
		return
	}
	if err := h.refills.UpdateStatus(r.Context(), practiceID, id, req.Status); err != nil {
		if errors.Is(err, refill.ErrNotFound) {
			writeError(w, http.StatusNotFound, "refill request not found")
			return
		}
		h.logger.Error("admin: update refill", "refill_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": req.Status})
}

// ListInsights returns open call-quality insights.
// GET /admin/practices/{practiceID}/insights
func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	ins, err := h.insights.ListOpenInsights(r.Context(), practiceID, 50)
	if err != nil {
		h.logger.Error("admin: list insights", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": ins})
}

// ResolveInsight closes one insight as applied or dismissed (the default).
// POST /admin/practices/{practiceID}/insights/{insightID}/resolve
func (h *Handler) ResolveInsight(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "insightID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid insight id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Status == "" {
		req.Status = feedback.InsightDismissed
	}
	if req.Status != feedback.InsightApplied && req.Status != feedback.InsightDismissed {
		writeError(w, http.StatusBadRequest, "status must be applied or dismissed")
		return
	}
	if err := h.insights.ResolveInsight(r.Context(), practiceID, id, req.Status); err != nil {
		if errors.Is(err, feedback.ErrNotFound) {
			writeError(w, http.StatusNotFound, "insight not found")
			return
		}
		h.logger.Error("admin: resolve insight", "insight_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": req.Status})
}

// GetActivePrompt returns the live prompt version.
// GET /admin/practices/{practiceID}/prompt
func (h *Handler) GetActivePrompt(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	pv, err := h.prompts.ActivePromptVersion(r.Context(), practiceID)
	if err != nil {
		if errors.Is(err, feedback.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no active prompt version")
			return
		}
		h.logger.Error("admin: active prompt", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// ApplyPrompt activates new prompt text as the next version.
// POST /admin/practices/{practiceID}/prompt
func (h *Handler) ApplyPrompt(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual update"
	}
	pv, err := h.prompts.ApplyPrompt(r.Context(), practiceID, req.Prompt, req.Reason)
	if err != nil {
		h.logger.Error("admin: apply prompt", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("admin: prompt version applied",
		"practice_id", practiceID, "version", pv.Version)
	writeJSON(w, http.StatusCreated, pv)
}

// CreateTrainingSession opens a training session.
// POST /admin/practices/{practiceID}/training/sessions
func (h *Handler) CreateTrainingSession(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := h.practiceID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	sess, err := h.sessions.CreateSession(r.Context(), practiceID, req.Name)
	if err != nil {
		h.logger.Error("admin: create training session", "practice_id", practiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetTrainingSession returns one session.
// GET /admin/practices/{practiceID}/training/sessions/{sessionID}
func (h *Handler) GetTrainingSession(w http.ResponseWriter, r *http.Request) {
	practiceID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.GetSession(r.Context(), practiceID, sessionID)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("admin: get training session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// UploadRecording accepts one audio file as multipart form field "audio".
// POST /admin/practices/{practiceID}/training/sessions/{sessionID}/recordings
func (h *Handler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	practiceID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form with an audio file required")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file field required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	rec, err := h.pipeline.Upload(r.Context(), practiceID, sessionID, header.Filename, contentType, file)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("admin: upload recording", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ProcessTrainingSession runs transcription, analysis and aggregation.
// POST /admin/practices/{practiceID}/training/sessions/{sessionID}/process
func (h *Handler) ProcessTrainingSession(w http.ResponseWriter, r *http.Request) {
	practiceID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	sess, err := h.pipeline.Process(r.Context(), practiceID, sessionID)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("admin: process training session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PublishTrainingSession activates the session's prompt draft.
// POST /admin/practices/{practiceID}/training/sessions/{sessionID}/publish
func (h *Handler) PublishTrainingSession(w http.ResponseWriter, r *http.Request) {
	practiceID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional
	_ = json.NewDecoder(r.Body).Decode(&req)

	pv, err := h.pipeline.Publish(r.Context(), practiceID, sessionID, req.Reason)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("admin: publish training session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, pv)
}

func (h *Handler) practiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "practiceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid practice id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) sessionScope(w http.ResponseWriter, r *http.Request) (practiceID, sessionID uuid.UUID, ok bool) {
	practiceID, ok = h.practiceID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, uuid.Nil, false
	}
	return practiceID, sessionID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
