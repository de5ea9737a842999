package inbound

import (
	"net/http"

	"go.opentelemetry.io/otel"

	"github.com/oakridgehealth/frontdesk/internal/sms"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var handlerTracer = otel.Tracer("frontdesk.internal.inbound.handler")

// Handler is the Twilio inbound SMS webhook.
type Handler struct {
	webhookSecret string
	router        *Router
	logger        *logging.Logger
}

// NewHandler wires the webhook. An empty secret disables signature checks
// (development only).
func NewHandler(webhookSecret string, router *Router, logger *logging.Logger) *Handler {
	if router == nil {
		panic("inbound: router cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{webhookSecret: webhookSecret, router: router, logger: logger}
}

// ServeHTTP handles POST /webhooks/sms.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := handlerTracer.Start(r.Context(), "inbound.webhook")
	defer span.End()

	if h.webhookSecret != "" {
		if !sms.ValidateTwilioSignature(r, h.webhookSecret, sms.AbsoluteRequestURL(r)) {
			h.logger.Warn("inbound: invalid twilio signature")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	from := sms.NormalizeE164(r.FormValue("From"))
	body := r.FormValue("Body")
	if from == "" || body == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	result, err := h.router.Route(ctx, from, body)
	if err != nil {
		h.logger.Error("inbound: route failed", "from", from, "error", err)
		span.RecordError(err)
		// Still acknowledge so Twilio does not retry into the same error.
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sms.TwiMLEmpty))
		return
	}

	h.logger.Info("inbound: reply routed", "from", from, "action", result.Action)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if result.Reply == "" {
		_, _ = w.Write([]byte(sms.TwiMLEmpty))
		return
	}
	_, _ = w.Write([]byte(sms.TwiMLReply(result.Reply)))
}
