// Package router assembles the HTTP surface: public webhooks, health and
// metrics, and the JWT-guarded staff routes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/oakridgehealth/frontdesk/internal/admin"
	httpmiddleware "github.com/oakridgehealth/frontdesk/internal/http/middleware"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	VapiWebhook     http.Handler
	SMSWebhook      http.Handler
	MetricsHandler  http.Handler
	StaffHandler    *admin.Handler
	StaffAuthSecret string
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: webhooks and operational probes.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.VapiWebhook != nil {
			public.Post("/webhook/vapi", cfg.VapiWebhook.ServeHTTP)
		}
		if cfg.SMSWebhook != nil {
			public.Post("/webhook/sms", cfg.SMSWebhook.ServeHTTP)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Staff routes behind the HMAC JWT.
	if cfg.StaffHandler != nil && cfg.StaffAuthSecret != "" {
		r.Route("/admin", func(staff chi.Router) {
			staff.Use(httpmiddleware.StaffJWT(cfg.StaffAuthSecret))
			staff.Mount("/", cfg.StaffHandler.Routes())
		})
	}

	return r
}
