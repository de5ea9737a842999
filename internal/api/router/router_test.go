package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oakridgehealth/frontdesk/internal/admin"
	"github.com/oakridgehealth/frontdesk/internal/booking"
)

type stubAppointments struct{}

func (stubAppointments) ListForDate(_ context.Context, _ uuid.UUID, _ time.Time) ([]booking.Appointment, error) {
	return nil, nil
}

func (stubAppointments) Get(_ context.Context, _, _ uuid.UUID) (*booking.Appointment, error) {
	return nil, booking.ErrNotFound
}

func (stubAppointments) UpdateStatus(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, _, _ string) error {
	return nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	staff := admin.NewHandler(admin.HandlerConfig{Appointments: stubAppointments{}})
	webhook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	return New(&Config{
		VapiWebhook:     webhook,
		SMSWebhook:      webhook,
		StaffHandler:    staff,
		StaffAuthSecret: "staff-secret",
	})
}

func TestHealth(t *testing.T) {
	r := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRoutes(t *testing.T) {
	r := testRouter(t)
	for _, path := range []string{"/webhook/vapi", "/webhook/sms"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func TestStaffRoutesRequireToken(t *testing.T) {
	r := testRouter(t)
	path := "/admin/practices/" + uuid.NewString() + "/appointments?date=2026-03-09"

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	claims := jwt.RegisteredClaims{
		Subject:   "front-desk",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("staff-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d: %s", rec.Code, rec.Body.String())
	}
}
