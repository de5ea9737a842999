package reminders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPickTemplateFallbackChain(t *testing.T) {
	templates := map[string]string{"en": "english body", "es": "cuerpo español"}
	assert.Equal(t, "cuerpo español", PickTemplate(templates, "es", false))
	assert.Equal(t, "english body", PickTemplate(templates, "fr", false),
		"unknown language should fall back to english")
	assert.Contains(t, PickTemplate(nil, "en", false), "CONFIRM",
		"missing templates should use built-in default")
	assert.Contains(t, PickTemplate(nil, "es", true), "reprogramarla",
		"expected built-in spanish no-show default")
}

func TestRenderLeavesUnknownPlaceholdersLiteral(t *testing.T) {
	got := Render("Hi {patient_name}, see you {date} at {time}", map[string]string{
		"patient_name": "Maria Lopez",
		"date":         "Tuesday, March 10",
		"time":         "",
	})
	assert.Contains(t, got, "Maria Lopez")
	assert.Contains(t, got, "Tuesday, March 10")
	assert.Contains(t, got, "{time}", "empty value should stay literal, not blank out")

	got = Render("Call us at {phone}", map[string]string{"patient_name": "Maria"})
	assert.Equal(t, "Call us at {phone}", got, "missing key should stay literal")
}

func TestRetryReadyAtBackoff(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for attempts, wait := range map[int]time.Duration{
		1: 2 * time.Minute,
		2: 4 * time.Minute,
	} {
		r := &Reminder{Attempts: attempts, UpdatedAt: base}
		assert.True(t, r.RetryReadyAt().Equal(base.Add(wait)), "attempts=%d", attempts)
	}
	fresh := &Reminder{ScheduledFor: base}
	assert.True(t, fresh.RetryReadyAt().Equal(base),
		"first attempt should be due at scheduled_for")
}
