// Package practice holds tenant identity and per-practice configuration.
package practice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Practice is a single medical office tenant. It owns every other row.
type Practice struct {
	ID        uuid.UUID
	Name      string
	Timezone  string
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config is the one-to-one operational configuration for a practice.
type Config struct {
	PracticeID          uuid.UUID
	SlotDurationMinutes int
	BookingHorizonDays  int
	AllowOverbooking    bool
	MaxOverbookingSlot  int
	TransferNumber      string

	// SMSTemplates maps language code to the reminder body template.
	// NoShowTemplates maps language code to the no-show follow-up body.
	SMSTemplates    map[string]string
	NoShowTemplates map[string]string

	// VoiceAssistantID identifies the dashboard-configured Vapi assistant.
	VoiceAssistantID string

	// Per-tenant credential overrides. Empty values fall back to the
	// globally configured credentials.
	VapiAPIKey        string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	EligibilityAPIKey string
	EligibilityOn     bool
}

// SlotCap returns the effective per-slot booking cap.
func (c *Config) SlotCap() int {
	if !c.AllowOverbooking {
		return 1
	}
	if c.MaxOverbookingSlot < 1 {
		return 1
	}
	return c.MaxOverbookingSlot
}

// Validate enforces the configuration invariants.
func (c *Config) Validate() error {
	if c.SlotDurationMinutes < 5 || c.SlotDurationMinutes > 120 {
		return fmt.Errorf("practice: slot_duration_minutes %d outside [5,120]", c.SlotDurationMinutes)
	}
	if c.MaxOverbookingSlot < 1 {
		return fmt.Errorf("practice: max_overbooking_per_slot must be >= 1, got %d", c.MaxOverbookingSlot)
	}
	if c.BookingHorizonDays < 1 || c.BookingHorizonDays > 365 {
		return fmt.Errorf("practice: booking_horizon_days %d outside [1,365]", c.BookingHorizonDays)
	}
	return nil
}

// AppointmentType is a bookable visit category for a practice.
type AppointmentType struct {
	ID              uuid.UUID
	PracticeID      uuid.UUID
	Name            string
	DurationMinutes int
	IsActive        bool
	SortOrder       int
}
