package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
)

// Slot is one bookable time point on a date.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
	Count     int    `json:"current_count"`
}

// BookingCounter supplies non-cancelled appointment counts grouped by time.
type BookingCounter interface {
	CountByTime(ctx context.Context, practiceID uuid.UUID, date time.Time) (map[string]int, error)
}

// Generator produces the ordered slot list for a (practice, date).
type Generator struct {
	resolver *Resolver
	bookings BookingCounter
}

// NewGenerator creates a slot generator.
func NewGenerator(resolver *Resolver, bookings BookingCounter) *Generator {
	return &Generator{resolver: resolver, bookings: bookings}
}

// Slots resolves the schedule and steps through it in slot-duration
// increments. apptType may be nil, in which case the practice default
// duration applies. Ordering is by time ascending.
func (g *Generator) Slots(ctx context.Context, cfg *practice.Config, apptType *practice.AppointmentType, date time.Time) ([]Slot, error) {
	day, err := g.resolver.Resolve(ctx, cfg.PracticeID, date)
	if err != nil {
		return nil, err
	}
	if !day.Working {
		return nil, nil
	}

	duration := cfg.SlotDurationMinutes
	if apptType != nil && apptType.DurationMinutes > 0 {
		duration = apptType.DurationMinutes
	}

	open, err := timeclock.ParseClock(day.Open)
	if err != nil {
		return nil, nil
	}
	closeAt, err := timeclock.ParseClock(day.Close)
	if err != nil {
		return nil, nil
	}

	counts, err := g.bookings.CountByTime(ctx, cfg.PracticeID, date)
	if err != nil {
		return nil, err
	}

	cap := cfg.SlotCap()
	var slots []Slot
	openMin := timeclock.ClockMinutes(open)
	closeMin := timeclock.ClockMinutes(closeAt)
	for t := openMin; t+duration <= closeMin; t += duration {
		hhmm := timeclock.FormatClock(t)
		count := counts[hhmm]
		slots = append(slots, Slot{
			Time:      hhmm,
			Available: count < cap,
			Count:     count,
		})
	}
	return slots, nil
}

// HasTime reports whether the generated slot list contains hhmm and, if so,
// whether it is available.
func HasTime(slots []Slot, hhmm string) (exists bool, available bool) {
	for _, s := range slots {
		if s.Time == hhmm {
			return true, s.Available
		}
	}
	return false, false
}
