package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/schedule"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
)

// NextAvailable is the first day with open capacity.
type NextAvailable struct {
	Date  time.Time
	Slots []schedule.Slot
	// BestTime is the open slot closest to the caller's preferred time,
	// or the first open slot when no preference was given.
	BestTime string
}

// FindNextAvailable walks forward from fromDate (or today) up to the booking
// horizon and returns the first day with at least one open slot. A zero
// fromDate means today in the practice timezone.
func (e *Engine) FindNextAvailable(ctx context.Context, practiceID uuid.UUID, typeID *uuid.UUID, fromDate time.Time, preferredTime string) (*NextAvailable, error) {
	cfg, err := e.practices.GetConfig(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("booking: load config: %w", err)
	}
	var apptType *practice.AppointmentType
	if typeID != nil {
		apptType, err = e.practices.GetAppointmentType(ctx, practiceID, *typeID)
		if err != nil {
			return nil, err
		}
		if !apptType.IsActive {
			return nil, NewError(KindTypeInactive, "appointment type %q is inactive", apptType.Name)
		}
	}

	prac, err := e.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("booking: load practice: %w", err)
	}
	today := timeclock.TodayIn(e.clock, timeclock.Location(prac.Timezone))
	if fromDate.IsZero() || fromDate.Before(today) {
		fromDate = today
	}

	for offset := 0; offset <= cfg.BookingHorizonDays; offset++ {
		date := fromDate.AddDate(0, 0, offset)
		day, err := e.resolver.Resolve(ctx, practiceID, date)
		if err != nil {
			return nil, err
		}
		if !day.Working {
			continue
		}
		slots, err := e.slots.Slots(ctx, cfg, apptType, date)
		if err != nil {
			return nil, err
		}
		best := pickBestSlot(slots, preferredTime)
		if best == "" {
			continue
		}
		return &NextAvailable{Date: date, Slots: slots, BestTime: best}, nil
	}
	return nil, NewError(KindNotFound, "no availability within %d days", cfg.BookingHorizonDays)
}

// pickBestSlot returns the open slot closest to preferred by wall-clock
// distance, or the first open slot when preferred is empty or unparseable.
// Empty string means no open slot exists.
func pickBestSlot(slots []schedule.Slot, preferred string) string {
	prefMin, prefErr := clockMinutes(preferred)
	best := ""
	bestDist := -1
	for _, s := range slots {
		if !s.Available {
			continue
		}
		if preferred == "" || prefErr != nil {
			return s.Time
		}
		m, err := clockMinutes(s.Time)
		if err != nil {
			continue
		}
		dist := m - prefMin
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = s.Time, dist
		}
	}
	return best
}

func clockMinutes(hhmm string) (int, error) {
	t, err := timeclock.ParseClock(hhmm)
	if err != nil {
		return 0, err
	}
	return timeclock.ClockMinutes(t), nil
}
