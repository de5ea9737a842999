// Package timeclock is the single source of "now" for schedule arithmetic.
// Appointment dates and times are wall-clock values in the practice's
// timezone; everything else is UTC instants.
package timeclock

import (
	"fmt"
	"time"
)

// Clock abstracts time.Now so schedule logic can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real current time.
type SystemClock struct{}

// Now returns the current UTC instant.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// Location loads a practice timezone, falling back to UTC on bad input.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TodayIn returns the current wall-clock date in the given timezone.
func TodayIn(clock Clock, loc *time.Location) time.Time {
	now := clock.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// At combines a local date and a wall-clock time into an instant in loc.
func At(date time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// ParseClock parses "HH:MM" (24-hour). "HH:MM:SS" is tolerated.
func ParseClock(value string) (time.Time, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeclock: invalid clock value %q", value)
}

// ParseDate parses "YYYY-MM-DD" as a local date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeclock: invalid date %q", value)
	}
	return t, nil
}

// ClockMinutes returns minutes since midnight for a parsed clock value.
func ClockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Format12Hour renders "HH:MM" as a spoken-friendly "9:00 AM" form.
func Format12Hour(hhmm string) string {
	t, err := ParseClock(hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}
