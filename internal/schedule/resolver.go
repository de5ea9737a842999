package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DaySchedule is the resolved working hours for one (practice, date).
type DaySchedule struct {
	Working bool
	Open    string
	Close   string
}

// ScheduleSource is the subset of Store the resolver needs.
type ScheduleSource interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
	GetOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*Override, error)
	GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*WeeklyTemplate, error)
}

// Resolver merges holidays, per-date overrides and the weekly template.
type Resolver struct {
	source ScheduleSource
}

// NewResolver creates a schedule resolver.
func NewResolver(source ScheduleSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the working hours for a date. Precedence: global holiday,
// then per-date override, then the weekly template. A working day missing
// either bound is treated as non-working.
func (r *Resolver) Resolve(ctx context.Context, practiceID uuid.UUID, date time.Time) (DaySchedule, error) {
	holiday, err := r.source.IsHoliday(ctx, date)
	if err != nil {
		return DaySchedule{}, err
	}
	if holiday {
		return DaySchedule{Working: false}, nil
	}

	override, err := r.source.GetOverride(ctx, practiceID, date)
	if err != nil {
		return DaySchedule{}, err
	}
	if override != nil {
		if !override.IsWorking || override.Open == nil || override.Close == nil {
			return DaySchedule{Working: false}, nil
		}
		return DaySchedule{Working: true, Open: *override.Open, Close: *override.Close}, nil
	}

	tmpl, err := r.source.GetWeeklyTemplate(ctx, practiceID, int(date.Weekday()))
	if err != nil {
		return DaySchedule{}, err
	}
	if tmpl == nil || !tmpl.IsEnabled || tmpl.Open == "" || tmpl.Close == "" {
		return DaySchedule{Working: false}, nil
	}
	return DaySchedule{Working: true, Open: tmpl.Open, Close: tmpl.Close}, nil
}
