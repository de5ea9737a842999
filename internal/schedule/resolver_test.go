package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeSource struct {
	holiday  bool
	override *Override
	template *WeeklyTemplate
}

func (f *fakeSource) IsHoliday(context.Context, time.Time) (bool, error) { return f.holiday, nil }
func (f *fakeSource) GetOverride(context.Context, uuid.UUID, time.Time) (*Override, error) {
	return f.override, nil
}
func (f *fakeSource) GetWeeklyTemplate(context.Context, uuid.UUID, int) (*WeeklyTemplate, error) {
	return f.template, nil
}

func strPtr(s string) *string { return &s }

func TestResolveHolidayWins(t *testing.T) {
	r := NewResolver(&fakeSource{
		holiday:  true,
		template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "17:00"},
	})
	day, err := r.Resolve(context.Background(), uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if day.Working {
		t.Fatal("holiday should close the practice even with an enabled template")
	}
}

func TestResolveOverridePrecedesTemplate(t *testing.T) {
	r := NewResolver(&fakeSource{
		override: &Override{IsWorking: true, Open: strPtr("10:00"), Close: strPtr("14:00")},
		template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "17:00"},
	})
	day, err := r.Resolve(context.Background(), uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !day.Working || day.Open != "10:00" || day.Close != "14:00" {
		t.Fatalf("expected override hours, got %+v", day)
	}
}

func TestResolveOverrideClosed(t *testing.T) {
	r := NewResolver(&fakeSource{
		override: &Override{IsWorking: false},
		template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "17:00"},
	})
	day, _ := r.Resolve(context.Background(), uuid.New(), time.Now())
	if day.Working {
		t.Fatal("closed override should win over template")
	}
}

func TestResolveWorkingOverrideMissingBoundsIsClosed(t *testing.T) {
	r := NewResolver(&fakeSource{
		override: &Override{IsWorking: true, Open: strPtr("10:00")},
	})
	day, _ := r.Resolve(context.Background(), uuid.New(), time.Now())
	if day.Working {
		t.Fatal("working override without close must resolve as non-working")
	}
}

func TestResolveTemplate(t *testing.T) {
	r := NewResolver(&fakeSource{
		template: &WeeklyTemplate{IsEnabled: true, Open: "08:00", Close: "16:00"},
	})
	day, _ := r.Resolve(context.Background(), uuid.New(), time.Now())
	if !day.Working || day.Open != "08:00" {
		t.Fatalf("expected template hours, got %+v", day)
	}
}

func TestResolveMissingOrDisabledTemplate(t *testing.T) {
	for _, src := range []*fakeSource{
		{},
		{template: &WeeklyTemplate{IsEnabled: false, Open: "09:00", Close: "17:00"}},
		{template: &WeeklyTemplate{IsEnabled: true}},
	} {
		day, _ := NewResolver(src).Resolve(context.Background(), uuid.New(), time.Now())
		if day.Working {
			t.Fatalf("expected non-working for %+v", src.template)
		}
	}
}
