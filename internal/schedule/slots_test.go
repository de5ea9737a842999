package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/practice"
)

type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) CountByTime(context.Context, uuid.UUID, time.Time) (map[string]int, error) {
	return f.counts, nil
}

func testConfig(overbook bool, maxPer int) *practice.Config {
	return &practice.Config{
		PracticeID:          uuid.New(),
		SlotDurationMinutes: 30,
		BookingHorizonDays:  60,
		AllowOverbooking:    overbook,
		MaxOverbookingSlot:  maxPer,
	}
}

func TestSlotsGeneratesOrderedTimes(t *testing.T) {
	g := NewGenerator(
		NewResolver(&fakeSource{template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "11:00"}}),
		&fakeCounter{counts: map[string]int{}},
	)
	slots, err := g.Slots(context.Background(), testConfig(false, 1), nil, time.Now())
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	want := []string{"09:00", "09:30", "10:00", "10:30"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if slots[i].Time != w {
			t.Fatalf("slot %d: expected %s got %s", i, w, slots[i].Time)
		}
		if !slots[i].Available {
			t.Fatalf("slot %s should be available", w)
		}
	}
}

func TestSlotsLastSlotMustFitBeforeClose(t *testing.T) {
	g := NewGenerator(
		NewResolver(&fakeSource{template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "10:15"}}),
		&fakeCounter{counts: map[string]int{}},
	)
	slots, _ := g.Slots(context.Background(), testConfig(false, 1), nil, time.Now())
	// 09:45 + 30m overruns 10:15 close.
	if len(slots) != 2 || slots[len(slots)-1].Time != "09:30" {
		t.Fatalf("unexpected slots: %+v", slots)
	}
}

func TestSlotsRespectsOverbookingCap(t *testing.T) {
	counts := map[string]int{"09:00": 2, "09:30": 1}
	g := NewGenerator(
		NewResolver(&fakeSource{template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "10:00"}}),
		&fakeCounter{counts: counts},
	)

	slots, _ := g.Slots(context.Background(), testConfig(true, 2), nil, time.Now())
	if slots[0].Available || slots[0].Count != 2 {
		t.Fatalf("09:00 at cap should be unavailable: %+v", slots[0])
	}
	if !slots[1].Available || slots[1].Count != 1 {
		t.Fatalf("09:30 below cap should be available: %+v", slots[1])
	}

	// Overbooking off: any booking makes the slot full.
	slots, _ = g.Slots(context.Background(), testConfig(false, 2), nil, time.Now())
	if slots[1].Available {
		t.Fatal("overbooking disabled should cap at 1")
	}
}

func TestSlotsAppointmentTypeDuration(t *testing.T) {
	g := NewGenerator(
		NewResolver(&fakeSource{template: &WeeklyTemplate{IsEnabled: true, Open: "09:00", Close: "11:00"}}),
		&fakeCounter{counts: map[string]int{}},
	)
	apptType := &practice.AppointmentType{DurationMinutes: 60}
	slots, _ := g.Slots(context.Background(), testConfig(false, 1), apptType, time.Now())
	if len(slots) != 2 || slots[1].Time != "10:00" {
		t.Fatalf("expected hourly slots, got %+v", slots)
	}
}

func TestSlotsNonWorkingDayEmpty(t *testing.T) {
	g := NewGenerator(NewResolver(&fakeSource{holiday: true}), &fakeCounter{})
	slots, err := g.Slots(context.Background(), testConfig(false, 1), nil, time.Now())
	if err != nil || slots != nil {
		t.Fatalf("expected empty slots on holiday, got %+v err=%v", slots, err)
	}
}

func TestHasTime(t *testing.T) {
	slots := []Slot{{Time: "09:00", Available: false}, {Time: "09:30", Available: true}}
	if exists, avail := HasTime(slots, "09:00"); !exists || avail {
		t.Fatal("expected 09:00 present but full")
	}
	if exists, avail := HasTime(slots, "09:30"); !exists || !avail {
		t.Fatal("expected 09:30 available")
	}
	if exists, _ := HasTime(slots, "12:00"); exists {
		t.Fatal("12:00 should not exist")
	}
}
