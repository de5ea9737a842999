package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func apptRow(a *Appointment) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "practice_id", "patient_id", "appointment_type_id", "date",
		"time", "duration_minutes", "status", "notes", "booked_by", "call_id",
		"sms_confirmation_sent", "created_at", "updated_at",
	}).AddRow(
		a.ID, a.PracticeID, a.PatientID, a.AppointmentTypeID, a.Date,
		a.Time, a.DurationMinutes, a.Status, a.Notes, a.BookedBy, a.CallID,
		a.SMSConfirmationSent, a.CreatedAt, a.UpdatedAt,
	)
}

func sampleAppointment() *Appointment {
	return &Appointment{
		ID:                uuid.New(),
		PracticeID:        uuid.New(),
		PatientID:         uuid.New(),
		AppointmentTypeID: uuid.New(),
		Date:              day(2026, 3, 10),
		Time:              "09:30",
		DurationMinutes:   30,
		Status:            StatusBooked,
		BookedBy:          BookedByAI,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
}

func TestCountByTime(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID := uuid.New()
	mock.ExpectQuery("SELECT time, COUNT").
		WithArgs(practiceID, "2026-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"time", "count"}).
			AddRow("09:00", 2).
			AddRow("10:30", 1))

	counts, err := store.CountByTime(context.Background(), practiceID, day(2026, 3, 10))
	if err != nil {
		t.Fatalf("count by time: %v", err)
	}
	if counts["09:00"] != 2 || counts["10:30"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID, id := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(practiceID, id, StatusCancelled, "Cancelled: patient request").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateStatus(context.Background(), nil, practiceID, id, StatusCancelled, "Cancelled: patient request")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindIdempotentNoMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID, patientID := uuid.New(), uuid.New()
	mock.ExpectQuery("FROM appointments").
		WithArgs(practiceID, patientID, "2026-03-10", "09:30", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.FindIdempotent(context.Background(), practiceID, patientID, day(2026, 3, 10), "09:30", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindIdempotentMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	want := sampleAppointment()
	mock.ExpectQuery("FROM appointments").
		WithArgs(want.PracticeID, want.PatientID, "2026-03-10", "09:30", pgxmock.AnyArg()).
		WillReturnRows(apptRow(want))

	got, err := store.FindIdempotent(context.Background(), want.PracticeID, want.PatientID, want.Date, want.Time, nil)
	if err != nil {
		t.Fatalf("find idempotent: %v", err)
	}
	if got.ID != want.ID || got.Time != "09:30" {
		t.Fatalf("unexpected appointment: %+v", got)
	}
}

func TestNextActiveForPatientExactDate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	want := sampleAppointment()
	exact := want.Date
	mock.ExpectQuery("AND date = ").
		WithArgs(want.PracticeID, want.PatientID, "2026-03-10").
		WillReturnRows(apptRow(want))

	got, err := store.NextActiveForPatient(context.Background(), want.PracticeID, want.PatientID, day(2026, 3, 1), &exact)
	if err != nil {
		t.Fatalf("next active: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("unexpected appointment %s", got.ID)
	}
}

func TestListRecentNoShows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	a := sampleAppointment()
	a.Status = StatusNoShow
	cutoff := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	// Slot wall clock must be interpreted in the practice timezone before
	// comparing to the UTC cutoff.
	mock.ExpectQuery(`AT TIME ZONE p\.timezone`).
		WithArgs(cutoff, 50).
		WillReturnRows(apptRow(a))

	got, err := store.ListRecentNoShows(context.Background(), cutoff, 50)
	if err != nil {
		t.Fatalf("list no-shows: %v", err)
	}
	if len(got) != 1 || got[0].Status != StatusNoShow {
		t.Fatalf("unexpected result: %+v", got)
	}
}
