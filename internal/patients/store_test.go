package patients

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var patientCols = []string{
	"id", "practice_id", "first_name", "last_name", "dob", "phone", "address",
	"language_preference", "insurance_carrier", "member_id", "is_new", "opted_out_recall",
	"created_at", "updated_at",
}

func patientRow(id, practiceID uuid.UUID, dob time.Time) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(patientCols).AddRow(
		id, practiceID, "Jane", "Doe", dob, "+15550001234", "",
		"en", "", "", false, false, now, now,
	)
}

func TestFindByName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID := uuid.New()
	id := uuid.New()
	dob := time.Date(1985, 4, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, practice_id, first_name").
		WithArgs(practiceID, "Jane", "Doe", dob).
		WillReturnRows(patientRow(id, practiceID, dob))

	p, err := store.FindByName(context.Background(), practiceID, " Jane ", "Doe", dob)
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if p.ID != id || p.FullName() != "Jane Doe" {
		t.Fatalf("unexpected patient %+v", p)
	}
}

func TestFindOrCreateInsertsWhenMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID := uuid.New()
	dob := time.Date(1990, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, practice_id, first_name").
		WithArgs(practiceID, "Sam", "Reyes", dob).
		WillReturnRows(pgxmock.NewRows(patientCols))
	mock.ExpectExec("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p, err := store.FindOrCreate(context.Background(), &Patient{
		PracticeID: practiceID,
		FirstName:  "Sam",
		LastName:   "Reyes",
		DOB:        dob,
		Phone:      "+15550009999",
	})
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if !p.IsNew {
		t.Fatal("created patient should be marked new")
	}
	if p.LanguagePreference != "en" {
		t.Fatalf("expected english default, got %s", p.LanguagePreference)
	}
	if p.ID == uuid.Nil {
		t.Fatal("expected assigned id")
	}
}

func TestFindOrCreateLosingInsertRaceReturnsWinner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID := uuid.New()
	winnerID := uuid.New()
	dob := time.Date(1985, 4, 2, 0, 0, 0, 0, time.UTC)

	// Nothing found on the first read, but another caller inserts the same
	// identity before our insert lands; ON CONFLICT drops ours and we must
	// hand back the winner's row.
	mock.ExpectQuery("SELECT id, practice_id, first_name").
		WithArgs(practiceID, "Jane", "Doe", dob).
		WillReturnRows(pgxmock.NewRows(patientCols))
	mock.ExpectExec("ON CONFLICT").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT id, practice_id, first_name").
		WithArgs(practiceID, "Jane", "Doe", dob).
		WillReturnRows(patientRow(winnerID, practiceID, dob))

	p, err := store.FindOrCreate(context.Background(), &Patient{
		PracticeID: practiceID, FirstName: "Jane", LastName: "Doe", DOB: dob,
	})
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if p.ID != winnerID {
		t.Fatalf("expected winner's row, got %v", p.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOrCreateReturnsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID := uuid.New()
	id := uuid.New()
	dob := time.Date(1985, 4, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, practice_id, first_name").
		WithArgs(practiceID, "Jane", "Doe", dob).
		WillReturnRows(patientRow(id, practiceID, dob))

	p, err := store.FindOrCreate(context.Background(), &Patient{
		PracticeID: practiceID, FirstName: "Jane", LastName: "Doe", DOB: dob,
	})
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if p.ID != id {
		t.Fatal("expected existing patient returned")
	}
}

func TestMarkEstablished(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	practiceID, id := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE patients SET is_new").
		WithArgs(practiceID, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.MarkEstablished(context.Background(), practiceID, id); err != nil {
		t.Fatalf("mark established: %v", err)
	}
}
