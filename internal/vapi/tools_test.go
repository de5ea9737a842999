package vapi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/booking"
	"github.com/oakridgehealth/frontdesk/internal/calls"
	"github.com/oakridgehealth/frontdesk/internal/insurance"
	"github.com/oakridgehealth/frontdesk/internal/patients"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/refill"
	"github.com/oakridgehealth/frontdesk/internal/schedule"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/internal/voicemail"
	"github.com/oakridgehealth/frontdesk/internal/waitlist"
)

var (
	testPracticeID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testPatientID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testTypeID     = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	testApptID     = uuid.MustParse("44444444-4444-4444-4444-444444444444")
	testCallRowID  = uuid.MustParse("55555555-5555-5555-5555-555555555555")
)

// 2026-03-09 is a Monday.
var testNow = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

type fakePractices struct {
	practice *practice.Practice
	config   *practice.Config
	types    []practice.AppointmentType
}

func (f *fakePractices) Get(_ context.Context, id uuid.UUID) (*practice.Practice, error) {
	return f.practice, nil
}

func (f *fakePractices) GetConfig(_ context.Context, _ uuid.UUID) (*practice.Config, error) {
	return f.config, nil
}

func (f *fakePractices) FindAppointmentTypeByName(_ context.Context, _ uuid.UUID, name string) (*practice.AppointmentType, error) {
	for i := range f.types {
		if strings.Contains(strings.ToLower(f.types[i].Name), strings.ToLower(name)) && f.types[i].IsActive {
			return &f.types[i], nil
		}
	}
	return f.FirstActiveAppointmentType(context.Background(), uuid.Nil)
}

func (f *fakePractices) FirstActiveAppointmentType(_ context.Context, _ uuid.UUID) (*practice.AppointmentType, error) {
	for i := range f.types {
		if f.types[i].IsActive {
			return &f.types[i], nil
		}
	}
	return nil, practice.ErrNotFound
}

func (f *fakePractices) ListAppointmentTypes(_ context.Context, _ uuid.UUID) ([]practice.AppointmentType, error) {
	return f.types, nil
}

type fakePatients struct {
	byName  *patients.Patient
	byID    *patients.Patient
	created *patients.Patient
	phones  map[uuid.UUID]string
}

func (f *fakePatients) Get(_ context.Context, _, _ uuid.UUID) (*patients.Patient, error) {
	if f.byID == nil {
		return nil, patients.ErrNotFound
	}
	return f.byID, nil
}

func (f *fakePatients) FindByName(_ context.Context, _ uuid.UUID, _, _ string, _ time.Time) (*patients.Patient, error) {
	if f.byName == nil {
		return nil, patients.ErrNotFound
	}
	return f.byName, nil
}

func (f *fakePatients) FindOrCreate(_ context.Context, p *patients.Patient) (*patients.Patient, error) {
	if f.byName != nil {
		return f.byName, nil
	}
	p.ID = testPatientID
	p.IsNew = true
	f.created = p
	return p, nil
}

func (f *fakePatients) UpdatePhone(_ context.Context, _, id uuid.UUID, phone string) error {
	if f.phones == nil {
		f.phones = map[uuid.UUID]string{}
	}
	f.phones[id] = phone
	return nil
}

type fakeCalls struct {
	call        *calls.Call
	savedName   string
	savedPhone  string
	savedMatch  *uuid.UUID
	linkedPat   []uuid.UUID
	linkedAppt  []uuid.UUID
	upserts     []string
	endOfCall   *calls.EndOfCall
	endExternal string
}

func (f *fakeCalls) GetByExternalID(_ context.Context, externalID string) (*calls.Call, error) {
	if f.call == nil || f.call.ExternalCallID != externalID {
		return nil, calls.ErrNotFound
	}
	return f.call, nil
}

func (f *fakeCalls) SaveCallerInfo(_ context.Context, externalID, name, phone string, patientID *uuid.UUID) error {
	if f.call == nil || f.call.ExternalCallID != externalID {
		return calls.ErrNotFound
	}
	f.savedName = name
	f.savedPhone = phone
	f.savedMatch = patientID
	return nil
}

func (f *fakeCalls) LinkPatient(_ context.Context, _ string, patientID uuid.UUID) error {
	f.linkedPat = append(f.linkedPat, patientID)
	return nil
}

func (f *fakeCalls) LinkAppointment(_ context.Context, _ string, appointmentID uuid.UUID) error {
	f.linkedAppt = append(f.linkedAppt, appointmentID)
	return nil
}

func (f *fakeCalls) CreateOrUpdate(_ context.Context, practiceID uuid.UUID, externalID, callerPhone, status, direction string, startedAt, endedAt *time.Time) (*calls.Call, error) {
	f.upserts = append(f.upserts, externalID+"/"+status)
	if f.call == nil {
		f.call = &calls.Call{ID: testCallRowID, PracticeID: practiceID, ExternalCallID: externalID, CallerPhone: callerPhone}
	}
	return f.call, nil
}

func (f *fakeCalls) SaveEndOfCall(_ context.Context, externalID string, eoc calls.EndOfCall) error {
	f.endExternal = externalID
	f.endOfCall = &eoc
	return nil
}

type fakeBookings struct {
	bookReq    *booking.BookRequest
	bookErr    error
	booked     *booking.Appointment
	cancelled  []uuid.UUID
	notified   int
	resched    *booking.Appointment
	reschedErr error
	next       *booking.NextAvailable
	nextErr    error
	nextCalled bool
	blockBook  bool
}

func (f *fakeBookings) Book(ctx context.Context, req booking.BookRequest) (*booking.Appointment, error) {
	if f.blockBook {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.bookReq = &req
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return f.booked, nil
}

func (f *fakeBookings) Cancel(_ context.Context, _ uuid.UUID, id uuid.UUID, _ string) (*booking.Appointment, int, error) {
	f.cancelled = append(f.cancelled, id)
	return &booking.Appointment{
		ID: id, Status: booking.StatusCancelled,
		Date: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), Time: "10:00",
	}, f.notified, nil
}

func (f *fakeBookings) Reschedule(_ context.Context, _ uuid.UUID, _ uuid.UUID, newDate time.Time, newTime string, _ string) (*booking.Appointment, error) {
	if f.reschedErr != nil {
		return nil, f.reschedErr
	}
	f.resched = &booking.Appointment{ID: uuid.New(), Date: newDate, Time: newTime, Status: booking.StatusBooked}
	return f.resched, nil
}

func (f *fakeBookings) FindNextAvailable(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ time.Time, _ string) (*booking.NextAvailable, error) {
	f.nextCalled = true
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	return f.next, nil
}

type fakeFinder struct {
	appt *booking.Appointment
}

func (f *fakeFinder) NextActiveForPatient(_ context.Context, _, _ uuid.UUID, _ time.Time, _ *time.Time) (*booking.Appointment, error) {
	if f.appt == nil {
		return nil, booking.ErrNotFound
	}
	return f.appt, nil
}

type fakeResolver struct {
	days map[string]schedule.DaySchedule
}

func (f *fakeResolver) Resolve(_ context.Context, _ uuid.UUID, date time.Time) (schedule.DaySchedule, error) {
	if day, ok := f.days[date.Format(time.DateOnly)]; ok {
		return day, nil
	}
	return schedule.DaySchedule{}, nil
}

type fakeHours struct {
	templates []schedule.WeeklyTemplate
}

func (f *fakeHours) ListWeeklyTemplates(_ context.Context, _ uuid.UUID) ([]schedule.WeeklyTemplate, error) {
	return f.templates, nil
}

type fakeWaitlist struct {
	added *waitlist.AddRequest
}

func (f *fakeWaitlist) Add(_ context.Context, req waitlist.AddRequest) (*waitlist.Entry, error) {
	f.added = &req
	return &waitlist.Entry{ID: uuid.New(), Status: waitlist.StatusWaiting}, nil
}

type fakeInsurance struct {
	configured bool
	result     *insurance.EligibilityResult
	err        error
}

func (f *fakeInsurance) Configured() bool { return f.configured }

func (f *fakeInsurance) Check(_ context.Context, _ insurance.EligibilityRequest) (*insurance.EligibilityResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeVoicemails struct {
	saved *voicemail.Voicemail
}

func (f *fakeVoicemails) Insert(_ context.Context, v *voicemail.Voicemail) error {
	f.saved = v
	return nil
}

type fakeRefills struct {
	saved *refill.Request
}

func (f *fakeRefills) Insert(_ context.Context, r *refill.Request) error {
	f.saved = r
	return nil
}

type runtimeFixture struct {
	runtime    *Runtime
	practices  *fakePractices
	patients   *fakePatients
	calls      *fakeCalls
	bookings   *fakeBookings
	finder     *fakeFinder
	resolver   *fakeResolver
	hours      *fakeHours
	waitlist   *fakeWaitlist
	insurance  *fakeInsurance
	voicemails *fakeVoicemails
	refills    *fakeRefills
}

func newRuntimeFixture(t *testing.T) *runtimeFixture {
	t.Helper()
	f := &runtimeFixture{
		practices: &fakePractices{
			practice: &practice.Practice{ID: testPracticeID, Name: "Oak Ridge Family Medicine", Timezone: "UTC"},
			config: &practice.Config{
				PracticeID:          testPracticeID,
				SlotDurationMinutes: 30,
				BookingHorizonDays:  30,
				TransferNumber:      "+15559876543",
			},
			types: []practice.AppointmentType{
				{ID: testTypeID, PracticeID: testPracticeID, Name: "Annual Physical", DurationMinutes: 30, IsActive: true, SortOrder: 1},
			},
		},
		patients:   &fakePatients{},
		calls:      &fakeCalls{},
		bookings:   &fakeBookings{},
		finder:     &fakeFinder{},
		resolver:   &fakeResolver{days: map[string]schedule.DaySchedule{}},
		hours:      &fakeHours{},
		waitlist:   &fakeWaitlist{},
		insurance:  &fakeInsurance{},
		voicemails: &fakeVoicemails{},
		refills:    &fakeRefills{},
	}
	f.runtime = NewRuntime(RuntimeConfig{
		Practices:    f.practices,
		Patients:     f.patients,
		Calls:        f.calls,
		Bookings:     f.bookings,
		Appointments: f.finder,
		Resolver:     f.resolver,
		Hours:        f.hours,
		Waitlist:     f.waitlist,
		Insurance:    f.insurance,
		Voicemails:   f.voicemails,
		Refills:      f.refills,
		Clock:        timeclock.FixedClock{T: testNow},
	})
	return f
}

func invoke(t *testing.T, f *runtimeFixture, tool string, args map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return f.runtime.Invoke(context.Background(), testPracticeID, tool, raw, "vapi-call-1")
}

func TestInvokeUnknownTool(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "teleport_patient", nil)
	want := "teleport_patient encountered an error. Please try again."
	if out["error"] != want {
		t.Fatalf("error = %v, want %q", out["error"], want)
	}
}

func TestInvokeCancelledContextReturnsGenericError(t *testing.T) {
	f := newRuntimeFixture(t)
	f.bookings.blockBook = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := f.runtime.Invoke(ctx, testPracticeID, "book_appointment", []byte(`{}`), "")
	if out["error"] != "book_appointment encountered an error. Please try again." {
		t.Fatalf("expected generic error, got %v", out)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	f := newRuntimeFixture(t)
	f.practices.config = nil // transfer tool dereferences config

	out := invoke(t, f, "transfer_to_staff", map[string]any{"reason": "billing"})
	if out["error"] != "transfer_to_staff encountered an error. Please try again." {
		t.Fatalf("expected generic error, got %v", out)
	}
}

func TestSaveCallerInfoLinksMatchedPatient(t *testing.T) {
	f := newRuntimeFixture(t)
	f.calls.call = &calls.Call{ID: testCallRowID, PracticeID: testPracticeID, ExternalCallID: "vapi-call-1"}
	f.patients.byName = &patients.Patient{ID: testPatientID, FirstName: "Maria", LastName: "Lopez"}

	out := invoke(t, f, "save_caller_info", map[string]any{
		"first_name":    "Maria",
		"last_name":     "Lopez",
		"phone":         "555-123-4567",
		"date_of_birth": "1985-04-12",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if f.calls.savedName != "Maria Lopez" {
		t.Fatalf("saved name = %q", f.calls.savedName)
	}
	if f.calls.savedPhone != "+15551234567" {
		t.Fatalf("saved phone = %q", f.calls.savedPhone)
	}
	if f.calls.savedMatch == nil || *f.calls.savedMatch != testPatientID {
		t.Fatalf("expected matched patient link, got %v", f.calls.savedMatch)
	}
}

func TestCheckPatientExists(t *testing.T) {
	f := newRuntimeFixture(t)
	f.calls.call = &calls.Call{ID: testCallRowID, ExternalCallID: "vapi-call-1"}
	f.patients.byName = &patients.Patient{
		ID: testPatientID, FirstName: "Maria", LastName: "Lopez", Phone: "+15551234567", IsNew: false,
	}

	out := invoke(t, f, "check_patient_exists", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "date_of_birth": "1985-04-12",
	})
	if out["exists"] != true {
		t.Fatalf("expected exists, got %v", out)
	}
	if out["patient_id"] != testPatientID.String() {
		t.Fatalf("patient_id = %v", out["patient_id"])
	}
	if len(f.calls.linkedPat) != 1 || f.calls.linkedPat[0] != testPatientID {
		t.Fatalf("expected call linked to patient, got %v", f.calls.linkedPat)
	}
}

func TestCheckPatientExistsNotFound(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "check_patient_exists", map[string]any{
		"first_name": "Nobody", "last_name": "Here", "date_of_birth": "1990-01-01",
	})
	if out["exists"] != false {
		t.Fatalf("expected exists=false, got %v", out)
	}
	if len(f.calls.linkedPat) != 0 {
		t.Fatalf("unexpected patient link: %v", f.calls.linkedPat)
	}
}

func TestGetPatientDetails(t *testing.T) {
	f := newRuntimeFixture(t)
	f.patients.byID = &patients.Patient{
		ID: testPatientID, FirstName: "Maria", LastName: "Lopez",
		DOB:   time.Date(1985, 4, 12, 0, 0, 0, 0, time.UTC),
		Phone: "+15551234567", LanguagePreference: "es",
	}

	out := invoke(t, f, "get_patient_details", map[string]any{"patient_id": testPatientID.String()})
	if out["found"] != true {
		t.Fatalf("expected found, got %v", out)
	}
	if out["date_of_birth"] != "1985-04-12" {
		t.Fatalf("date_of_birth = %v", out["date_of_birth"])
	}
	if out["language_preference"] != "es" {
		t.Fatalf("language_preference = %v", out["language_preference"])
	}
}

func TestCheckAvailability(t *testing.T) {
	f := newRuntimeFixture(t)
	f.bookings.next = &booking.NextAvailable{
		Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Slots: []schedule.Slot{
			{Time: "09:00", Available: true},
			{Time: "09:00", Available: true}, // duplicate dropped
			{Time: "09:30", Available: false},
			{Time: "14:00", Available: true},
		},
		BestTime: "14:00",
	}

	out := invoke(t, f, "check_availability", map[string]any{
		"appointment_type": "physical", "preferred_time": "14:00",
	})
	if out["available"] != true {
		t.Fatalf("expected available, got %v", out)
	}
	if out["date_display"] != "Tomorrow" {
		t.Fatalf("date_display = %v", out["date_display"])
	}
	if out["today"] != "2026-03-09" {
		t.Fatalf("today = %v", out["today"])
	}
	if out["best_time_display"] != "2:00 PM" {
		t.Fatalf("best_time_display = %v", out["best_time_display"])
	}
	times := out["times"].([]map[string]string)
	if len(times) != 2 {
		t.Fatalf("times = %v", times)
	}
	if times[0]["display"] != "9:00 AM" {
		t.Fatalf("first display = %v", times[0])
	}
}

func TestCheckAvailabilityPastDate(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "check_availability", map[string]any{"date": "2026-03-01"})
	if out["available"] != false {
		t.Fatalf("expected unavailable, got %v", out)
	}
	if out["message"] != "That date has already passed." {
		t.Fatalf("message = %v", out["message"])
	}
	if f.bookings.nextCalled {
		t.Fatal("search should not have run")
	}
}

func TestCheckAvailabilityBeyondHorizon(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "check_availability", map[string]any{"date": "2026-06-01"})
	if out["available"] != false {
		t.Fatalf("expected unavailable, got %v", out)
	}
	if !strings.Contains(out["message"].(string), "30 days") {
		t.Fatalf("message = %v", out["message"])
	}
}

func TestBookAppointment(t *testing.T) {
	f := newRuntimeFixture(t)
	f.calls.call = &calls.Call{ID: testCallRowID, PracticeID: testPracticeID, ExternalCallID: "vapi-call-1"}
	f.bookings.booked = &booking.Appointment{
		ID: testApptID, PracticeID: testPracticeID, PatientID: testPatientID,
		Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Time: "14:00",
		Status: booking.StatusBooked, SMSConfirmationSent: true,
	}

	out := invoke(t, f, "book_appointment", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "date_of_birth": "1985-04-12",
		"phone": "5551234567", "date": "2026-03-10", "time": "14:00",
		"appointment_type": "physical",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if f.bookings.bookReq.BookedBy != booking.BookedByAI {
		t.Fatalf("booked_by = %q", f.bookings.bookReq.BookedBy)
	}
	if f.bookings.bookReq.IdempotencyKey != "vapi-call-1" {
		t.Fatalf("idempotency key = %q", f.bookings.bookReq.IdempotencyKey)
	}
	if f.bookings.bookReq.CallID == nil || *f.bookings.bookReq.CallID != testCallRowID {
		t.Fatalf("call id = %v", f.bookings.bookReq.CallID)
	}
	if out["confirmation_sent"] != true {
		t.Fatalf("confirmation_sent = %v", out["confirmation_sent"])
	}
	if out["time_display"] != "2:00 PM" {
		t.Fatalf("time_display = %v", out["time_display"])
	}
	if len(f.calls.linkedAppt) != 1 || f.calls.linkedAppt[0] != testApptID {
		t.Fatalf("expected appointment link, got %v", f.calls.linkedAppt)
	}
	if f.patients.created == nil || f.patients.created.FirstName != "Maria" {
		t.Fatalf("expected patient created, got %+v", f.patients.created)
	}
}

func TestBookAppointmentSlotFull(t *testing.T) {
	f := newRuntimeFixture(t)
	f.bookings.bookErr = booking.NewError(booking.KindConflictFull, "slot full")

	out := invoke(t, f, "book_appointment", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "date_of_birth": "1985-04-12",
		"date": "2026-03-10", "time": "14:00",
	})
	if out["success"] != false {
		t.Fatalf("expected failure, got %v", out)
	}
	if !strings.Contains(out["message"].(string), "filled up") {
		t.Fatalf("message = %v", out["message"])
	}
}

func TestCancelAppointmentReportsWaitlist(t *testing.T) {
	f := newRuntimeFixture(t)
	f.patients.byName = &patients.Patient{ID: testPatientID, FirstName: "Maria", LastName: "Lopez"}
	f.finder.appt = &booking.Appointment{ID: testApptID, Status: booking.StatusBooked}
	f.bookings.notified = 2

	out := invoke(t, f, "cancel_appointment", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "date_of_birth": "1985-04-12",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if out["waitlist_notified"] != 2 {
		t.Fatalf("waitlist_notified = %v", out["waitlist_notified"])
	}
	if len(f.bookings.cancelled) != 1 || f.bookings.cancelled[0] != testApptID {
		t.Fatalf("cancelled = %v", f.bookings.cancelled)
	}
}

func TestCancelAppointmentNoUpcoming(t *testing.T) {
	f := newRuntimeFixture(t)
	f.patients.byName = &patients.Patient{ID: testPatientID}

	out := invoke(t, f, "cancel_appointment", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "date_of_birth": "1985-04-12",
	})
	if out["success"] != false {
		t.Fatalf("expected failure, got %v", out)
	}
	if !strings.Contains(out["message"].(string), "upcoming appointment") {
		t.Fatalf("message = %v", out["message"])
	}
}

func TestRescheduleAppointment(t *testing.T) {
	f := newRuntimeFixture(t)
	f.patients.byName = &patients.Patient{ID: testPatientID}
	f.finder.appt = &booking.Appointment{ID: testApptID, Status: booking.StatusBooked}

	out := invoke(t, f, "reschedule_appointment", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "date_of_birth": "1985-04-12",
		"new_date": "2026-03-15", "new_time": "09:30",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if out["date"] != "2026-03-15" || out["time"] != "09:30" {
		t.Fatalf("moved to %v %v", out["date"], out["time"])
	}
}

func TestVerifyInsuranceDisabledAcknowledges(t *testing.T) {
	f := newRuntimeFixture(t)
	f.insurance.configured = true // but tenant flag off

	out := invoke(t, f, "verify_insurance", map[string]any{"member_id": "ABC123"})
	if out["verified"] != false {
		t.Fatalf("expected verified=false, got %v", out)
	}
	if !strings.Contains(out["message"].(string), "before your appointment") {
		t.Fatalf("message = %v", out["message"])
	}
}

func TestVerifyInsuranceEligible(t *testing.T) {
	f := newRuntimeFixture(t)
	f.practices.config.EligibilityOn = true
	f.insurance.configured = true
	f.insurance.result = &insurance.EligibilityResult{Eligible: true, PlanName: "Blue PPO", Copay: "$20"}

	out := invoke(t, f, "verify_insurance", map[string]any{"member_id": "ABC123", "carrier": "Blue Cross"})
	if out["verified"] != true || out["eligible"] != true {
		t.Fatalf("expected eligible, got %v", out)
	}
	if !strings.Contains(out["message"].(string), "Blue PPO") {
		t.Fatalf("message = %v", out["message"])
	}
}

func TestVerifyInsuranceUpstreamFailureHidesError(t *testing.T) {
	f := newRuntimeFixture(t)
	f.practices.config.EligibilityOn = true
	f.insurance.configured = true
	f.insurance.err = insurance.ErrUnavailable

	out := invoke(t, f, "verify_insurance", map[string]any{"member_id": "ABC123"})
	if out["verified"] != false {
		t.Fatalf("expected verified=false, got %v", out)
	}
	if strings.Contains(strings.ToLower(out["message"].(string)), "unavailable") {
		t.Fatalf("upstream detail leaked: %v", out["message"])
	}
}

func TestTransferToStaff(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "transfer_to_staff", map[string]any{"reason": "billing question"})
	if out["transfer"] != true {
		t.Fatalf("expected transfer, got %v", out)
	}
	if out["number"] != "+15559876543" {
		t.Fatalf("number = %v", out["number"])
	}

	f.practices.config.TransferNumber = ""
	out = invoke(t, f, "transfer_to_staff", nil)
	if out["transfer"] != false {
		t.Fatalf("expected no transfer, got %v", out)
	}
}

func TestCheckOfficeHoursOpenNow(t *testing.T) {
	f := newRuntimeFixture(t)
	f.resolver.days["2026-03-09"] = schedule.DaySchedule{Working: true, Open: "09:00", Close: "17:00"}

	out := invoke(t, f, "check_office_hours", nil)
	if out["open_now"] != true {
		t.Fatalf("expected open, got %v", out)
	}
	if out["closes_at"] != "5:00 PM" {
		t.Fatalf("closes_at = %v", out["closes_at"])
	}
}

func TestCheckOfficeHoursNextOpening(t *testing.T) {
	f := newRuntimeFixture(t)
	// Closed Monday, opens Wednesday.
	f.resolver.days["2026-03-11"] = schedule.DaySchedule{Working: true, Open: "08:00", Close: "16:00"}
	f.hours.templates = []schedule.WeeklyTemplate{
		{DayOfWeek: 3, IsEnabled: true, Open: "08:00", Close: "16:00"},
		{DayOfWeek: 6, IsEnabled: false, Open: "09:00", Close: "12:00"},
	}

	out := invoke(t, f, "check_office_hours", nil)
	if out["open_now"] != false {
		t.Fatalf("expected closed, got %v", out)
	}
	if out["next_open_date"] != "2026-03-11" {
		t.Fatalf("next_open_date = %v", out["next_open_date"])
	}
	if out["next_open_time"] != "8:00 AM" {
		t.Fatalf("next_open_time = %v", out["next_open_time"])
	}
	weekly := out["weekly_hours"].([]map[string]string)
	if len(weekly) != 1 || weekly[0]["day"] != "Wednesday" {
		t.Fatalf("weekly_hours = %v", weekly)
	}
}

func TestLeaveVoicemail(t *testing.T) {
	f := newRuntimeFixture(t)
	f.calls.call = &calls.Call{ID: testCallRowID, ExternalCallID: "vapi-call-1"}

	out := invoke(t, f, "leave_voicemail", map[string]any{
		"message": "Please call me about my lab results",
		"urgency": "urgent", "caller_name": "Maria Lopez", "phone": "5551234567",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if f.voicemails.saved.Urgency != "urgent" {
		t.Fatalf("urgency = %q", f.voicemails.saved.Urgency)
	}
	if f.voicemails.saved.CallID == nil || *f.voicemails.saved.CallID != testCallRowID {
		t.Fatalf("call link = %v", f.voicemails.saved.CallID)
	}
	if f.voicemails.saved.CallerPhone != "+15551234567" {
		t.Fatalf("phone = %q", f.voicemails.saved.CallerPhone)
	}
}

func TestRequestRefill(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "request_refill", map[string]any{
		"first_name": "Maria", "last_name": "Lopez",
		"medication": "Lisinopril", "dosage": "10mg", "pharmacy": "CVS Main St",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	if f.refills.saved.Medication != "Lisinopril" {
		t.Fatalf("medication = %q", f.refills.saved.Medication)
	}
	if f.refills.saved.PatientName != "Maria Lopez" {
		t.Fatalf("patient name = %q", f.refills.saved.PatientName)
	}
}

func TestAddToWaitlist(t *testing.T) {
	f := newRuntimeFixture(t)
	out := invoke(t, f, "add_to_waitlist", map[string]any{
		"first_name": "Maria", "last_name": "Lopez", "phone": "5551234567",
		"appointment_type":     "physical",
		"preferred_date_start": "2026-03-10", "preferred_date_end": "2026-03-20",
		"preferred_time_start": "09:00", "preferred_time_end": "12:00",
	})
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	req := f.waitlist.added
	if req.Phone != "+15551234567" {
		t.Fatalf("phone = %q", req.Phone)
	}
	if req.AppointmentTypeID == nil || *req.AppointmentTypeID != testTypeID {
		t.Fatalf("type = %v", req.AppointmentTypeID)
	}
	if req.PreferredTimeStart == nil || *req.PreferredTimeStart != "09:00" {
		t.Fatalf("time start = %v", req.PreferredTimeStart)
	}
	if req.PreferredDateEnd == nil || req.PreferredDateEnd.Format(time.DateOnly) != "2026-03-20" {
		t.Fatalf("date end = %v", req.PreferredDateEnd)
	}
}
