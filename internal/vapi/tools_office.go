package vapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/insurance"
	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/internal/refill"
	"github.com/oakridgehealth/frontdesk/internal/schedule"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
	"github.com/oakridgehealth/frontdesk/internal/voicemail"
	"github.com/oakridgehealth/frontdesk/internal/waitlist"
)

const insuranceRecordedMsg = "I've recorded your insurance information. We'll verify your coverage before your appointment."

// verifyInsurance runs a real-time eligibility check when the tenant has it
// enabled, otherwise acknowledges and defers to staff. Raw upstream errors
// never reach the caller.
func (r *Runtime) verifyInsurance(ctx context.Context, practiceID uuid.UUID, params Params) (map[string]any, error) {
	cfg, err := r.practices.GetConfig(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	if !cfg.EligibilityOn || r.insurance == nil || !r.insurance.Configured() {
		return map[string]any{"verified": false, "message": insuranceRecordedMsg}, nil
	}

	memberID := params.First("member_id", "insurance_member_id")
	if memberID == "" {
		return map[string]any{
			"verified": false,
			"message":  "I need the member ID from your insurance card to verify coverage.",
		}, nil
	}
	first, last := callerName(params)
	result, err := r.insurance.Check(ctx, insurance.EligibilityRequest{
		MemberID:  memberID,
		Carrier:   params.First("carrier", "insurance_carrier"),
		FirstName: first,
		LastName:  last,
		DOB:       params.First("date_of_birth", "dob"),
	})
	if err != nil {
		r.logger.Warn("vapi: eligibility check failed", "practice_id", practiceID, "error", err)
		return map[string]any{"verified": false, "message": insuranceRecordedMsg}, nil
	}

	out := map[string]any{"verified": true, "eligible": result.Eligible}
	if result.Eligible {
		msg := "Good news, your insurance is active"
		if result.PlanName != "" {
			msg += " under " + result.PlanName
		}
		if result.Copay != "" {
			msg += fmt.Sprintf(", with a %s copay", result.Copay)
			out["copay"] = result.Copay
		}
		out["message"] = msg + "."
	} else {
		out["message"] = "I wasn't able to confirm active coverage. Our staff will follow up before your appointment."
	}
	return out, nil
}

// requestRefill records a prescription refill for staff review.
func (r *Runtime) requestRefill(ctx context.Context, practiceID uuid.UUID, params Params, externalCallID string) (map[string]any, error) {
	medication := params.First("medication", "medication_name")
	if medication == "" {
		return map[string]any{"success": false, "message": "Which medication do you need refilled?"}, nil
	}
	first, last := callerName(params)
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = params.First("patient_name", "name")
	}
	req := &refill.Request{
		PracticeID:  practiceID,
		CallID:      r.callUUID(ctx, externalCallID),
		PatientName: name,
		Medication:  medication,
		Dosage:      params.First("dosage"),
		Pharmacy:    params.First("pharmacy"),
		Urgency:     params.First("urgency"),
	}
	if err := r.refills.Insert(ctx, req); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("I've sent the %s refill request to our staff. They'll call the pharmacy within one business day.", medication),
	}, nil
}

// transferToStaff hands the call to the configured transfer number.
func (r *Runtime) transferToStaff(ctx context.Context, practiceID uuid.UUID, params Params) (map[string]any, error) {
	cfg, err := r.practices.GetConfig(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	if cfg.TransferNumber == "" {
		return map[string]any{
			"transfer": false,
			"message":  "I can't transfer you right now, but I can take a message for our staff.",
		}, nil
	}
	return map[string]any{
		"transfer": true,
		"number":   cfg.TransferNumber,
		"reason":   params.First("reason"),
	}, nil
}

// checkOfficeHours answers "are you open now" in the practice timezone and
// finds the next opening within a week.
func (r *Runtime) checkOfficeHours(ctx context.Context, practiceID uuid.UUID) (map[string]any, error) {
	prac, err := r.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	loc := timeclock.Location(prac.Timezone)
	now := r.clock.Now().In(loc)
	today := timeclock.TodayIn(r.clock, loc)
	nowClock := now.Format("15:04")

	day, err := r.resolver.Resolve(ctx, practiceID, today)
	if err != nil {
		return nil, err
	}
	openNow := day.Working && day.Open <= nowClock && nowClock < day.Close

	result := map[string]any{
		"open_now": openNow,
		"timezone": prac.Timezone,
		"today":    today.Format(time.DateOnly),
	}
	if openNow {
		result["closes_at"] = timeclock.Format12Hour(day.Close)
		result["message"] = fmt.Sprintf("Yes, we're open until %s today.", timeclock.Format12Hour(day.Close))
	} else if next, nextDay, ok := r.nextOpening(ctx, practiceID, today, nowClock); ok {
		result["next_open_date"] = next.Format(time.DateOnly)
		result["next_open_time"] = timeclock.Format12Hour(nextDay.Open)
		result["message"] = fmt.Sprintf("We're closed right now. We open %s at %s.",
			strings.ToLower(dateDisplay(next, today)), timeclock.Format12Hour(nextDay.Open))
	} else {
		result["message"] = "We're closed right now."
	}

	if r.hours != nil {
		templates, err := r.hours.ListWeeklyTemplates(ctx, practiceID)
		if err != nil {
			r.logger.Warn("vapi: list weekly hours failed", "practice_id", practiceID, "error", err)
		} else {
			var weekly []map[string]string
			for _, t := range templates {
				if !t.IsEnabled {
					continue
				}
				weekly = append(weekly, map[string]string{
					"day":   time.Weekday(t.DayOfWeek).String(),
					"open":  timeclock.Format12Hour(t.Open),
					"close": timeclock.Format12Hour(t.Close),
				})
			}
			result["weekly_hours"] = weekly
		}
	}
	return result, nil
}

// nextOpening walks up to 7 days forward for the next open time. For today
// only a not-yet-reached opening counts.
func (r *Runtime) nextOpening(ctx context.Context, practiceID uuid.UUID, today time.Time, nowClock string) (time.Time, schedule.DaySchedule, bool) {
	for i := 0; i <= 7; i++ {
		date := today.AddDate(0, 0, i)
		day, err := r.resolver.Resolve(ctx, practiceID, date)
		if err != nil {
			r.logger.Warn("vapi: resolve schedule failed", "date", date.Format(time.DateOnly), "error", err)
			return time.Time{}, schedule.DaySchedule{}, false
		}
		if !day.Working {
			continue
		}
		if i == 0 && day.Open <= nowClock {
			continue
		}
		return date, day, true
	}
	return time.Time{}, schedule.DaySchedule{}, false
}

// leaveVoicemail persists a message for staff.
func (r *Runtime) leaveVoicemail(ctx context.Context, practiceID uuid.UUID, params Params, externalCallID string) (map[string]any, error) {
	message := params.First("message", "voicemail")
	if message == "" {
		return map[string]any{"success": false, "message": "What would you like the message to say?"}, nil
	}
	urgency := params.First("urgency")
	if urgency != "" && !voicemail.ValidUrgency(urgency) {
		urgency = voicemail.UrgencyNormal
	}
	first, last := callerName(params)
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = params.First("caller_name", "name")
	}
	vm := &voicemail.Voicemail{
		PracticeID:  practiceID,
		CallID:      r.callUUID(ctx, externalCallID),
		CallerName:  name,
		CallerPhone: params.Phone("phone", "caller_phone", "phone_number"),
		Message:     message,
		Urgency:     urgency,
	}
	if err := r.voicemails.Insert(ctx, vm); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": "I've passed your message along to our staff.",
	}, nil
}

// addToWaitlist signs the caller up for cancellation offers.
func (r *Runtime) addToWaitlist(ctx context.Context, practiceID uuid.UUID, params Params) (map[string]any, error) {
	first, last := callerName(params)
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = params.First("patient_name", "name")
	}
	phone := params.Phone("phone", "phone_number")
	if name == "" || phone == "" {
		return map[string]any{
			"success": false,
			"message": "I need your name and a mobile number to add you to the waitlist.",
		}, nil
	}

	req := waitlist.AddRequest{
		PracticeID:  practiceID,
		PatientName: name,
		Phone:       phone,
	}
	if apptType, err := r.typeFromParams(ctx, practiceID, params); err != nil {
		return nil, err
	} else if apptType != nil {
		req.AppointmentTypeID = apptType
	}

	prac, err := r.practices.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	loc := timeclock.Location(prac.Timezone)
	if raw := params.First("preferred_date_start", "date_start"); raw != "" {
		if d, err := timeclock.ParseDate(raw, loc); err == nil {
			req.PreferredDateStart = &d
		}
	}
	if raw := params.First("preferred_date_end", "date_end"); raw != "" {
		if d, err := timeclock.ParseDate(raw, loc); err == nil {
			req.PreferredDateEnd = &d
		}
	}
	if t, err := params.Clock("preferred_time_start"); err == nil {
		req.PreferredTimeStart = &t
	}
	if t, err := params.Clock("preferred_time_end"); err == nil {
		req.PreferredTimeEnd = &t
	}

	entry, err := r.waitlist.Add(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"entry_id": entry.ID.String(),
		"message":  "You're on the waitlist. We'll text you as soon as a matching slot opens up.",
	}, nil
}

// typeFromParams resolves an optional appointment-type name to its id.
func (r *Runtime) typeFromParams(ctx context.Context, practiceID uuid.UUID, params Params) (*uuid.UUID, error) {
	name := params.First("appointment_type", "type", "service")
	if name == "" {
		return nil, nil
	}
	t, err := r.practices.FindAppointmentTypeByName(ctx, practiceID, name)
	if err != nil {
		if errors.Is(err, practice.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t.ID, nil
}
