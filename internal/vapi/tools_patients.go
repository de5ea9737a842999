package vapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/calls"
	"github.com/oakridgehealth/frontdesk/internal/patients"
)

// saveCallerInfo persists identity on the live call record as soon as the
// assistant learns it, so dropped calls still carry a name and number.
func (r *Runtime) saveCallerInfo(ctx context.Context, practiceID uuid.UUID, params Params, externalCallID string) (map[string]any, error) {
	first, last := callerName(params)
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = params.First("name", "caller_name")
	}
	phone := params.Phone("phone", "phone_number", "caller_phone")

	var patientID *uuid.UUID
	if first != "" && last != "" {
		if birth, err := dob(params); err == nil {
			p, err := r.patients.FindByName(ctx, practiceID, first, last, birth)
			if err == nil {
				patientID = &p.ID
			} else if !errors.Is(err, patients.ErrNotFound) {
				return nil, err
			}
		}
	}

	if externalCallID == "" || r.calls == nil {
		r.logger.Warn("vapi: save_caller_info without a call", "practice_id", practiceID)
		return map[string]any{"success": true}, nil
	}
	if err := r.calls.SaveCallerInfo(ctx, externalCallID, name, phone, patientID); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			r.logger.Warn("vapi: save_caller_info for unknown call", "external_call_id", externalCallID)
			return map[string]any{"success": true}, nil
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// checkPatientExists looks up (first, last, dob) scoped to the practice and
// links the call to the patient when found.
func (r *Runtime) checkPatientExists(ctx context.Context, practiceID uuid.UUID, params Params, externalCallID string) (map[string]any, error) {
	first, last := callerName(params)
	if first == "" || last == "" {
		return map[string]any{
			"exists":  false,
			"message": "I need the patient's first and last name to look them up.",
		}, nil
	}
	birth, err := dob(params)
	if err != nil {
		return map[string]any{
			"exists":  false,
			"message": "I need the patient's date of birth to look them up.",
		}, nil
	}

	p, err := r.patients.FindByName(ctx, practiceID, first, last, birth)
	if err != nil {
		if errors.Is(err, patients.ErrNotFound) {
			return map[string]any{"exists": false}, nil
		}
		return nil, err
	}

	if externalCallID != "" && r.calls != nil {
		if err := r.calls.LinkPatient(ctx, externalCallID, p.ID); err != nil && !errors.Is(err, calls.ErrNotFound) {
			r.logger.Warn("vapi: link patient failed", "external_call_id", externalCallID, "error", err)
		}
	}

	return map[string]any{
		"exists":        true,
		"patient_id":    p.ID.String(),
		"first_name":    p.FirstName,
		"last_name":     p.LastName,
		"is_new":        p.IsNew,
		"phone_on_file": p.Phone != "",
	}, nil
}

// getPatientDetails fetches the full patient record by id.
func (r *Runtime) getPatientDetails(ctx context.Context, practiceID uuid.UUID, params Params) (map[string]any, error) {
	id, err := params.UUID("patient_id")
	if err != nil {
		return nil, err
	}
	p, err := r.patients.Get(ctx, practiceID, id)
	if err != nil {
		if errors.Is(err, patients.ErrNotFound) {
			return map[string]any{"found": false}, nil
		}
		return nil, err
	}
	return map[string]any{
		"found":               true,
		"patient_id":          p.ID.String(),
		"first_name":          p.FirstName,
		"last_name":           p.LastName,
		"date_of_birth":       p.DOB.Format(time.DateOnly),
		"phone":               p.Phone,
		"address":             p.Address,
		"language_preference": p.LanguagePreference,
		"insurance_carrier":   p.InsuranceCarrier,
		"member_id":           p.MemberID,
		"is_new":              p.IsNew,
	}, nil
}

// findOrCreatePatient resolves the caller to a patient row for booking.
func (r *Runtime) findOrCreatePatient(ctx context.Context, practiceID uuid.UUID, params Params) (*patients.Patient, error) {
	first, last := callerName(params)
	if first == "" || last == "" {
		return nil, errors.New("vapi: patient name required")
	}
	birth, err := dob(params)
	if err != nil {
		return nil, err
	}
	phone := params.Phone("phone", "phone_number")
	p, err := r.patients.FindOrCreate(ctx, &patients.Patient{
		PracticeID:         practiceID,
		FirstName:          first,
		LastName:           last,
		DOB:                birth,
		Phone:              phone,
		LanguagePreference: params.First("language", "language_preference"),
	})
	if err != nil {
		return nil, fmt.Errorf("vapi: find or create patient: %w", err)
	}
	if phone != "" && p.Phone == "" {
		if err := r.patients.UpdatePhone(ctx, practiceID, p.ID, phone); err != nil {
			r.logger.Warn("vapi: update patient phone failed", "patient_id", p.ID, "error", err)
		} else {
			p.Phone = phone
		}
	}
	return p, nil
}
