// Package patients stores patient identity records scoped to a practice.
package patients

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a person known to a practice. Uniqueness is
// (practice, lower(first_name), lower(last_name), dob).
type Patient struct {
	ID                 uuid.UUID
	PracticeID         uuid.UUID
	FirstName          string
	LastName           string
	DOB                time.Time
	Phone              string
	Address            string
	LanguagePreference string
	InsuranceCarrier   string
	MemberID           string
	IsNew              bool
	OptedOutRecall     bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FullName returns "First Last" for message rendering.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}
