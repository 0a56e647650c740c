// Package records gives the signing core a uniform view over the clinical
// record tables (procedures, anamneses, exams) plus patient lookup and
// immutable record snapshots.
package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/odonto/odonto/internal/domain/canonical"
)

// Record is one signable clinical record projected to its signable fields.
type Record struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	PatientID uuid.UUID
	Type      canonical.RecordType
	// Fields holds the record's signable content, keyed by column name.
	Fields map[string]any
	// Description is a human-readable label used in batch manifests.
	Description string
	// Date is the record's clinical date in YYYY-MM-DD form.
	Date string
}

// Hash computes the record's content hash over its canonical form.
func (r *Record) Hash() (string, error) {
	return canonical.Hash(r.Type, r.Fields)
}

// Patient carries the identity and contact data the OTP flow needs.
type Patient struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	FullName      string
	Email         *string
	GuardianEmail *string
	MotherEmail   *string
	BirthDate     *time.Time
}

// IsMinor reports whether the patient is under 18 at the reference time.
// Patients without a birth date are treated as adults.
func (p *Patient) IsMinor(now time.Time) bool {
	if p.BirthDate == nil {
		return false
	}
	age := now.Year() - p.BirthDate.Year()
	anniversary := time.Date(now.Year(), p.BirthDate.Month(), p.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		age--
	}
	return age < 18
}

// OTPDestination picks the email address verification codes go to. Minors
// use the guardian's address first, then the mother's, then their own.
// Returns empty when no address is on file.
func (p *Patient) OTPDestination(now time.Time) string {
	candidates := []*string{p.Email}
	if p.IsMinor(now) {
		candidates = []*string{p.GuardianEmail, p.MotherEmail, p.Email}
	}
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

// UnsignedRecord is a row of the unsigned-records listing.
type UnsignedRecord struct {
	RecordID    uuid.UUID            `json:"record_id"`
	RecordType  canonical.RecordType `json:"record_type"`
	PatientID   uuid.UUID            `json:"patient_id"`
	PatientName string               `json:"patient_name"`
	Date        string               `json:"date"`
	Description string               `json:"description"`
	HasPatient  bool                 `json:"has_patient_signature"`
	HasDentist  bool                 `json:"has_dentist_signature"`
}

// Version is an immutable snapshot of a record's content taken at signing
// time.
type Version struct {
	ID          uuid.UUID
	RecordType  canonical.RecordType
	RecordID    uuid.UUID
	SignatureID uuid.UUID
	ContentHash string
	Content     map[string]any
	CreatedAt   time.Time
}
