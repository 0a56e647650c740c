// Package signing implements the clinical record signing core: OTP-gated
// patient signatures, direct and batch dentist signatures, and the
// append-only signature ledger behind them.
package signing

import (
	"time"

	"github.com/google/uuid"

	"github.com/odonto/odonto/internal/domain/canonical"
)

// SignerType distinguishes who produced a signature.
type SignerType string

const (
	SignerPatient SignerType = "patient"
	SignerDentist SignerType = "dentist"
)

var validSignerTypes = map[SignerType]bool{
	SignerPatient: true,
	SignerDentist: true,
}

// ValidSignerType reports whether t names a known signer side.
func ValidSignerType(t SignerType) bool {
	return validSignerTypes[t]
}

// ChallengeStatus is the lifecycle state of an OTP challenge.
type ChallengeStatus string

const (
	ChallengeSent     ChallengeStatus = "sent"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeLocked   ChallengeStatus = "locked"
	ChallengeExpired  ChallengeStatus = "expired"
	ChallengeConsumed ChallengeStatus = "consumed"
)

// Challenge is one OTP identity-verification attempt tied to a record.
// Only the SHA-256 of the code is stored, never the code itself.
type Challenge struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	RecordType  canonical.RecordType
	RecordID    uuid.UUID
	CodeHash    string
	Destination string
	Masked      string
	Status      ChallengeStatus
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	VerifiedAt  *time.Time
	RequestIP   string
	UserAgent   string
	CreatedAt   time.Time
}

// Signature is one row of the append-only ledger. At most one exists per
// (record_type, record_id, signer_type).
type Signature struct {
	ID              uuid.UUID            `json:"id"`
	ClinicID        uuid.UUID            `json:"clinic_id"`
	PatientID       uuid.UUID            `json:"patient_id"`
	RecordType      canonical.RecordType `json:"record_type"`
	RecordID        uuid.UUID            `json:"record_id"`
	SignerType      SignerType           `json:"signer_type"`
	SignerUserID    *string              `json:"signer_user_id,omitempty"`
	SignerName      string               `json:"signer_name"`
	ContentHash     string               `json:"content_hash"`
	HashVerified    bool                 `json:"content_hash_verified"`
	OtpChallengeID  *uuid.UUID           `json:"otp_challenge_id,omitempty"`
	OtpMethod       *string              `json:"otp_method,omitempty"`
	OtpEmailMasked  *string              `json:"otp_email_masked,omitempty"`
	ImagePath       *string              `json:"image_path,omitempty"`
	BatchDocumentID *uuid.UUID           `json:"batch_document_id,omitempty"`
	IPAddress       string               `json:"ip_address,omitempty"`
	UserAgent       string               `json:"user_agent,omitempty"`
	SignedAt        time.Time            `json:"signed_at"`
}

// EnvelopeStatus tracks the external ICP signing flow for a batch.
type EnvelopeStatus string

const (
	EnvelopeNone     EnvelopeStatus = "none"
	EnvelopePending  EnvelopeStatus = "pending"
	EnvelopeSigned   EnvelopeStatus = "signed"
	EnvelopeRejected EnvelopeStatus = "rejected"
	EnvelopeFailed   EnvelopeStatus = "failed"
)

// Batch is one dentist signing lote. Its hash commits to every member
// signature's content hash.
type Batch struct {
	ID             uuid.UUID      `json:"id"`
	ClinicID       uuid.UUID      `json:"clinic_id"`
	BatchNumber    string         `json:"batch_number"`
	BatchHash      string         `json:"batch_hash"`
	RecordCount    int            `json:"record_count"`
	StoragePath    string         `json:"storage_path"`
	SigningURL     *string        `json:"signing_url,omitempty"`
	EnvelopeStatus EnvelopeStatus `json:"envelope_status"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SignatureState is the aggregated signing state of one record.
type SignatureState string

const (
	StateNone        SignatureState = "none"
	StatePatientOnly SignatureState = "patient_only"
	StateDentistOnly SignatureState = "dentist_only"
	StateBoth        SignatureState = "both"
)

// SideStatus is the read-side projection of one signature.
type SideStatus struct {
	SignedAt        time.Time  `json:"signed_at"`
	OtpMethod       *string    `json:"otp_method,omitempty"`
	OtpEmailMasked  *string    `json:"otp_email_masked,omitempty"`
	HashVerified    bool       `json:"content_hash_verified"`
	BatchDocumentID *uuid.UUID `json:"batch_document_id,omitempty"`
}

// RecordStatus aggregates both sides for one record.
type RecordStatus struct {
	State   SignatureState `json:"state"`
	Patient *SideStatus    `json:"patient,omitempty"`
	Dentist *SideStatus    `json:"dentist,omitempty"`
}

// statusFromSides maps signature presence to the aggregate state.
func statusFromSides(patient, dentist *Signature) *RecordStatus {
	st := &RecordStatus{State: StateNone}
	if patient != nil {
		st.Patient = sideStatus(patient)
		st.State = StatePatientOnly
	}
	if dentist != nil {
		st.Dentist = sideStatus(dentist)
		if patient != nil {
			st.State = StateBoth
		} else {
			st.State = StateDentistOnly
		}
	}
	return st
}

func sideStatus(s *Signature) *SideStatus {
	return &SideStatus{
		SignedAt:        s.SignedAt,
		OtpMethod:       s.OtpMethod,
		OtpEmailMasked:  s.OtpEmailMasked,
		HashVerified:    s.HashVerified,
		BatchDocumentID: s.BatchDocumentID,
	}
}
