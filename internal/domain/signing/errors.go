package signing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing challenges, signatures and batches.
	ErrNotFound = errors.New("not found")

	// ErrExpired means the OTP challenge's lifetime has passed.
	ErrExpired = errors.New("verification code expired")

	// ErrLocked means the challenge was locked after too many wrong codes.
	ErrLocked = errors.New("verification locked after too many attempts")

	// ErrOtpRequired means a patient signature was attempted without a
	// valid, unconsumed verification token.
	ErrOtpRequired = errors.New("identity verification required")

	// ErrAlreadySigned means the (record, signer type) pair already has a
	// ledger entry.
	ErrAlreadySigned = errors.New("record already signed by this signer type")

	// ErrHashMismatch means the client-submitted hash does not match the
	// server-side recomputation; the record changed since it was displayed.
	ErrHashMismatch = errors.New("content hash mismatch: record may have been altered")

	// ErrMissingContentHash rejects signing requests that skip the
	// read-then-sign tamper check.
	ErrMissingContentHash = errors.New("content hash required")

	// ErrMissingSignerName rejects signing requests without the signer's
	// display name.
	ErrMissingSignerName = errors.New("signer name required")

	// ErrDeliveryFailed means the verification code could not be delivered.
	ErrDeliveryFailed = errors.New("could not deliver verification code")

	// ErrThrottled means the caller exceeded the code-request allowance.
	ErrThrottled = errors.New("too many verification codes requested")

	// ErrInvalidSignerType rejects signer types outside patient/dentist.
	ErrInvalidSignerType = errors.New("invalid signer type")
)

// NoDestinationError means the patient has no email on file to receive a
// code. It carries the patient's name so the UI can prompt for one.
type NoDestinationError struct {
	PatientName string
}

func (e *NoDestinationError) Error() string {
	return fmt.Sprintf("patient %q has no email on file", e.PatientName)
}

// IncorrectCodeError reports a wrong code and how many attempts remain.
type IncorrectCodeError struct {
	AttemptsLeft int
}

func (e *IncorrectCodeError) Error() string {
	return fmt.Sprintf("incorrect code, %d attempt(s) left", e.AttemptsLeft)
}

// BatchFailureError aborts a whole batch, naming the member that failed.
// Batches are all-or-nothing: no signature from a failed batch persists.
type BatchFailureError struct {
	Index      int
	RecordType string
	RecordID   string
	Cause      error
}

func (e *BatchFailureError) Error() string {
	return fmt.Sprintf("batch member %d (%s %s): %v", e.Index, e.RecordType, e.RecordID, e.Cause)
}

func (e *BatchFailureError) Unwrap() error { return e.Cause }
