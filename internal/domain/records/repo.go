package records

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/odonto/odonto/internal/domain/canonical"
)

// ErrNotFound is returned when a record or patient does not exist.
var ErrNotFound = errors.New("not found")

// Repository loads signable records across the clinical tables.
type Repository interface {
	Get(ctx context.Context, recordType canonical.RecordType, id uuid.UUID) (*Record, error)
	Unsigned(ctx context.Context, clinicID uuid.UUID, patientID *uuid.UUID, limit, offset int) ([]*UnsignedRecord, int, error)
}

// PatientRepository looks up patients for OTP destination resolution.
type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}

// VersionRepository persists immutable record snapshots.
type VersionRepository interface {
	Create(ctx context.Context, v *Version) error
	ListForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*Version, error)
}
