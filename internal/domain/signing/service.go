package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonto/odonto/internal/domain/canonical"
	"github.com/odonto/odonto/internal/domain/records"
	"github.com/odonto/odonto/internal/platform/blobstore"
	"github.com/odonto/odonto/internal/platform/db"
)

// Service owns the signature ledger: it recomputes record hashes at signing
// time, gates patient signatures on a spent verification token, and answers
// the read side.
type Service struct {
	signatures SignatureRepository
	records    records.Repository
	versions   records.VersionRepository
	otp        *OTPService
	blobs      blobstore.BlobStore
	now        func() time.Time
	run        func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewService(pool *pgxpool.Pool, signatures SignatureRepository, recs records.Repository,
	versions records.VersionRepository, otp *OTPService, blobs blobstore.BlobStore) *Service {
	return &Service{
		signatures: signatures,
		records:    recs,
		versions:   versions,
		otp:        otp,
		blobs:      blobs,
		now:        time.Now,
		run: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
	}
}

// CreateSignatureRequest is one signing attempt over one record.
type CreateSignatureRequest struct {
	ClinicID   uuid.UUID
	RecordType canonical.RecordType
	RecordID   uuid.UUID
	SignerType SignerType

	// Patient side.
	OtpToken string

	// Dentist side.
	SignerUserID string

	// Display name of the person signing, stored on the ledger row.
	SignerName string

	// Hash the client displayed before signing. Must match the
	// server-side recomputation or the request is rejected.
	ClientHash string

	// Raw PNG of the drawn signature. Optional.
	Image []byte

	// Request audit metadata.
	RequestIP string
	UserAgent string
}

// CreateSignature appends one signature to the ledger. The content hash is
// always recomputed server-side from current record content. Token
// redemption, the ledger insert and the version snapshot commit together: a
// failed insert never burns the patient's verification, and no signature is
// ever visible without its snapshot.
func (s *Service) CreateSignature(ctx context.Context, req CreateSignatureRequest) (*Signature, error) {
	if !canonical.ValidRecordType(req.RecordType) {
		return nil, fmt.Errorf("%w: %q", canonical.ErrUnknownRecordType, req.RecordType)
	}
	if !ValidSignerType(req.SignerType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignerType, req.SignerType)
	}
	if req.SignerName == "" {
		return nil, ErrMissingSignerName
	}
	if req.ClientHash == "" {
		return nil, ErrMissingContentHash
	}

	record, err := s.records.Get(ctx, req.RecordType, req.RecordID)
	if err != nil {
		return nil, err
	}

	hash, err := record.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash record: %w", err)
	}
	if req.ClientHash != hash {
		return nil, ErrHashMismatch
	}

	sig := &Signature{
		ClinicID:     req.ClinicID,
		PatientID:    record.PatientID,
		RecordType:   req.RecordType,
		RecordID:     req.RecordID,
		SignerType:   req.SignerType,
		SignerName:   req.SignerName,
		ContentHash:  hash,
		HashVerified: true,
		IPAddress:    req.RequestIP,
		UserAgent:    req.UserAgent,
		SignedAt:     s.now(),
	}

	var challengeID uuid.UUID
	switch req.SignerType {
	case SignerPatient:
		challengeID, err = s.otp.CheckToken(req.OtpToken, record.PatientID, req.RecordType, req.RecordID)
		if err != nil {
			return nil, err
		}
	case SignerDentist:
		if req.SignerUserID == "" {
			return nil, fmt.Errorf("%w: dentist signature requires a signer", ErrInvalidSignerType)
		}
		sig.SignerUserID = &req.SignerUserID
	}

	if len(req.Image) > 0 {
		path := blobstore.SignatureImagePath(req.ClinicID.String(), record.PatientID.String(),
			string(req.RecordType), req.RecordID.String(), string(req.SignerType), s.now())
		if _, err := s.blobs.Put(ctx, path, "image/png", bytes.NewReader(req.Image)); err != nil {
			return nil, fmt.Errorf("store signature image: %w", err)
		}
		sig.ImagePath = &path
	}

	err = s.run(ctx, func(ctx context.Context) error {
		if req.SignerType == SignerPatient {
			challenge, err := s.otp.Redeem(ctx, challengeID)
			if err != nil {
				return err
			}
			method := "email"
			sig.OtpChallengeID = &challenge.ID
			sig.OtpMethod = &method
			sig.OtpEmailMasked = &challenge.Masked
		}

		if err := s.signatures.Create(ctx, sig); err != nil {
			return err
		}

		if err := s.versions.Create(ctx, snapshotFor(record, sig.ID, hash)); err != nil {
			return fmt.Errorf("snapshot record version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sig, nil
}

// snapshotFor projects a record to its signable fields for the immutable
// version table.
func snapshotFor(record *records.Record, signatureID uuid.UUID, hash string) *records.Version {
	content := map[string]any{}
	if schema, err := canonical.Schema(record.Type); err == nil {
		for _, field := range schema {
			if v, ok := record.Fields[field]; ok {
				content[field] = v
			} else {
				content[field] = nil
			}
		}
	}
	return &records.Version{
		RecordType:  record.Type,
		RecordID:    record.ID,
		SignatureID: signatureID,
		ContentHash: hash,
		Content:     content,
	}
}

// ListForRecord returns every signature over a record, oldest first.
func (s *Service) ListForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*Signature, error) {
	if !canonical.ValidRecordType(recordType) {
		return nil, fmt.Errorf("%w: %q", canonical.ErrUnknownRecordType, recordType)
	}
	return s.signatures.ListForRecord(ctx, recordType, recordID)
}

// StatusFor aggregates both signature sides of a record into one status.
func (s *Service) StatusFor(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) (*RecordStatus, error) {
	if !canonical.ValidRecordType(recordType) {
		return nil, fmt.Errorf("%w: %q", canonical.ErrUnknownRecordType, recordType)
	}

	patient, err := s.signatures.GetForRecord(ctx, recordType, recordID, SignerPatient)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	dentist, err := s.signatures.GetForRecord(ctx, recordType, recordID, SignerDentist)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return statusFromSides(patient, dentist), nil
}

// Unsigned lists records still missing at least one signature side.
func (s *Service) Unsigned(ctx context.Context, clinicID uuid.UUID, patientID *uuid.UUID, limit, offset int) ([]*records.UnsignedRecord, int, error) {
	return s.records.Unsigned(ctx, clinicID, patientID, limit, offset)
}
