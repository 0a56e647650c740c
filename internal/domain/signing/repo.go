package signing

import (
	"context"

	"github.com/google/uuid"

	"github.com/odonto/odonto/internal/domain/canonical"
)

// ChallengeRepository persists OTP challenges. Attempt accounting and state
// transitions are conditional updates so concurrent verifies cannot exceed
// the attempt budget or redeem a challenge twice.
type ChallengeRepository interface {
	Create(ctx context.Context, c *Challenge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Challenge, error)
	// ExpireOpenForRecord invalidates previous sent challenges for a record
	// before a new code goes out.
	ExpireOpenForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) error
	// MarkExpired transitions sent -> expired. Used for lazy expiry.
	MarkExpired(ctx context.Context, id uuid.UUID) error
	// RegisterFailedAttempt atomically increments the attempt counter while
	// the challenge is still sent, locking it when the budget is exhausted.
	// Returns the new attempt count and whether the challenge is now locked.
	RegisterFailedAttempt(ctx context.Context, id uuid.UUID) (attempts int, locked bool, err error)
	// MarkVerified transitions sent -> verified. Returns false when the
	// challenge was not in sent state.
	MarkVerified(ctx context.Context, id uuid.UUID) (bool, error)
	// Consume transitions verified -> consumed, enforcing single use.
	// Returns false when the challenge was not in verified state.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
}

// SignatureRepository is the append-only ledger. There is deliberately no
// update or delete.
type SignatureRepository interface {
	// Create inserts a signature. A duplicate (record_type, record_id,
	// signer_type) returns ErrAlreadySigned.
	Create(ctx context.Context, s *Signature) error
	ListForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*Signature, error)
	// GetForRecord returns the signature for one signer type, or ErrNotFound.
	GetForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID, signerType SignerType) (*Signature, error)
}

// BatchRepository persists signing lotes.
type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// CountWithPrefix counts a clinic's batches whose number starts with
	// prefix, used to allocate the next sequence number.
	CountWithPrefix(ctx context.Context, clinicID uuid.UUID, prefix string) (int, error)
	UpdateEnvelope(ctx context.Context, id uuid.UUID, status EnvelopeStatus, signingURL *string) error
}
