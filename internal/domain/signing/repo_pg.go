package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonto/odonto/internal/domain/canonical"
	"github.com/odonto/odonto/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Challenge Repository ===========

type challengeRepoPG struct{ pool *pgxpool.Pool }

func NewChallengeRepoPG(pool *pgxpool.Pool) ChallengeRepository { return &challengeRepoPG{pool: pool} }

func (r *challengeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const challengeCols = `id, clinic_id, patient_id, record_type, record_id, code_hash,
	destination, destination_masked, status, attempts, max_attempts,
	expires_at, verified_at, request_ip, user_agent, created_at`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	var c Challenge
	var recordType, status string
	err := row.Scan(&c.ID, &c.ClinicID, &c.PatientID, &recordType, &c.RecordID, &c.CodeHash,
		&c.Destination, &c.Masked, &status, &c.Attempts, &c.MaxAttempts,
		&c.ExpiresAt, &c.VerifiedAt, &c.RequestIP, &c.UserAgent, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.RecordType = canonical.RecordType(recordType)
	c.Status = ChallengeStatus(status)
	return &c, nil
}

func (r *challengeRepoPG) Create(ctx context.Context, c *Challenge) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO signature_otp_challenges (id, clinic_id, patient_id, record_type, record_id,
			code_hash, destination, destination_masked, status, attempts, max_attempts,
			expires_at, request_ip, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.ClinicID, c.PatientID, string(c.RecordType), c.RecordID,
		c.CodeHash, c.Destination, c.Masked, string(c.Status), c.Attempts, c.MaxAttempts,
		c.ExpiresAt, c.RequestIP, c.UserAgent)
	return err
}

func (r *challengeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	c, err := scanChallenge(r.conn(ctx).QueryRow(ctx,
		`SELECT `+challengeCols+` FROM signature_otp_challenges WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge %s: %w", id, err)
	}
	return c, nil
}

func (r *challengeRepoPG) ExpireOpenForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE signature_otp_challenges SET status = 'expired'
		WHERE record_type = $1 AND record_id = $2 AND status = 'sent'`,
		string(recordType), recordID)
	return err
}

func (r *challengeRepoPG) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE signature_otp_challenges SET status = 'expired'
		WHERE id = $1 AND status = 'sent'`, id)
	return err
}

func (r *challengeRepoPG) RegisterFailedAttempt(ctx context.Context, id uuid.UUID) (int, bool, error) {
	var attempts int
	var status string
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE signature_otp_challenges
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'locked' ELSE status END
		WHERE id = $1 AND status = 'sent'
		RETURNING attempts, status`, id).Scan(&attempts, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		// Challenge left the sent state under our feet.
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("register failed attempt: %w", err)
	}
	return attempts, status == string(ChallengeLocked), nil
}

func (r *challengeRepoPG) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE signature_otp_challenges SET status = 'verified', verified_at = NOW()
		WHERE id = $1 AND status = 'sent'`, id)
	if err != nil {
		return false, fmt.Errorf("mark challenge verified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *challengeRepoPG) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE signature_otp_challenges SET status = 'consumed'
		WHERE id = $1 AND status = 'verified'`, id)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Signature Repository ===========

type signatureRepoPG struct{ pool *pgxpool.Pool }

func NewSignatureRepoPG(pool *pgxpool.Pool) SignatureRepository { return &signatureRepoPG{pool: pool} }

func (r *signatureRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const signatureCols = `id, clinic_id, patient_id, record_type, record_id, signer_type,
	signer_user_id, signer_name, content_hash, content_hash_verified, otp_challenge_id,
	otp_method, otp_email_masked, image_path, batch_document_id, ip_address, user_agent,
	signed_at`

func scanSignature(row pgx.Row) (*Signature, error) {
	var s Signature
	var recordType, signerType string
	err := row.Scan(&s.ID, &s.ClinicID, &s.PatientID, &recordType, &s.RecordID, &signerType,
		&s.SignerUserID, &s.SignerName, &s.ContentHash, &s.HashVerified, &s.OtpChallengeID,
		&s.OtpMethod, &s.OtpEmailMasked, &s.ImagePath, &s.BatchDocumentID, &s.IPAddress,
		&s.UserAgent, &s.SignedAt)
	if err != nil {
		return nil, err
	}
	s.RecordType = canonical.RecordType(recordType)
	s.SignerType = SignerType(signerType)
	return &s, nil
}

func (r *signatureRepoPG) Create(ctx context.Context, s *Signature) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record_signatures (id, clinic_id, patient_id, record_type, record_id,
			signer_type, signer_user_id, signer_name, content_hash, content_hash_verified,
			otp_challenge_id, otp_method, otp_email_masked, image_path, batch_document_id,
			ip_address, user_agent, signed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		s.ID, s.ClinicID, s.PatientID, string(s.RecordType), s.RecordID,
		string(s.SignerType), s.SignerUserID, s.SignerName, s.ContentHash, s.HashVerified,
		s.OtpChallengeID, s.OtpMethod, s.OtpEmailMasked, s.ImagePath, s.BatchDocumentID,
		s.IPAddress, s.UserAgent, s.SignedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadySigned
		}
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func (r *signatureRepoPG) ListForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*Signature, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+signatureCols+` FROM clinical_record_signatures
		WHERE record_type = $1 AND record_id = $2
		ORDER BY signed_at ASC`, string(recordType), recordID)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	var out []*Signature
	for rows.Next() {
		s, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *signatureRepoPG) GetForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID, signerType SignerType) (*Signature, error) {
	s, err := scanSignature(r.conn(ctx).QueryRow(ctx, `
		SELECT `+signatureCols+` FROM clinical_record_signatures
		WHERE record_type = $1 AND record_id = $2 AND signer_type = $3`,
		string(recordType), recordID, string(signerType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load signature: %w", err)
	}
	return s, nil
}

// =========== Batch Repository ===========

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewBatchRepoPG(pool *pgxpool.Pool) BatchRepository { return &batchRepoPG{pool: pool} }

func (r *batchRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO signature_batches (id, clinic_id, batch_number, batch_hash, record_count,
			storage_path, signing_url, envelope_status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.ClinicID, b.BatchNumber, b.BatchHash, b.RecordCount,
		b.StoragePath, b.SigningURL, string(b.EnvelopeStatus), b.CreatedBy)
	return err
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	var b Batch
	var status string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, batch_number, batch_hash, record_count, storage_path,
			signing_url, envelope_status, created_by, created_at
		FROM signature_batches WHERE id = $1`, id).
		Scan(&b.ID, &b.ClinicID, &b.BatchNumber, &b.BatchHash, &b.RecordCount, &b.StoragePath,
			&b.SigningURL, &status, &b.CreatedBy, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", id, err)
	}
	b.EnvelopeStatus = EnvelopeStatus(status)
	return &b, nil
}

func (r *batchRepoPG) CountWithPrefix(ctx context.Context, clinicID uuid.UUID, prefix string) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM signature_batches
		WHERE clinic_id = $1 AND batch_number LIKE $2 || '%'`, clinicID, prefix).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return count, nil
}

func (r *batchRepoPG) UpdateEnvelope(ctx context.Context, id uuid.UUID, status EnvelopeStatus, signingURL *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE signature_batches
		SET envelope_status = $2, signing_url = COALESCE($3, signing_url)
		WHERE id = $1`, id, string(status), signingURL)
	if err != nil {
		return fmt.Errorf("update batch envelope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
