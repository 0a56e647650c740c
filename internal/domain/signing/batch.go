package signing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/odonto/odonto/internal/domain/canonical"
	"github.com/odonto/odonto/internal/domain/records"
	"github.com/odonto/odonto/internal/platform/blobstore"
	"github.com/odonto/odonto/internal/platform/db"
)

// MaxBatchSize bounds one signing lote.
const MaxBatchSize = 200

// EnvelopeSigner submits a batch manifest to an external qualified-signature
// provider and returns the URL where the dentist completes the flow.
type EnvelopeSigner interface {
	SubmitEnvelope(ctx context.Context, batch *Batch, document []byte) (signingURL string, err error)
}

// NoopEnvelopeSigner is used when no provider is configured; batches stay in
// envelope state none.
type NoopEnvelopeSigner struct{}

func (NoopEnvelopeSigner) SubmitEnvelope(context.Context, *Batch, []byte) (string, error) {
	return "", nil
}

// BatchService creates dentist signing lotes. Member signatures, the batch
// row and the version snapshots commit in one transaction; any member
// failure rolls back the whole lote.
type BatchService struct {
	pool       *pgxpool.Pool
	batches    BatchRepository
	signatures SignatureRepository
	records    records.Repository
	versions   records.VersionRepository
	patients   records.PatientRepository
	blobs      blobstore.BlobStore
	envelope   EnvelopeSigner
	logger     zerolog.Logger
	now        func() time.Time
	// run executes fn atomically. Defaults to a pool transaction.
	run func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewBatchService(pool *pgxpool.Pool, batches BatchRepository, signatures SignatureRepository,
	recs records.Repository, versions records.VersionRepository, patients records.PatientRepository,
	blobs blobstore.BlobStore, envelope EnvelopeSigner, logger zerolog.Logger) *BatchService {
	if envelope == nil {
		envelope = NoopEnvelopeSigner{}
	}
	run := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
	return &BatchService{
		run:        run,
		pool:       pool,
		batches:    batches,
		signatures: signatures,
		records:    recs,
		versions:   versions,
		patients:   patients,
		blobs:      blobs,
		envelope:   envelope,
		logger:     logger,
		now:        time.Now,
	}
}

// BatchItem names one record to include in a lote.
type BatchItem struct {
	RecordType canonical.RecordType `json:"record_type"`
	RecordID   uuid.UUID            `json:"record_id"`
}

// CreateBatchRequest is one lote creation.
type CreateBatchRequest struct {
	ClinicID   uuid.UUID
	CreatedBy  string
	SignerName string
	RequestIP  string
	UserAgent  string
	Items      []BatchItem
}

type manifestRow struct {
	Position    int
	PatientName string
	Date        string
	RecordType  string
	Description string
	HashPrefix  string
}

// CreateBatch signs every named record as dentist in one transaction and
// writes the lote's HTML manifest. Any member that is missing or already
// dentist-signed fails the whole lote.
func (s *BatchService) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("batch has no items")
	}
	if len(req.Items) > MaxBatchSize {
		return nil, fmt.Errorf("batch exceeds %d items", MaxBatchSize)
	}
	for i, item := range req.Items {
		if !canonical.ValidRecordType(item.RecordType) {
			return nil, &BatchFailureError{Index: i, RecordType: string(item.RecordType),
				RecordID: item.RecordID.String(), Cause: canonical.ErrUnknownRecordType}
		}
	}

	var batch *Batch
	var document []byte
	err := s.run(ctx, func(ctx context.Context) error {
		now := s.now()

		hashes := make([]string, 0, len(req.Items))
		rows := make([]manifestRow, 0, len(req.Items))
		members := make([]*records.Record, 0, len(req.Items))
		for i, item := range req.Items {
			record, err := s.records.Get(ctx, item.RecordType, item.RecordID)
			if err != nil {
				return &BatchFailureError{Index: i, RecordType: string(item.RecordType),
					RecordID: item.RecordID.String(), Cause: err}
			}
			hash, err := record.Hash()
			if err != nil {
				return &BatchFailureError{Index: i, RecordType: string(item.RecordType),
					RecordID: item.RecordID.String(), Cause: err}
			}
			hashes = append(hashes, hash)
			members = append(members, record)

			name := ""
			if patient, err := s.patients.GetByID(ctx, record.PatientID); err == nil {
				name = patient.FullName
			}
			rows = append(rows, manifestRow{
				Position:    i + 1,
				PatientName: name,
				Date:        record.Date,
				RecordType:  recordTypeLabel(item.RecordType),
				Description: record.Description,
				HashPrefix:  hash[:16],
			})
		}

		batchHash := batchHashOf(hashes)
		number, err := s.nextBatchNumber(ctx, req.ClinicID, now)
		if err != nil {
			return fmt.Errorf("allocate batch number: %w", err)
		}

		batch = &Batch{
			ClinicID:       req.ClinicID,
			BatchNumber:    number,
			BatchHash:      batchHash,
			RecordCount:    len(req.Items),
			StoragePath:    blobstore.BatchDocumentPath(req.ClinicID.String(), number),
			EnvelopeStatus: EnvelopeNone,
			CreatedBy:      req.CreatedBy,
		}

		document, err = renderManifest(number, batchHash, now, rows)
		if err != nil {
			return fmt.Errorf("render manifest: %w", err)
		}
		if _, err := s.blobs.Put(ctx, batch.StoragePath, "text/html", bytes.NewReader(document)); err != nil {
			return fmt.Errorf("store manifest: %w", err)
		}

		if err := s.batches.Create(ctx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		for i, record := range members {
			signerID := req.CreatedBy
			sig := &Signature{
				ClinicID:        req.ClinicID,
				PatientID:       record.PatientID,
				RecordType:      record.Type,
				RecordID:        record.ID,
				SignerType:      SignerDentist,
				SignerUserID:    &signerID,
				SignerName:      req.SignerName,
				ContentHash:     hashes[i],
				BatchDocumentID: &batch.ID,
				IPAddress:       req.RequestIP,
				UserAgent:       req.UserAgent,
				SignedAt:        now,
			}
			if err := s.signatures.Create(ctx, sig); err != nil {
				return &BatchFailureError{Index: i, RecordType: string(record.Type),
					RecordID: record.ID.String(), Cause: err}
			}
			if err := s.versions.Create(ctx, snapshotFor(record, sig.ID, hashes[i])); err != nil {
				return fmt.Errorf("snapshot record version: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.submitEnvelope(ctx, batch, document)
	return batch, nil
}

// submitEnvelope hands the manifest to the external provider after commit.
// Provider failures do not undo the lote; the envelope state records them.
func (s *BatchService) submitEnvelope(ctx context.Context, batch *Batch, document []byte) {
	if _, ok := s.envelope.(NoopEnvelopeSigner); ok {
		return
	}
	url, err := s.envelope.SubmitEnvelope(ctx, batch, document)
	if err != nil {
		s.logger.Error().Err(err).Str("batch_number", batch.BatchNumber).Msg("envelope submission failed")
		batch.EnvelopeStatus = EnvelopeFailed
		if uerr := s.batches.UpdateEnvelope(ctx, batch.ID, EnvelopeFailed, nil); uerr != nil {
			s.logger.Error().Err(uerr).Str("batch_number", batch.BatchNumber).Msg("envelope state update failed")
		}
		return
	}
	batch.EnvelopeStatus = EnvelopePending
	batch.SigningURL = &url
	if uerr := s.batches.UpdateEnvelope(ctx, batch.ID, EnvelopePending, &url); uerr != nil {
		s.logger.Error().Err(uerr).Str("batch_number", batch.BatchNumber).Msg("envelope state update failed")
	}
}

// GetBatch loads one lote.
func (s *BatchService) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.batches.GetByID(ctx, id)
}

// BatchDocument loads a lote's HTML manifest.
func (s *BatchService) BatchDocument(ctx context.Context, id uuid.UUID) ([]byte, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rc, _, err := s.blobs.Get(ctx, batch.StoragePath)
	if err != nil {
		if errors.Is(err, blobstore.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// CompleteEnvelope records the provider's terminal verdict for a pending
// lote.
func (s *BatchService) CompleteEnvelope(ctx context.Context, id uuid.UUID, status EnvelopeStatus) (*Batch, error) {
	if status != EnvelopeSigned && status != EnvelopeRejected {
		return nil, fmt.Errorf("invalid envelope status %q", status)
	}
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.EnvelopeStatus != EnvelopePending {
		return nil, fmt.Errorf("batch %s is not awaiting an envelope verdict", batch.BatchNumber)
	}
	if err := s.batches.UpdateEnvelope(ctx, id, status, batch.SigningURL); err != nil {
		return nil, err
	}
	batch.EnvelopeStatus = status
	return batch, nil
}

// nextBatchNumber allocates LOTE-YYYY-MM-NNN, NNN resetting monthly per
// clinic.
func (s *BatchService) nextBatchNumber(ctx context.Context, clinicID uuid.UUID, now time.Time) (string, error) {
	prefix := fmt.Sprintf("LOTE-%04d-%02d-", now.Year(), int(now.Month()))
	count, err := s.batches.CountWithPrefix(ctx, clinicID, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, count+1), nil
}

// batchHashOf commits to the ordered member hashes. The "|" join is a wire
// contract; changing it breaks verification of existing lotes.
func batchHashOf(memberHashes []string) string {
	sum := sha256.Sum256([]byte(strings.Join(memberHashes, "|")))
	return hex.EncodeToString(sum[:])
}

func recordTypeLabel(t canonical.RecordType) string {
	switch t {
	case canonical.RecordTypeProcedure:
		return "Procedimento"
	case canonical.RecordTypeAnamnesis:
		return "Anamnese"
	case canonical.RecordTypeExam:
		return "Exame"
	}
	return string(t)
}

var manifestTmpl = template.Must(template.New("manifest").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>Lote de Assinaturas {{.Number}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #222; }
h1 { font-size: 1.3rem; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
th, td { border: 1px solid #999; padding: 6px 10px; font-size: 0.85rem; text-align: left; }
.meta { color: #555; font-size: 0.8rem; margin-top: 1.5rem; }
code { font-family: monospace; }
</style>
</head>
<body>
<h1>Lote de Assinaturas {{.Number}}</h1>
<p>Gerado em {{.GeneratedAt}} &mdash; {{.Count}} registro(s)</p>
<table>
<tr><th>#</th><th>Paciente</th><th>Data</th><th>Tipo</th><th>Descrição</th><th>Hash</th></tr>
{{range .Rows}}<tr><td>{{.Position}}</td><td>{{.PatientName}}</td><td>{{.Date}}</td><td>{{.RecordType}}</td><td>{{.Description}}</td><td><code>{{.HashPrefix}}&hellip;</code></td></tr>
{{end}}</table>
<p class="meta">Hash do lote: <code>{{.BatchHash}}</code></p>
</body>
</html>
`))

func renderManifest(number, batchHash string, now time.Time, rows []manifestRow) ([]byte, error) {
	var buf bytes.Buffer
	err := manifestTmpl.Execute(&buf, struct {
		Number      string
		BatchHash   string
		GeneratedAt string
		Count       int
		Rows        []manifestRow
	}{
		Number:      number,
		BatchHash:   batchHash,
		GeneratedAt: now.Format("02/01/2006 15:04"),
		Count:       len(rows),
		Rows:        rows,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
