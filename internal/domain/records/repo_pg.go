package records

import (
	"context"
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

// recordTables maps each record type to its table and the columns used for
// listing. The canonical schema decides which fields are hashed; here we only
// need where to read the row from.
var recordTables = map[canonical.RecordType]struct {
	table    string
	dateCol  string
	descExpr string
}{
	canonical.RecordTypeProcedure: {"procedures", "date", "COALESCE(t.description, 'Procedimento')"},
	canonical.RecordTypeAnamnesis: {"anamneses", "date", "'Anamnese'"},
	canonical.RecordTypeExam:      {"exams", "exam_date", "COALESCE(t.name, 'Exame')"},
}

// =========== Record Repository ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// Get loads one record as a jsonb projection so every table shares a single
// scan path. The canonical schema drops anything that is not signable.
func (r *recordRepoPG) Get(ctx context.Context, recordType canonical.RecordType, id uuid.UUID) (*Record, error) {
	meta, ok := recordTables[recordType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", canonical.ErrUnknownRecordType, recordType)
	}

	query := fmt.Sprintf(
		`SELECT to_jsonb(t), t.clinic_id, t.patient_id, t.%s::text, %s FROM %s t WHERE t.id = $1`,
		meta.dateCol, meta.descExpr, meta.table)

	var (
		fields      map[string]any
		clinicID    uuid.UUID
		patientID   uuid.UUID
		date        *string
		description string
	)
	err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&fields, &clinicID, &patientID, &date, &description)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", recordType, id, err)
	}

	rec := &Record{
		ID:          id,
		ClinicID:    clinicID,
		PatientID:   patientID,
		Type:        recordType,
		Fields:      fields,
		Description: description,
	}
	if date != nil {
		rec.Date = *date
	}
	return rec, nil
}

const unsignedQuery = `
WITH candidates AS (
    SELECT p.id AS record_id, 'procedure' AS record_type, p.patient_id,
           p.date::text AS record_date, COALESCE(p.description, 'Procedimento') AS description, p.clinic_id
    FROM procedures p
    UNION ALL
    SELECT a.id, 'anamnesis', a.patient_id, a.date::text, 'Anamnese', a.clinic_id
    FROM anamneses a
    UNION ALL
    SELECT e.id, 'exam', e.patient_id, e.exam_date::text, COALESCE(e.name, 'Exame'), e.clinic_id
    FROM exams e
)
, flagged AS (
    SELECT c.*,
           EXISTS (SELECT 1 FROM clinical_record_signatures s
                   WHERE s.record_type = c.record_type AND s.record_id = c.record_id
                     AND s.signer_type = 'patient') AS has_patient,
           EXISTS (SELECT 1 FROM clinical_record_signatures s
                   WHERE s.record_type = c.record_type AND s.record_id = c.record_id
                     AND s.signer_type = 'dentist') AS has_dentist
    FROM candidates c
)
SELECT f.record_id, f.record_type, f.patient_id, pt.full_name,
       COALESCE(f.record_date, ''), f.description,
       f.has_patient, f.has_dentist,
       COUNT(*) OVER() AS total
FROM flagged f
JOIN patients pt ON pt.id = f.patient_id
WHERE f.clinic_id = $1
  AND ($2::uuid IS NULL OR f.patient_id = $2)
  AND (NOT f.has_patient OR NOT f.has_dentist)
ORDER BY f.record_date DESC NULLS LAST
LIMIT $3 OFFSET $4`

func (r *recordRepoPG) Unsigned(ctx context.Context, clinicID uuid.UUID, patientID *uuid.UUID, limit, offset int) ([]*UnsignedRecord, int, error) {
	rows, err := r.conn(ctx).Query(ctx, unsignedQuery, clinicID, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query unsigned records: %w", err)
	}
	defer rows.Close()

	var (
		out   []*UnsignedRecord
		total int
	)
	for rows.Next() {
		var u UnsignedRecord
		var recordType string
		if err := rows.Scan(&u.RecordID, &recordType, &u.PatientID, &u.PatientName,
			&u.Date, &u.Description, &u.HasPatient, &u.HasDentist, &total); err != nil {
			return nil, 0, fmt.Errorf("scan unsigned record: %w", err)
		}
		u.RecordType = canonical.RecordType(recordType)
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate unsigned records: %w", err)
	}
	return out, total, nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, full_name, email, guardian_email, mother_email, birth_date
		FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.ClinicID, &p.FullName, &p.Email, &p.GuardianEmail, &p.MotherEmail, &p.BirthDate)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", id, err)
	}
	return &p, nil
}

// =========== Version Repository ===========

type versionRepoPG struct{ pool *pgxpool.Pool }

func NewVersionRepoPG(pool *pgxpool.Pool) VersionRepository { return &versionRepoPG{pool: pool} }

func (r *versionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *versionRepoPG) Create(ctx context.Context, v *Version) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record_versions (id, record_type, record_id, signature_id, content_hash, content)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, string(v.RecordType), v.RecordID, v.SignatureID, v.ContentHash, v.Content)
	return err
}

func (r *versionRepoPG) ListForRecord(ctx context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*Version, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, record_type, record_id, signature_id, content_hash, content, created_at
		FROM clinical_record_versions
		WHERE record_type = $1 AND record_id = $2
		ORDER BY created_at ASC`, string(recordType), recordID)
	if err != nil {
		return nil, fmt.Errorf("query record versions: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		var v Version
		var rt string
		if err := rows.Scan(&v.ID, &rt, &v.RecordID, &v.SignatureID, &v.ContentHash, &v.Content, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record version: %w", err)
		}
		v.RecordType = canonical.RecordType(rt)
		out = append(out, &v)
	}
	return out, rows.Err()
}
