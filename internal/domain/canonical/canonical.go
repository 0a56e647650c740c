// Package canonical turns clinical record content into a deterministic byte
// form and hashes it. The canonical serialization is a wire contract shared
// with the web client: both sides must produce identical bytes for identical
// record content, so the field schemas below are versioned lookup tables and
// changing one is a breaking migration.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RecordType identifies a signable clinical record kind.
type RecordType string

const (
	RecordTypeProcedure RecordType = "procedure"
	RecordTypeAnamnesis RecordType = "anamnesis"
	RecordTypeExam      RecordType = "exam"
)

// ErrUnknownRecordType is returned for record types without a schema.
var ErrUnknownRecordType = errors.New("unknown record type")

// schemas maps each record type to its ordered list of signable fields.
// Fields are the record's content columns, alphabetical, excluding id,
// created_at and updated_at. Order is part of the wire contract.
var schemas = map[RecordType][]string{
	RecordTypeProcedure: {
		"budget_links",
		"date",
		"description",
		"installments",
		"location",
		"patient_id",
		"payment_method",
		"status",
		"value",
	},
	RecordTypeAnamnesis: {
		"anesthesia_reaction",
		"anesthesia_reaction_details",
		"arthritis",
		"current_medication",
		"current_medication_details",
		"date",
		"depression_anxiety_panic",
		"depression_anxiety_panic_details",
		"diabetes",
		"diabetes_details",
		"fasting",
		"gastritis_reflux",
		"healing_problems",
		"healing_problems_details",
		"heart_disease",
		"heart_disease_details",
		"hypertension",
		"infectious_disease",
		"infectious_disease_details",
		"local_anesthesia_history",
		"medical_treatment",
		"medical_treatment_details",
		"notes",
		"pacemaker",
		"patient_id",
		"pregnant_or_breastfeeding",
		"recent_surgery",
		"recent_surgery_details",
		"seizure_epilepsy",
		"seizure_epilepsy_details",
		"smoker_or_drinker",
		"smoker_or_drinker_details",
	},
	RecordTypeExam: {
		"exam_date",
		"file_type",
		"file_url",
		"file_urls",
		"name",
		"order_date",
		"patient_id",
		"procedure_id",
	},
}

// ValidRecordType reports whether t has a registered schema.
func ValidRecordType(t RecordType) bool {
	_, ok := schemas[t]
	return ok
}

// Schema returns the ordered signable field list for t.
func Schema(t RecordType) ([]string, error) {
	fields, ok := schemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, t)
	}
	return fields, nil
}

// Canonicalize serializes record content into the deterministic form used as
// hashing input: a JSON object with exactly the schema's fields in schema
// order, absent fields as explicit null, string values trimmed, and fields
// outside the schema dropped.
func Canonicalize(t RecordType, fields map[string]any) ([]byte, error) {
	schema, ok := schemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, t)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range schema {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, fmt.Errorf("marshal field name %q: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, present := fields[name]
		if !present || value == nil {
			buf.WriteString("null")
			continue
		}

		encoded, err := json.Marshal(normalize(value))
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", name, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical form.
func Hash(t RecordType, fields map[string]any) (string, error) {
	canon, err := Canonicalize(t, fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// normalize trims string values recursively. Maps keep Go's sorted-key JSON
// encoding, which keeps nested objects deterministic.
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}
