package canonical

import (
	"errors"
	"regexp"
	"testing"
)

func TestCanonicalize_ProcedureGoldenVector(t *testing.T) {
	fields := map[string]any{
		"patient_id": "p1",
		"date":       "2026-01-01",
		"value":      100,
	}

	got, err := Canonicalize(RecordTypeProcedure, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"budget_links":null,"date":"2026-01-01","description":null,` +
		`"installments":null,"location":null,"patient_id":"p1",` +
		`"payment_method":null,"status":null,"value":100}`
	if string(got) != want {
		t.Errorf("canonical form\n got: %s\nwant: %s", got, want)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	a := map[string]any{"patient_id": "p1", "date": "2026-01-01", "value": 100}
	b := map[string]any{"value": 100, "date": "2026-01-01", "patient_id": "p1"}

	ca, err := Canonicalize(RecordTypeProcedure, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cb, err := Canonicalize(RecordTypeProcedure, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("insertion order changed canonical form:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalize_DropsExtraFields(t *testing.T) {
	fields := map[string]any{
		"patient_id": "p1",
		"id":         "should-be-dropped",
		"created_at": "2026-01-01T00:00:00Z",
		"extra":      true,
	}
	got, err := Canonicalize(RecordTypeProcedure, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, forbidden := range []string{"should-be-dropped", "created_at", "extra"} {
		if regexp.MustCompile(forbidden).Match(got) {
			t.Errorf("canonical form contains out-of-schema content %q: %s", forbidden, got)
		}
	}
}

func TestCanonicalize_TrimsStrings(t *testing.T) {
	a := map[string]any{"patient_id": "  p1  ", "description": "clean \n"}
	b := map[string]any{"patient_id": "p1", "description": "clean"}

	ca, _ := Canonicalize(RecordTypeProcedure, a)
	cb, _ := Canonicalize(RecordTypeProcedure, b)
	if string(ca) != string(cb) {
		t.Errorf("whitespace-only differences changed canonical form:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalize_UnknownType(t *testing.T) {
	_, err := Canonicalize(RecordType("bogus_type"), map[string]any{})
	if !errors.Is(err, ErrUnknownRecordType) {
		t.Fatalf("expected ErrUnknownRecordType, got %v", err)
	}
}

func TestHash_StableAndHex(t *testing.T) {
	fields := map[string]any{"patient_id": "p1", "date": "2026-01-01", "value": 100}

	h1, err := Hash(RecordTypeProcedure, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := Hash(RecordTypeProcedure, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h1 != h2 {
		t.Errorf("hash not stable: %s vs %s", h1, h2)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(h1) {
		t.Errorf("hash is not 64-char lowercase hex: %s", h1)
	}
}

func TestHash_ChangesWithContent(t *testing.T) {
	base := map[string]any{"patient_id": "p1", "date": "2026-01-01", "value": 100}
	changed := map[string]any{"patient_id": "p1", "date": "2026-01-01", "value": 101}

	h1, _ := Hash(RecordTypeProcedure, base)
	h2, _ := Hash(RecordTypeProcedure, changed)
	if h1 == h2 {
		t.Error("different content produced identical digests")
	}
}

func TestHash_NestedArraysDeterministic(t *testing.T) {
	fields := map[string]any{
		"patient_id": "p1",
		"exam_date":  "2026-02-02",
		"file_urls":  []any{" https://a.example/x.png ", "https://a.example/y.png"},
	}
	h1, err := Hash(RecordTypeExam, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, _ := Hash(RecordTypeExam, fields)
	if h1 != h2 {
		t.Error("nested array hashing not deterministic")
	}
}

func TestSchema_AllTypesRegistered(t *testing.T) {
	for _, rt := range []RecordType{RecordTypeProcedure, RecordTypeAnamnesis, RecordTypeExam} {
		fields, err := Schema(rt)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", rt, err)
		}
		if len(fields) == 0 {
			t.Errorf("%s: empty schema", rt)
		}
		for i := 1; i < len(fields); i++ {
			if fields[i-1] >= fields[i] {
				t.Errorf("%s: schema not strictly sorted at %q >= %q", rt, fields[i-1], fields[i])
			}
		}
	}
	if ValidRecordType("appointment") {
		t.Error("appointment must not be signable")
	}
}
