package signing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/odonto/odonto/internal/domain/canonical"
	"github.com/odonto/odonto/internal/domain/records"
)

type fakeChallenges struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Challenge
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{items: map[uuid.UUID]*Challenge{}}
}

func (f *fakeChallenges) Create(_ context.Context, c *Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	f.items[c.ID] = &cp
	return nil
}

func (f *fakeChallenges) GetByID(_ context.Context, id uuid.UUID) (*Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChallenges) ExpireOpenForRecord(_ context.Context, recordType canonical.RecordType, recordID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.items {
		if c.RecordType == recordType && c.RecordID == recordID && c.Status == ChallengeSent {
			c.Status = ChallengeExpired
		}
	}
	return nil
}

func (f *fakeChallenges) MarkExpired(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.items[id]; ok && c.Status == ChallengeSent {
		c.Status = ChallengeExpired
	}
	return nil
}

func (f *fakeChallenges) RegisterFailedAttempt(_ context.Context, id uuid.UUID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok || c.Status != ChallengeSent {
		return 0, true, nil
	}
	c.Attempts++
	if c.Attempts >= c.MaxAttempts {
		c.Status = ChallengeLocked
		return c.Attempts, true, nil
	}
	return c.Attempts, false, nil
}

func (f *fakeChallenges) MarkVerified(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok || c.Status != ChallengeSent {
		return false, nil
	}
	c.Status = ChallengeVerified
	return true, nil
}

func (f *fakeChallenges) Consume(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok || c.Status != ChallengeVerified {
		return false, nil
	}
	c.Status = ChallengeConsumed
	return true, nil
}

func (f *fakeChallenges) snapshot() map[uuid.UUID]*Challenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(map[uuid.UUID]*Challenge, len(f.items))
	for id, c := range f.items {
		cp := *c
		snap[id] = &cp
	}
	return snap
}

func (f *fakeChallenges) restore(snap map[uuid.UUID]*Challenge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = snap
}

func sigKey(recordType canonical.RecordType, recordID uuid.UUID, signerType SignerType) string {
	return fmt.Sprintf("%s|%s|%s", recordType, recordID, signerType)
}

type fakeSignatures struct {
	mu    sync.Mutex
	items map[string]*Signature
}

func newFakeSignatures() *fakeSignatures {
	return &fakeSignatures{items: map[string]*Signature{}}
}

func (f *fakeSignatures) Create(_ context.Context, s *Signature) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sigKey(s.RecordType, s.RecordID, s.SignerType)
	if _, exists := f.items[key]; exists {
		return ErrAlreadySigned
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	f.items[key] = &cp
	return nil
}

func (f *fakeSignatures) ListForRecord(_ context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Signature
	for _, s := range f.items {
		if s.RecordType == recordType && s.RecordID == recordID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSignatures) GetForRecord(_ context.Context, recordType canonical.RecordType, recordID uuid.UUID, signerType SignerType) (*Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[sigKey(recordType, recordID, signerType)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSignatures) snapshot() map[string]*Signature {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]*Signature, len(f.items))
	for k, v := range f.items {
		s := *v
		cp[k] = &s
	}
	return cp
}

func (f *fakeSignatures) restore(snap map[string]*Signature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = snap
}

type fakeBatches struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Batch
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{items: map[uuid.UUID]*Batch{}}
}

func (f *fakeBatches) Create(_ context.Context, b *Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	cp := *b
	f.items[b.ID] = &cp
	return nil
}

func (f *fakeBatches) GetByID(_ context.Context, id uuid.UUID) (*Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatches) CountWithPrefix(_ context.Context, clinicID uuid.UUID, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, b := range f.items {
		if b.ClinicID == clinicID && len(b.BatchNumber) >= len(prefix) && b.BatchNumber[:len(prefix)] == prefix {
			count++
		}
	}
	return count, nil
}

func (f *fakeBatches) UpdateEnvelope(_ context.Context, id uuid.UUID, status EnvelopeStatus, signingURL *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.items[id]
	if !ok {
		return ErrNotFound
	}
	b.EnvelopeStatus = status
	if signingURL != nil {
		b.SigningURL = signingURL
	}
	return nil
}

func (f *fakeBatches) restore(snap map[uuid.UUID]*Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = snap
}

func (f *fakeBatches) snapshot() map[uuid.UUID]*Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[uuid.UUID]*Batch, len(f.items))
	for k, v := range f.items {
		b := *v
		cp[k] = &b
	}
	return cp
}

type fakeRecords struct {
	items map[string]*records.Record
}

func newFakeRecords(recs ...*records.Record) *fakeRecords {
	f := &fakeRecords{items: map[string]*records.Record{}}
	for _, r := range recs {
		f.items[string(r.Type)+"|"+r.ID.String()] = r
	}
	return f
}

func (f *fakeRecords) Get(_ context.Context, recordType canonical.RecordType, id uuid.UUID) (*records.Record, error) {
	r, ok := f.items[string(recordType)+"|"+id.String()]
	if !ok {
		return nil, records.ErrNotFound
	}
	return r, nil
}

func (f *fakeRecords) Unsigned(context.Context, uuid.UUID, *uuid.UUID, int, int) ([]*records.UnsignedRecord, int, error) {
	return nil, 0, nil
}

type fakePatients struct {
	items map[uuid.UUID]*records.Patient
}

func newFakePatients(patients ...*records.Patient) *fakePatients {
	f := &fakePatients{items: map[uuid.UUID]*records.Patient{}}
	for _, p := range patients {
		f.items[p.ID] = p
	}
	return f
}

func (f *fakePatients) GetByID(_ context.Context, id uuid.UUID) (*records.Patient, error) {
	p, ok := f.items[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return p, nil
}

type fakeVersions struct {
	mu        sync.Mutex
	items     []*records.Version
	createErr error
}

func (f *fakeVersions) Create(_ context.Context, v *records.Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	cp := *v
	f.items = append(f.items, &cp)
	return nil
}

func (f *fakeVersions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeVersions) snapshot() []*records.Version {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*records.Version(nil), f.items...)
}

func (f *fakeVersions) restore(snap []*records.Version) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = snap
}

func (f *fakeVersions) ListForRecord(_ context.Context, recordType canonical.RecordType, recordID uuid.UUID) ([]*records.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*records.Version
	for _, v := range f.items {
		if v.RecordType == recordType && v.RecordID == recordID {
			out = append(out, v)
		}
	}
	return out, nil
}
