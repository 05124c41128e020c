package ledger

import (
	"context"
	"errors"
	"testing"

	"certledger.org/internal/fingerprint"
	"pgregory.net/rapid"
)

// registryModel is the reference the Contract is checked against.
type registryModel struct {
	trusted map[Address]bool
	records map[fingerprint.Fingerprint]Record
	events  int
}

type registryMachine struct {
	model      registryModel
	sut        *Contract
	identities []Address
	hashes     []fingerprint.Fingerprint
}

func (m *registryMachine) init(t *rapid.T) {
	c, err := NewInMemory(owner)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	m.sut = c
	m.model = registryModel{
		trusted: map[Address]bool{owner: true},
		records: map[fingerprint.Fingerprint]Record{},
	}
	m.identities = []Address{owner, writer, other, {}}
	for _, s := range []string{"a", "b", "c", "d"} {
		m.hashes = append(m.hashes, hashOf(s))
	}
	m.hashes = append(m.hashes, fingerprint.Fingerprint{})
}

func (m *registryMachine) authorize(t *rapid.T) {
	caller := rapid.SampledFrom(m.identities).Draw(t, "caller")
	id := rapid.SampledFrom(m.identities).Draw(t, "identity")
	_, err := m.sut.Authorize(context.Background(), caller, id)
	switch {
	case caller != owner:
		expectErr(t, err, ErrUnauthorized)
	case id.IsZero():
		expectErr(t, err, ErrInvalidIdentity)
	case m.model.trusted[id]:
		expectErr(t, err, ErrAlreadyTrusted)
	default:
		expectErr(t, err, nil)
		m.model.trusted[id] = true
		m.model.events++
	}
}

func (m *registryMachine) revoke(t *rapid.T) {
	caller := rapid.SampledFrom(m.identities).Draw(t, "caller")
	id := rapid.SampledFrom(m.identities).Draw(t, "identity")
	_, err := m.sut.Revoke(context.Background(), caller, id)
	switch {
	case caller != owner:
		expectErr(t, err, ErrUnauthorized)
	case !m.model.trusted[id]:
		expectErr(t, err, ErrNotTrusted)
	default:
		expectErr(t, err, nil)
		delete(m.model.trusted, id)
		m.model.events++
	}
}

func (m *registryMachine) issue(t *rapid.T) {
	caller := rapid.SampledFrom(m.identities).Draw(t, "caller")
	h := rapid.SampledFrom(m.hashes).Draw(t, "hash")
	ref := rapid.SampledFrom([]string{"", "ref-1", "ref-2"}).Draw(t, "ref")
	_, err := m.sut.Issue(context.Background(), caller, h, ref)
	_, exists := m.model.records[h]
	switch {
	case !m.model.trusted[caller]:
		expectErr(t, err, ErrUnauthorized)
	case h.IsZero():
		expectErr(t, err, ErrInvalidHash)
	case ref == "":
		expectErr(t, err, ErrInvalidRef)
	case exists:
		expectErr(t, err, ErrAlreadyExists)
	default:
		expectErr(t, err, nil)
		m.model.records[h] = Record{Hash: h, BlobRef: ref, Issuer: caller}
		m.model.events++
	}
}

func (m *registryMachine) check(t *rapid.T) {
	ctx := context.Background()
	for _, id := range m.identities {
		got, _ := m.sut.IsTrusted(ctx, id)
		if got != m.model.trusted[id] {
			t.Fatalf("trusted(%s) = %v, model %v", id, got, m.model.trusted[id])
		}
	}
	for _, h := range m.hashes {
		rec, ok, err := m.sut.Lookup(ctx, h)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		want, wantOK := m.model.records[h]
		if ok != wantOK {
			t.Fatalf("lookup(%s) present=%v, model %v", h, ok, wantOK)
		}
		if ok && (rec.BlobRef != want.BlobRef || rec.Issuer != want.Issuer) {
			t.Fatalf("lookup(%s) = %#v, model %#v", h, rec, want)
		}
	}
	events, _, _ := m.sut.Events(ctx, 0, 1000)
	if len(events) != m.model.events {
		t.Fatalf("events = %d, model %d", len(events), m.model.events)
	}
}

func expectErr(t *rapid.T, got, want error) {
	if want == nil {
		if got != nil {
			t.Fatalf("unexpected error: %v", got)
		}
		return
	}
	if !errors.Is(got, want) {
		t.Fatalf("err = %v, want %v", got, want)
	}
}

func TestContractMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &registryMachine{}
		m.init(t)

		t.Repeat(map[string]func(*rapid.T){
			"Authorize": m.authorize,
			"Revoke":    m.revoke,
			"Issue":     m.issue,
			"":          m.check,
		})
	})
}
