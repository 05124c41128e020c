package certs

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"certledger.org/internal/audit"
	"certledger.org/internal/blob"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
	"certledger.org/internal/sealbox"
)

var (
	owner  = ledger.MustParseAddress("0x1111111111111111111111111111111111111111")
	writer = ledger.MustParseAddress("0x2222222222222222222222222222222222222222")
	other  = ledger.MustParseAddress("0x3333333333333333333333333333333333333333")
)

var sample = Metadata{
	RecipientName: "Ada Lovelace",
	CourseName:    "Analytical Engines",
	Institution:   "Royal Society",
	IssueDate:     "1843-09-01",
	Grade:         "A",
	Extra:         map[string]string{"notes": "translator"},
}

type fixture struct {
	svc      *Service
	contract *ledger.Contract
	blobs    *blob.LocalStore
	audit    *audit.InMemory
	key      []byte
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testKey(b byte) []byte {
	key := make([]byte, sealbox.KeySize)
	for i := range key {
		key[i] = b + byte(i)
	}
	return key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	contract, err := ledger.NewInMemory(owner)
	require.NoError(t, err)
	_, err = contract.Authorize(context.Background(), owner, writer)
	require.NoError(t, err)

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	key := testKey(1)
	box, err := sealbox.New(key)
	require.NoError(t, err)
	store := audit.NewInMemory()

	svc, err := New(Config{
		Registry: contract,
		Blobs:    blobs,
		Box:      box,
		Mirror:   audit.NewMirror(store, quietLogger()),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, contract: contract, blobs: blobs, audit: store, key: key}
}

func TestIssueThenVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	file := []byte("%PDF-1.7 certificate body")

	rcpt, err := f.svc.Issue(ctx, file, sample, writer)
	require.NoError(t, err)
	require.Equal(t, f.svc.Fingerprint(file), rcpt.Hash)
	require.Equal(t, writer, rcpt.Issuer)
	require.Equal(t, fingerprint.SHA256, rcpt.Algorithm)
	require.NotEmpty(t, rcpt.TxRef)
	require.Equal(t, blob.SchemeLocal, blob.Scheme(rcpt.BlobRef))

	rec, ok, err := f.svc.Lookup(ctx, rcpt.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, writer, rec.Issuer)
	require.Equal(t, rcpt.BlobRef, rec.BlobRef)
	require.False(t, rec.IssuedAt.IsZero())

	v, err := f.svc.Verify(ctx, file)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Empty(t, v.Warning)
	require.NotNil(t, v.Record)
	require.NotNil(t, v.Metadata)
	require.Equal(t, sample, *v.Metadata)
}

func TestIssueMirrorsIntoAuditLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rcpt, err := f.svc.Issue(ctx, []byte("doc"), sample, writer)
	require.NoError(t, err)

	entries, _, err := f.audit.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	require.Equal(t, rcpt.TxRef, e.TxRef)
	require.Equal(t, rcpt.Hash, e.Hash)
	require.Equal(t, rcpt.BlobRef, e.BlobRef)
	require.Equal(t, writer, e.Writer)
	require.Equal(t, rcpt.Block, e.Block)
	require.Equal(t, rcpt.Cost, e.Cost)
	require.Equal(t, audit.StatusConfirmed, e.Status)
}

func TestVerifyUnknownFileIsInvalid(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.Verify(context.Background(), []byte("never issued"))
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Nil(t, v.Record)
	require.Nil(t, v.Metadata)
}

func TestVerifyEmptyFileIsInvalid(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.Verify(context.Background(), []byte{})
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, f.svc.Fingerprint(nil), v.Hash)
}

func TestSingleBitFlipInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	file := []byte("original certificate bytes")
	_, err := f.svc.Issue(ctx, file, sample, writer)
	require.NoError(t, err)

	for bit := 0; bit < len(file)*8; bit += 7 {
		tampered := append([]byte(nil), file...)
		tampered[bit/8] ^= 1 << (bit % 8)
		v, err := f.svc.Verify(ctx, tampered)
		require.NoError(t, err)
		require.False(t, v.Valid, "bit %d", bit)
	}
}

func TestIssueRejectsMissingMetadataBeforeSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	md := sample
	md.Institution = " "
	md.IssueDate = ""
	_, err := f.svc.Issue(ctx, []byte("doc"), md, writer)
	require.ErrorIs(t, err, ErrInvalidMetadata)
	require.ErrorIs(t, err, ledger.ErrValidation)
	require.Contains(t, err.Error(), "institution")
	require.Contains(t, err.Error(), "issue_date")

	_, err = f.svc.Issue(ctx, nil, sample, writer)
	require.ErrorIs(t, err, ErrEmptyFile)
	require.ErrorIs(t, err, ledger.ErrValidation)

	events, _, err := f.contract.Events(ctx, 1, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDuplicateIssueConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Issue(ctx, []byte("doc"), sample, writer)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, []byte("doc"), sample, owner)
	require.ErrorIs(t, err, ledger.ErrConflict)

	rec, _, err := f.svc.Lookup(ctx, first.Hash)
	require.NoError(t, err)
	require.Equal(t, writer, rec.Issuer)
	require.Equal(t, first.BlobRef, rec.BlobRef)

	entries, _, _ := f.audit.List(ctx, 0, 10)
	require.Len(t, entries, 1)
}

func TestUntrustedWriterCannotIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seq, _, _ := f.contract.Events(ctx, 0, 100)

	_, err := f.svc.Issue(ctx, []byte("doc"), sample, other)
	require.ErrorIs(t, err, ledger.ErrAuthorization)

	after, _, _ := f.contract.Events(ctx, 0, 100)
	require.Len(t, after, len(seq))
	_, ok, _ := f.svc.Lookup(ctx, f.svc.Fingerprint([]byte("doc")))
	require.False(t, ok)
}

func TestRevokedWriterKeepsPriorCertificates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rcpt, err := f.svc.Issue(ctx, []byte("H1"), sample, writer)
	require.NoError(t, err)
	before, _, _ := f.svc.Lookup(ctx, rcpt.Hash)

	_, err = f.contract.Revoke(ctx, owner, writer)
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, []byte("H2"), sample, writer)
	require.ErrorIs(t, err, ledger.ErrAuthorization)

	after, ok, err := f.svc.Lookup(ctx, rcpt.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, after)

	v, err := f.svc.Verify(ctx, []byte("H1"))
	require.NoError(t, err)
	require.True(t, v.Valid)
}

// failingGets serves Put normally and fails every Get.
type failingGets struct {
	blob.Store
	err error
}

func (f failingGets) Get(context.Context, string) ([]byte, error) { return nil, f.err }

func TestVerifyFailsOpenOnBlobOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Issue(ctx, []byte("doc"), sample, writer)
	require.NoError(t, err)

	f.svc.blobs = failingGets{Store: f.blobs, err: blob.ErrUnavailable}
	v, err := f.svc.Verify(ctx, []byte("doc"))
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.NotNil(t, v.Record)
	require.Nil(t, v.Metadata)
	require.Equal(t, WarningMetadataUnavailable, v.Warning)
}

func TestVerifyFailsOpenOnWrongKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Issue(ctx, []byte("doc"), sample, writer)
	require.NoError(t, err)

	box, err := sealbox.New(testKey(9))
	require.NoError(t, err)
	f.svc.box = box
	v, err := f.svc.Verify(ctx, []byte("doc"))
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Nil(t, v.Metadata)
	require.Equal(t, WarningMetadataUndecryptable, v.Warning)
}

type brokenAudit struct{ audit.InMemory }

func (*brokenAudit) Record(context.Context, *audit.Entry) error { return errors.New("disk full") }

func TestMirrorFailureDoesNotFailIssuance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.mirror = audit.NewMirror(&brokenAudit{}, quietLogger())
	failures := testutil.ToFloat64(obs.AuditMirrorFailures)

	rcpt, err := f.svc.Issue(ctx, []byte("doc"), sample, writer)
	require.NoError(t, err)
	require.Equal(t, failures+1, testutil.ToFloat64(obs.AuditMirrorFailures))

	_, ok, err := f.svc.Lookup(ctx, rcpt.Hash)
	require.NoError(t, err)
	require.True(t, ok)
}

// unavailableRegistry simulates an unreachable ledger node.
type unavailableRegistry struct{ ledger.Registry }

func (unavailableRegistry) Lookup(context.Context, fingerprint.Fingerprint) (ledger.Record, bool, error) {
	return ledger.Record{}, false, ledger.ErrUnavailable
}

func TestVerifyFailsClosedOnLedgerOutage(t *testing.T) {
	f := newFixture(t)
	f.svc.reg = unavailableRegistry{f.contract}
	_, err := f.svc.Verify(context.Background(), []byte("doc"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

// cancelAfterPut cancels the request context once the blob is stored.
type cancelAfterPut struct {
	blob.Store
	cancel context.CancelFunc
}

func (c cancelAfterPut) Put(ctx context.Context, data []byte) (string, error) {
	ref, err := c.Store.Put(ctx, data)
	c.cancel()
	return ref, err
}

// ctxCheckingRegistry fails Issue when handed a cancelled context.
type ctxCheckingRegistry struct{ *ledger.Contract }

func (r ctxCheckingRegistry) Issue(ctx context.Context, caller ledger.Address, hash fingerprint.Fingerprint, ref string) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	return r.Contract.Issue(ctx, caller, hash, ref)
}

func TestLedgerWriteSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.blobs = cancelAfterPut{Store: f.blobs, cancel: cancel}
	f.svc.reg = ctxCheckingRegistry{f.contract}

	rcpt, err := f.svc.Issue(ctx, []byte("doc"), sample, writer)
	require.NoError(t, err)
	_, ok, _ := f.contract.Lookup(context.Background(), rcpt.Hash)
	require.True(t, ok)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestIssuanceMetricsByResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ok := testutil.ToFloat64(obs.IssuanceTotal.WithLabelValues("ok"))
	conflict := testutil.ToFloat64(obs.IssuanceTotal.WithLabelValues("conflict"))

	_, _ = f.svc.Issue(ctx, []byte("m"), sample, writer)
	_, _ = f.svc.Issue(ctx, []byte("m"), sample, writer)

	require.Equal(t, ok+1, testutil.ToFloat64(obs.IssuanceTotal.WithLabelValues("ok")))
	require.Equal(t, conflict+1, testutil.ToFloat64(obs.IssuanceTotal.WithLabelValues("conflict")))
}
