package kv

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

var (
	owner  = ledger.MustParseAddress("0x1111111111111111111111111111111111111111")
	writer = ledger.MustParseAddress("0x2222222222222222222222222222222222222222")
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func hashOf(s string) fingerprint.Fingerprint {
	h, _ := fingerprint.NewHasher(fingerprint.SHA256)
	return h.Sum([]byte(s))
}

func TestContractOverBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(Config{Path: dir, Logger: quietLogger()})
	require.NoError(t, err)
	c, err := ledger.NewContract(ctx, st, owner)
	require.NoError(t, err)

	_, err = c.Authorize(ctx, owner, writer)
	require.NoError(t, err)
	rcpt, err := c.Issue(ctx, writer, hashOf("doc"), "local://abc")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// a different creator must not take over an initialized ledger
	st, err = Open(Config{Path: dir, Logger: quietLogger()})
	require.NoError(t, err)
	defer st.Close()
	c, err = ledger.NewContract(ctx, st, writer)
	require.NoError(t, err)

	got, _ := c.Owner(ctx)
	require.Equal(t, owner, got)

	rec, ok, err := c.Lookup(ctx, hashOf("doc"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "local://abc", rec.BlobRef)
	require.Equal(t, writer, rec.Issuer)
	require.Equal(t, rcpt.TxRef, rec.TxRef)

	trusted, err := c.IsTrusted(ctx, writer)
	require.NoError(t, err)
	require.True(t, trusted)

	_, err = c.Issue(ctx, writer, hashOf("doc"), "local://other")
	require.True(t, errors.Is(err, ledger.ErrAlreadyExists))

	events, next, err := c.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(2), next)
	require.Equal(t, ledger.EventIssued, events[1].Kind)
	require.NotNil(t, events[1].Hash)
	require.Equal(t, hashOf("doc"), *events[1].Hash)
}

func TestRevokeRemovesTrust(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	defer st.Close()

	c, err := ledger.NewContract(ctx, st, owner)
	require.NoError(t, err)
	_, err = c.Authorize(ctx, owner, writer)
	require.NoError(t, err)
	_, err = c.Revoke(ctx, owner, writer)
	require.NoError(t, err)

	trusted, err := st.Trusted(ctx, writer)
	require.NoError(t, err)
	require.False(t, trusted)
}

func TestEventsPaging(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	defer st.Close()

	c, err := ledger.NewContract(ctx, st, owner)
	require.NoError(t, err)
	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := c.Issue(ctx, owner, hashOf(s), "ref-"+s)
		require.NoError(t, err)
	}

	page, next, err := c.Events(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(2), page[0].Sequence)
	require.Equal(t, uint64(3), next)
}

func TestCommitRejectsSequenceGap(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	defer st.Close()

	err = st.Commit(ctx, ledger.Mutation{Event: ledger.Event{Sequence: 5}})
	require.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{Logger: quietLogger()})
	require.Error(t, err)
}
