package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ids"
)

// Registry is the certificate ledger: an append-only table of records
// keyed by document fingerprint, writable only by trusted identities.
type Registry interface {
	Owner(ctx context.Context) (Address, error)
	Authorize(ctx context.Context, caller, identity Address) (Event, error)
	Revoke(ctx context.Context, caller, identity Address) (Event, error)
	Issue(ctx context.Context, caller Address, hash fingerprint.Fingerprint, blobRef string) (Receipt, error)
	// Lookup never fails for a missing record; the error reports backend trouble only.
	Lookup(ctx context.Context, hash fingerprint.Fingerprint) (Record, bool, error)
	IsTrusted(ctx context.Context, identity Address) (bool, error)
	Events(ctx context.Context, afterSeq uint64, limit int) ([]Event, uint64, error)
}

// Contract implements Registry over a State. Mutations are applied one at a
// time, which gives every write a total order and makes the existence check
// of Issue race-free.
type Contract struct {
	mu    sync.Mutex
	state State
	owner Address
	now   func() time.Time
}

var _ Registry = (*Contract)(nil)

// Option configures a Contract.
type Option func(*Contract)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(c *Contract) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewContract opens a ledger over state. On a fresh state creator becomes the
// owner and first trusted writer; an initialized state keeps its owner.
func NewContract(ctx context.Context, state State, creator Address, opts ...Option) (*Contract, error) {
	if creator.IsZero() {
		return nil, ErrInvalidIdentity
	}
	owner, err := state.Init(ctx, creator)
	if err != nil {
		return nil, fmt.Errorf("init ledger state: %w", err)
	}
	c := &Contract{
		state: state,
		owner: owner,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewInMemory is a Contract over a fresh MemoryState.
func NewInMemory(creator Address, opts ...Option) (*Contract, error) {
	return NewContract(context.Background(), NewMemoryState(), creator, opts...)
}

func (c *Contract) Owner(ctx context.Context) (Address, error) {
	return c.owner, nil
}

func (c *Contract) Authorize(ctx context.Context, caller, identity Address) (Event, error) {
	if caller != c.owner {
		return Event{}, ErrUnauthorized
	}
	if identity.IsZero() {
		return Event{}, ErrInvalidIdentity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	trusted, err := c.state.Trusted(ctx, identity)
	if err != nil {
		return Event{}, err
	}
	if trusted {
		return Event{}, ErrAlreadyTrusted
	}
	return c.commitTrust(ctx, EventAuthorized, caller, identity, true)
}

func (c *Contract) Revoke(ctx context.Context, caller, identity Address) (Event, error) {
	if caller != c.owner {
		return Event{}, ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	trusted, err := c.state.Trusted(ctx, identity)
	if err != nil {
		return Event{}, err
	}
	if !trusted {
		return Event{}, ErrNotTrusted
	}
	return c.commitTrust(ctx, EventRevoked, caller, identity, false)
}

func (c *Contract) commitTrust(ctx context.Context, kind EventKind, caller, identity Address, trusted bool) (Event, error) {
	seq, err := c.state.Sequence(ctx)
	if err != nil {
		return Event{}, err
	}
	now := c.now()
	evt := Event{
		Sequence: seq + 1,
		Kind:     kind,
		Actor:    caller,
		Subject:  identity,
		TxRef:    ids.NewAt(now),
		At:       now,
	}
	m := Mutation{Event: evt, Trust: &TrustChange{Identity: identity, Trusted: trusted}}
	if err := c.state.Commit(ctx, m); err != nil {
		return Event{}, fmt.Errorf("commit %s: %w", kind, err)
	}
	return evt, nil
}

func (c *Contract) Issue(ctx context.Context, caller Address, hash fingerprint.Fingerprint, blobRef string) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	trusted, err := c.state.Trusted(ctx, caller)
	if err != nil {
		return Receipt{}, err
	}
	if !trusted {
		return Receipt{}, ErrUnauthorized
	}
	if hash.IsZero() {
		return Receipt{}, ErrInvalidHash
	}
	if strings.TrimSpace(blobRef) == "" {
		return Receipt{}, ErrInvalidRef
	}
	if _, exists, err := c.state.Record(ctx, hash); err != nil {
		return Receipt{}, err
	} else if exists {
		return Receipt{}, ErrAlreadyExists
	}

	seq, err := c.state.Sequence(ctx)
	if err != nil {
		return Receipt{}, err
	}
	now := c.now()
	txRef := ids.NewAt(now)
	rec := Record{
		Hash:     hash,
		BlobRef:  blobRef,
		Issuer:   caller,
		IssuedAt: now,
		Sequence: seq + 1,
		TxRef:    txRef,
	}
	h := hash
	evt := Event{
		Sequence: seq + 1,
		Kind:     EventIssued,
		Actor:    caller,
		Subject:  caller,
		Hash:     &h,
		BlobRef:  blobRef,
		TxRef:    txRef,
		At:       now,
	}
	if err := c.state.Commit(ctx, Mutation{Event: evt, Record: &rec}); err != nil {
		return Receipt{}, fmt.Errorf("commit issue: %w", err)
	}
	return Receipt{
		TxRef: txRef,
		Block: rec.Sequence,
		Cost:  writeCost(blobRef),
		At:    now,
	}, nil
}

func (c *Contract) Lookup(ctx context.Context, hash fingerprint.Fingerprint) (Record, bool, error) {
	if hash.IsZero() {
		return Record{}, false, nil
	}
	return c.state.Record(ctx, hash)
}

func (c *Contract) IsTrusted(ctx context.Context, identity Address) (bool, error) {
	if identity.IsZero() {
		return false, nil
	}
	return c.state.Trusted(ctx, identity)
}

func (c *Contract) Events(ctx context.Context, afterSeq uint64, limit int) ([]Event, uint64, error) {
	limit = NormalizeLimit(limit)
	events, err := c.state.Events(ctx, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	next := afterSeq
	if n := len(events); n > 0 {
		next = events[n-1].Sequence
	}
	return events, next, nil
}

// NormalizeLimit clamps a page size to (0, 1000], defaulting to 100.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
