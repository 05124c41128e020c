package ledger

import (
	"context"
	"sync"

	"certledger.org/internal/fingerprint"
)

// Mutation is one atomic ledger write: an event plus the state change it records.
type Mutation struct {
	Event  Event
	Trust  *TrustChange
	Record *Record
}

// TrustChange sets the writer flag of an identity.
type TrustChange struct {
	Identity Address
	Trusted  bool
}

// State is the storage beneath a Contract. Implementations need not be
// safe for concurrent mutation; the Contract serializes writes.
type State interface {
	// Init stores owner as the ledger owner and first trusted writer if the
	// state is fresh, and returns the stored owner either way.
	Init(ctx context.Context, owner Address) (Address, error)
	Trusted(ctx context.Context, id Address) (bool, error)
	Record(ctx context.Context, hash fingerprint.Fingerprint) (Record, bool, error)
	Sequence(ctx context.Context) (uint64, error)
	Events(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
	// Commit applies m atomically. m.Event.Sequence is the next sequence.
	Commit(ctx context.Context, m Mutation) error
}

// MemoryState keeps ledger state in process memory.
type MemoryState struct {
	mu      sync.RWMutex
	owner   Address
	trusted map[Address]bool
	records map[fingerprint.Fingerprint]Record
	events  []Event
}

var _ State = (*MemoryState)(nil)

// NewMemoryState creates an empty state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		trusted: make(map[Address]bool),
		records: make(map[fingerprint.Fingerprint]Record),
	}
}

func (s *MemoryState) Init(ctx context.Context, owner Address) (Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owner.IsZero() {
		return s.owner, nil
	}
	s.owner = owner
	s.trusted[owner] = true
	return owner, nil
}

func (s *MemoryState) Trusted(ctx context.Context, id Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted[id], nil
}

func (s *MemoryState) Record(ctx context.Context, hash fingerprint.Fingerprint) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[hash]
	return rec, ok, nil
}

func (s *MemoryState) Sequence(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func (s *MemoryState) Events(ctx context.Context, afterSeq uint64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if afterSeq >= uint64(len(s.events)) {
		return nil, nil
	}
	// sequences start at 1 and are dense
	rest := s.events[afterSeq:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Event, len(rest))
	copy(out, rest)
	return out, nil
}

func (s *MemoryState) Commit(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Trust != nil {
		if m.Trust.Trusted {
			s.trusted[m.Trust.Identity] = true
		} else {
			delete(s.trusted, m.Trust.Identity)
		}
	}
	if m.Record != nil {
		s.records[m.Record.Hash] = *m.Record
	}
	s.events = append(s.events, m.Event)
	return nil
}
