package audit

import (
	"context"
	"sync"
	"time"

	"certledger.org/internal/ledger"
)

// InMemory is a process-local Store.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
	byTx    map[string]int
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{byTx: make(map[string]int)}
}

func (m *InMemory) Record(ctx context.Context, e *Entry) error {
	if err := prepare(e, time.Now().UTC()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTx[e.TxRef]; ok {
		return ErrDuplicate
	}
	e.ID = int64(len(m.entries) + 1)
	m.byTx[e.TxRef] = len(m.entries)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *InMemory) SetStatus(ctx context.Context, txRef, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byTx[txRef]
	if !ok {
		return ErrEntryNotFound
	}
	m.entries[i].Status = status
	return nil
}

func (m *InMemory) List(ctx context.Context, afterID int64, limit int) ([]Entry, int64, error) {
	limit = ledger.NormalizeLimit(limit)
	if afterID < 0 {
		afterID = 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if afterID >= int64(len(m.entries)) {
		return nil, afterID, nil
	}
	end := min(int(afterID)+limit, len(m.entries))
	out := make([]Entry, end-int(afterID))
	copy(out, m.entries[afterID:end])
	return out, out[len(out)-1].ID, nil
}

func (m *InMemory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st Stats
	writers := make(map[ledger.Address]struct{})
	for _, e := range m.entries {
		st.Total++
		st.TotalCost += e.Cost
		writers[e.Writer] = struct{}{}
		if st.LastRecordedAt == nil || e.RecordedAt.After(*st.LastRecordedAt) {
			at := e.RecordedAt
			st.LastRecordedAt = &at
		}
	}
	st.Writers = int64(len(writers))
	return st, nil
}
