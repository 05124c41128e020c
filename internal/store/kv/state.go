// Package kv persists registry ledger state in an embedded badger database.
package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

var (
	keyOwner     = []byte("meta/owner")
	keySequence  = []byte("meta/seq")
	prefixTrust  = []byte("trust/")
	prefixRecord = []byte("rec/")
	prefixEvent  = []byte("evt/")
)

// Config selects where the database lives.
type Config struct {
	Path string
	// InMemory runs badger without touching disk; Path is ignored.
	InMemory   bool
	SyncWrites bool
	Logger     logrus.FieldLogger
}

// State implements ledger.State on badger.
type State struct {
	db  *badger.DB
	log logrus.FieldLogger
}

var _ ledger.State = (*State)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*State, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("kv: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.ERROR).WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger: %w", err)
	}
	cfg.Logger.WithFields(logrus.Fields{"path": cfg.Path, "in_memory": cfg.InMemory}).Info("ledger state opened")
	return &State{db: db, log: cfg.Logger}, nil
}

// Close flushes and closes the database.
func (s *State) Close() error { return s.db.Close() }

func (s *State) Init(ctx context.Context, owner ledger.Address) (ledger.Address, error) {
	var stored ledger.Address
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyOwner)
		if err == nil {
			return item.Value(func(v []byte) error {
				copy(stored[:], v)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(keyOwner, owner[:]); err != nil {
			return err
		}
		stored = owner
		return txn.Set(trustKey(owner), []byte{1})
	})
	if err != nil {
		return ledger.Address{}, err
	}
	return stored, nil
}

func (s *State) Trusted(ctx context.Context, id ledger.Address) (bool, error) {
	var trusted bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(trustKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		trusted = true
		return nil
	})
	return trusted, err
}

func (s *State) Record(ctx context.Context, hash fingerprint.Fingerprint) (ledger.Record, bool, error) {
	var (
		rec   ledger.Record
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		})
	})
	if err != nil {
		return ledger.Record{}, false, err
	}
	return rec, found, nil
}

func (s *State) Sequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = readSequence(txn)
		return err
	})
	return seq, err
}

func (s *State) Events(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Event, error) {
	var events []ledger.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(afterSeq + 1)); it.Valid() && len(events) < limit; it.Next() {
			var evt ledger.Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &evt)
			}); err != nil {
				return err
			}
			events = append(events, evt)
		}
		return nil
	})
	return events, err
}

func (s *State) Commit(ctx context.Context, m ledger.Mutation) error {
	return s.db.Update(func(txn *badger.Txn) error {
		seq, err := readSequence(txn)
		if err != nil {
			return err
		}
		if m.Event.Sequence != seq+1 {
			return fmt.Errorf("kv: sequence gap: have %d, got %d", seq, m.Event.Sequence)
		}
		if m.Trust != nil {
			key := trustKey(m.Trust.Identity)
			if m.Trust.Trusted {
				err = txn.Set(key, []byte{1})
			} else {
				err = txn.Delete(key)
			}
			if err != nil {
				return err
			}
		}
		if m.Record != nil {
			data, err := json.Marshal(m.Record)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(m.Record.Hash), data); err != nil {
				return err
			}
		}
		data, err := json.Marshal(m.Event)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(m.Event.Sequence), data); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], m.Event.Sequence)
		return txn.Set(keySequence, buf[:])
	})
}

func readSequence(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(keySequence)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("kv: corrupt sequence (%d bytes)", len(v))
		}
		seq = binary.BigEndian.Uint64(v)
		return nil
	})
	return seq, err
}

func trustKey(id ledger.Address) []byte {
	return append(append([]byte(nil), prefixTrust...), id[:]...)
}

func recordKey(h fingerprint.Fingerprint) []byte {
	return append(append([]byte(nil), prefixRecord...), h[:]...)
}

func eventKey(seq uint64) []byte {
	key := append([]byte(nil), prefixEvent...)
	return binary.BigEndian.AppendUint64(key, seq)
}
