// Package audit keeps a local, non-authoritative mirror of confirmed ledger
// writes for listing and statistics, and writes administrative audit lines.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

// Entry statuses. Status is the only field of an Entry that changes after it is recorded.
const (
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"
)

var (
	ErrDuplicate     = fmt.Errorf("audit: duplicate transaction: %w", ledger.ErrConflict)
	ErrEntryNotFound = fmt.Errorf("audit: transaction: %w", ledger.ErrNotFound)
	ErrInvalidStatus = fmt.Errorf("audit: invalid status: %w", ledger.ErrValidation)
	errNilEntry      = errors.New("audit: nil entry")
)

// Entry mirrors one successful ledger write.
type Entry struct {
	ID         int64                   `json:"id"`
	TxRef      string                  `json:"tx_ref"`
	Hash       fingerprint.Fingerprint `json:"hash"`
	BlobRef    string                  `json:"blob_ref"`
	Writer     ledger.Address          `json:"writer"`
	RecordedAt time.Time               `json:"recorded_at"`
	Status     string                  `json:"status"`
	Block      uint64                  `json:"block"`
	Cost       uint64                  `json:"cost"`
}

// Stats summarizes the mirror.
type Stats struct {
	Total          int64      `json:"total"`
	Writers        int64      `json:"writers"`
	TotalCost      uint64     `json:"total_cost"`
	LastRecordedAt *time.Time `json:"last_recorded_at,omitempty"`
}

// Store persists audit entries. Record assigns ID, and RecordedAt and Status when unset.
type Store interface {
	Record(ctx context.Context, e *Entry) error
	SetStatus(ctx context.Context, txRef, status string) error
	List(ctx context.Context, afterID int64, limit int) ([]Entry, int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// ValidStatus reports whether s is a known entry status.
func ValidStatus(s string) bool {
	switch s {
	case StatusConfirmed, StatusFinalized, StatusFailed:
		return true
	}
	return false
}

// NewEntry builds the mirror entry for a confirmed write.
func NewEntry(rcpt ledger.Receipt, hash fingerprint.Fingerprint, blobRef string, writer ledger.Address) *Entry {
	return &Entry{
		TxRef:      rcpt.TxRef,
		Hash:       hash,
		BlobRef:    blobRef,
		Writer:     writer,
		RecordedAt: rcpt.At,
		Status:     StatusConfirmed,
		Block:      rcpt.Block,
		Cost:       rcpt.Cost,
	}
}

func prepare(e *Entry, now time.Time) error {
	if e == nil {
		return errNilEntry
	}
	if e.TxRef == "" {
		return fmt.Errorf("%w: tx ref is required", ledger.ErrValidation)
	}
	if e.Status == "" {
		e.Status = StatusConfirmed
	}
	if !ValidStatus(e.Status) {
		return ErrInvalidStatus
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now
	}
	return nil
}
