package ledger

import (
	"time"

	"certledger.org/internal/fingerprint"
)

// Record is an issued certificate. Records are never mutated once written.
type Record struct {
	Hash     fingerprint.Fingerprint `json:"hash"`
	BlobRef  string                  `json:"blob_ref"`
	Issuer   Address                 `json:"issuer"`
	IssuedAt time.Time               `json:"issued_at"`
	Sequence uint64                  `json:"sequence"`
	TxRef    string                  `json:"tx_ref"`
}

// Receipt describes a confirmed ledger write.
type Receipt struct {
	TxRef string    `json:"tx_ref"`
	Block uint64    `json:"block"`
	Cost  uint64    `json:"cost"`
	At    time.Time `json:"at"`
}

// EventKind names a ledger state transition.
type EventKind string

const (
	EventAuthorized EventKind = "authorized"
	EventRevoked    EventKind = "revoked"
	EventIssued     EventKind = "issued"
)

// Event is an entry of the ledger's append-only event log.
type Event struct {
	Sequence uint64                   `json:"sequence"`
	Kind     EventKind                `json:"kind"`
	Actor    Address                  `json:"actor"`
	Subject  Address                  `json:"subject"`
	Hash     *fingerprint.Fingerprint `json:"hash,omitempty"`
	BlobRef  string                   `json:"blob_ref,omitempty"`
	TxRef    string                   `json:"tx_ref"`
	At       time.Time                `json:"at"`
}

const (
	baseCost    = 21000
	perByteCost = 16
)

// writeCost is the resource-cost metric charged for storing a record.
func writeCost(blobRef string) uint64 {
	return baseCost + perByteCost*uint64(len(blobRef))
}
