// Package certs sequences certificate issuance and verification across the
// fingerprint, metadata cipher, blob store, registry ledger and audit mirror.
package certs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/audit"
	"certledger.org/internal/blob"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
	"certledger.org/internal/sealbox"
)

// Verification warnings. They are set when the ledger confirms the
// certificate but its metadata could not be attached.
const (
	WarningMetadataUnavailable   = "metadata_unavailable"
	WarningMetadataUndecryptable = "metadata_undecryptable"
)

// ErrEmptyFile rejects zero-length documents.
var ErrEmptyFile = fmt.Errorf("empty document: %w", ledger.ErrValidation)

// Receipt is returned by a successful issuance.
type Receipt struct {
	Hash      fingerprint.Fingerprint `json:"hash"`
	Algorithm fingerprint.Algorithm   `json:"algorithm"`
	BlobRef   string                  `json:"blob_ref"`
	TxRef     string                  `json:"tx_ref"`
	Issuer    ledger.Address          `json:"issuer"`
	Block     uint64                  `json:"block"`
	Cost      uint64                  `json:"cost"`
	IssuedAt  time.Time               `json:"issued_at"`
}

// Verification is the outcome of checking a document against the ledger.
// Valid reflects the ledger alone; Metadata is enrichment and may be nil
// with Warning explaining why.
type Verification struct {
	Valid    bool                    `json:"valid"`
	Hash     fingerprint.Fingerprint `json:"hash"`
	Record   *ledger.Record          `json:"record,omitempty"`
	Metadata *Metadata               `json:"metadata,omitempty"`
	Warning  string                  `json:"warning,omitempty"`
}

// Config wires the collaborators of a Service. Mirror and Logger are optional.
type Config struct {
	Registry ledger.Registry
	Blobs    blob.Store
	Box      *sealbox.Box
	Hasher   *fingerprint.Hasher
	Mirror   *audit.Mirror
	Logger   logrus.FieldLogger
}

// Service issues and verifies certificates. It holds no mutable state of its
// own; ordering of concurrent writes is left to the registry.
type Service struct {
	reg    ledger.Registry
	blobs  blob.Store
	box    *sealbox.Box
	hasher *fingerprint.Hasher
	mirror *audit.Mirror
	log    logrus.FieldLogger
}

func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("certs: registry is required")
	case cfg.Blobs == nil:
		return nil, errors.New("certs: blob store is required")
	case cfg.Box == nil:
		return nil, errors.New("certs: metadata box is required")
	}
	if cfg.Hasher == nil {
		h, err := fingerprint.NewHasher(fingerprint.SHA256)
		if err != nil {
			return nil, err
		}
		cfg.Hasher = h
	}
	if cfg.Logger == nil {
		cfg.Logger = obs.Logger()
	}
	return &Service{
		reg:    cfg.Registry,
		blobs:  cfg.Blobs,
		box:    cfg.Box,
		hasher: cfg.Hasher,
		mirror: cfg.Mirror,
		log:    cfg.Logger,
	}, nil
}

// Fingerprint hashes a document with the configured algorithm.
func (s *Service) Fingerprint(file []byte) fingerprint.Fingerprint {
	return s.hasher.Sum(file)
}

// Issue records file on the ledger with its metadata sealed in the blob store.
func (s *Service) Issue(ctx context.Context, file []byte, md Metadata, writer ledger.Address) (rcpt Receipt, err error) {
	defer func() { obs.IssuanceTotal.WithLabelValues(resultLabel(err)).Inc() }()

	if err := md.Validate(); err != nil {
		return Receipt{}, err
	}
	if len(file) == 0 {
		return Receipt{}, ErrEmptyFile
	}
	hash := s.hasher.Sum(file)

	env, err := s.box.Seal(md)
	if err != nil {
		return Receipt{}, fmt.Errorf("seal metadata: %w", err)
	}
	sealed, err := sealbox.Marshal(env)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode envelope: %w", err)
	}
	ref, err := s.blobs.Put(ctx, sealed)
	if err != nil {
		return Receipt{}, fmt.Errorf("store metadata: %w", err)
	}

	// A caller going away must not abort a write the ledger may already have accepted.
	writeCtx := context.WithoutCancel(ctx)
	lr, err := s.reg.Issue(writeCtx, writer, hash, ref)
	if err != nil {
		return Receipt{}, err
	}

	if s.mirror != nil {
		_ = s.mirror.Record(writeCtx, lr, hash, ref, writer)
	}

	s.log.WithFields(logrus.Fields{
		"hash":   hash.String(),
		"writer": writer.String(),
		"tx_ref": lr.TxRef,
		"block":  lr.Block,
	}).Info("certificate issued")

	return Receipt{
		Hash:      hash,
		Algorithm: s.hasher.Algorithm(),
		BlobRef:   ref,
		TxRef:     lr.TxRef,
		Issuer:    writer,
		Block:     lr.Block,
		Cost:      lr.Cost,
		IssuedAt:  lr.At,
	}, nil
}

// Verify fingerprints file and checks it against the ledger.
func (s *Service) Verify(ctx context.Context, file []byte) (Verification, error) {
	return s.VerifyHash(ctx, s.hasher.Sum(file))
}

// VerifyHash checks a fingerprint against the ledger and attaches metadata.
func (s *Service) VerifyHash(ctx context.Context, hash fingerprint.Fingerprint) (v Verification, err error) {
	defer func() {
		label := "error"
		switch {
		case err != nil:
		case v.Valid:
			label = "valid"
		default:
			label = "invalid"
		}
		obs.VerificationTotal.WithLabelValues(label).Inc()
	}()

	rec, ok, err := s.reg.Lookup(ctx, hash)
	if err != nil {
		return Verification{}, err
	}
	if !ok {
		return Verification{Valid: false, Hash: hash}, nil
	}
	v = Verification{Valid: true, Hash: hash, Record: &rec}

	data, err := s.blobs.Get(ctx, rec.BlobRef)
	if err != nil {
		s.log.WithFields(logrus.Fields{"hash": hash.String(), "blob_ref": rec.BlobRef}).
			WithError(err).Warn("certificate metadata unavailable")
		v.Warning = WarningMetadataUnavailable
		return v, nil
	}
	var md Metadata
	env, err := sealbox.Unmarshal(data)
	if err == nil {
		err = s.box.Open(env, &md)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"hash": hash.String(), "blob_ref": rec.BlobRef}).
			WithError(err).Warn("certificate metadata undecryptable")
		v.Warning = WarningMetadataUndecryptable
		return v, nil
	}
	v.Metadata = &md
	return v, nil
}

// Lookup returns the ledger record for hash.
func (s *Service) Lookup(ctx context.Context, hash fingerprint.Fingerprint) (ledger.Record, bool, error) {
	return s.reg.Lookup(ctx, hash)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch ledger.Classify(err) {
	case ledger.ErrValidation:
		return "validation"
	case ledger.ErrAuthorization:
		return "authorization"
	case ledger.ErrConflict:
		return "conflict"
	case ledger.ErrUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
