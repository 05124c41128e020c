// Package fingerprint computes the fixed-size document digests used as
// certificate keys in the registry.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a fingerprint in bytes.
const Size = 32

// Fingerprint is a document digest.
type Fingerprint [Size]byte

// ErrMalformed is returned when a textual fingerprint cannot be decoded.
var ErrMalformed = errors.New("malformed fingerprint")

// IsZero reports whether f is the all-zero value, which never identifies a document.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// String renders f as 0x-prefixed lowercase hex.
func (f Fingerprint) String() string { return "0x" + hex.EncodeToString(f[:]) }

// Hex renders f without prefix.
func (f Fingerprint) Hex() string { return hex.EncodeToString(f[:]) }

func (f Fingerprint) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Fingerprint) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Parse decodes a 64-character hex string with an optional 0x prefix.
func Parse(s string) (Fingerprint, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != Size*2 {
		return Fingerprint{}, fmt.Errorf("%w: want %d hex chars, got %d", ErrMalformed, Size*2, len(s))
	}
	var f Fingerprint
	if _, err := hex.Decode(f[:], []byte(s)); err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256    Algorithm = "sha256"
	Keccak256 Algorithm = "keccak256"
)

// Hasher computes fingerprints with a fixed algorithm.
type Hasher struct {
	alg Algorithm
	new func() hash.Hash
}

// NewHasher returns a Hasher for alg. An empty alg selects SHA-256.
func NewHasher(alg Algorithm) (*Hasher, error) {
	switch Algorithm(strings.ToLower(string(alg))) {
	case "", SHA256:
		return &Hasher{alg: SHA256, new: sha256.New}, nil
	case Keccak256:
		return &Hasher{alg: Keccak256, new: sha3.NewLegacyKeccak256}, nil
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm %q", alg)
	}
}

// Algorithm reports the digest in use.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Sum fingerprints data.
func (h *Hasher) Sum(data []byte) Fingerprint {
	d := h.new()
	_, _ = d.Write(data)
	var f Fingerprint
	copy(f[:], d.Sum(nil))
	return f
}

// SumReader fingerprints everything readable from r.
func (h *Hasher) SumReader(r io.Reader) (Fingerprint, error) {
	d := h.new()
	if _, err := io.Copy(d, r); err != nil {
		return Fingerprint{}, err
	}
	var f Fingerprint
	copy(f[:], d.Sum(nil))
	return f, nil
}
