// Package sealbox encrypts small structured records under a single
// service-wide symmetric key.
//
// Records are serialized to JSON and sealed with AES-256-GCM. The sealed
// form is an Envelope carrying the ciphertext, the nonce (IV) and the
// algorithm name, which is what gets written to the blob store.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// AlgorithmAESGCM is the only algorithm currently produced.
const AlgorithmAESGCM = "aes-256-gcm"

// KeySize is the AES-256 key length.
const KeySize = 32

var (
	ErrKeySize       = errors.New("sealbox: key must be 32 bytes")
	ErrAlgorithm     = errors.New("sealbox: unsupported algorithm")
	ErrUndecryptable = errors.New("sealbox: envelope cannot be opened")
)

// Envelope is the stored form of an encrypted record.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Algorithm  string `json:"algorithm"`
}

// Box seals and opens records.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// KeyFromHex decodes a hex encoded 32-byte key.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("sealbox: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}

// DeriveKey stretches a passphrase into a key with argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// Seal serializes v to JSON and encrypts it under a fresh random IV.
func (b *Box) Seal(v any) (Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	iv := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, err
	}
	return b.SealWithIV(plaintext, iv)
}

// SealWithIV encrypts plaintext under the given IV. Output is deterministic for
// a fixed key, plaintext and IV; callers must never reuse an IV for different
// plaintexts.
func (b *Box) SealWithIV(plaintext, iv []byte) (Envelope, error) {
	if len(iv) != b.aead.NonceSize() {
		return Envelope{}, fmt.Errorf("sealbox: iv must be %d bytes", b.aead.NonceSize())
	}
	return Envelope{
		Ciphertext: b.aead.Seal(nil, iv, plaintext, nil),
		IV:         append([]byte(nil), iv...),
		Algorithm:  AlgorithmAESGCM,
	}, nil
}

// Decrypt returns the plaintext of env.
func (b *Box) Decrypt(env Envelope) ([]byte, error) {
	if env.Algorithm != AlgorithmAESGCM {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithm, env.Algorithm)
	}
	if len(env.IV) != b.aead.NonceSize() {
		return nil, ErrUndecryptable
	}
	plaintext, err := b.aead.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrUndecryptable
	}
	return plaintext, nil
}

// Open decrypts env and unmarshals the JSON record into v.
func (b *Box) Open(env Envelope, v any) error {
	plaintext, err := b.Decrypt(env)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

// Marshal encodes env for storage.
func Marshal(env Envelope) ([]byte, error) { return json.Marshal(env) }

// Unmarshal decodes a stored envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	return env, nil
}
