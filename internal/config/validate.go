package config

import (
	"errors"
	"fmt"

	"certledger.org/internal/blob"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
	"certledger.org/internal/sealbox"
)

const (
	LedgerLocal  = "local"
	LedgerRemote = "remote"
)

// Validate checks the settings certd needs.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr is required")
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	switch c.Blob.Backend {
	case blob.SchemeLocal:
		if c.Blob.LocalDir == "" {
			return errors.New("config: blob.local_dir is required")
		}
	case blob.SchemeS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("config: blob.s3.bucket is required for the s3 backend")
		}
		if c.Blob.LocalDir == "" {
			return errors.New("config: blob.local_dir is required as the s3 fallback")
		}
	default:
		return fmt.Errorf("config: unknown blob.backend %q", c.Blob.Backend)
	}
	if _, err := fingerprint.NewHasher(fingerprint.Algorithm(c.Crypto.HashAlgorithm)); err != nil {
		return fmt.Errorf("config: crypto.hash_algorithm: %w", err)
	}
	if _, err := c.MetadataKey(); err != nil {
		return err
	}
	if c.Auth.Secret == "" {
		return errors.New("config: auth.secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	return nil
}

// ValidateNode checks the settings ledgerd needs.
func (c *Config) ValidateNode() error {
	if c.Ledger.GRPCAddr == "" {
		return errors.New("config: ledger.grpc_addr is required")
	}
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if c.Auth.Secret == "" {
		return errors.New("config: auth.secret is required")
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Mode {
	case LedgerLocal:
		_, err := c.OwnerAddress()
		return err
	case LedgerRemote:
		if c.Ledger.RemoteAddr == "" {
			return errors.New("config: ledger.remote_addr is required in remote mode")
		}
		if c.Ledger.CallTimeout <= 0 {
			return errors.New("config: ledger.call_timeout must be positive")
		}
		return nil
	default:
		return fmt.Errorf("config: unknown ledger.mode %q", c.Ledger.Mode)
	}
}

// OwnerAddress parses ledger.owner.
func (c *Config) OwnerAddress() (ledger.Address, error) {
	if c.Ledger.Owner == "" {
		return ledger.Address{}, errors.New("config: ledger.owner is required")
	}
	addr, err := ledger.ParseAddress(c.Ledger.Owner)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("config: ledger.owner: %w", err)
	}
	return addr, nil
}

// MetadataKey resolves the metadata encryption key.
func (c *Config) MetadataKey() ([]byte, error) {
	switch {
	case c.Crypto.KeyHex != "":
		key, err := sealbox.KeyFromHex(c.Crypto.KeyHex)
		if err != nil {
			return nil, fmt.Errorf("config: crypto.key_hex: %w", err)
		}
		return key, nil
	case c.Crypto.Passphrase != "":
		if len(c.Crypto.Salt) < 8 {
			return nil, errors.New("config: crypto.salt must be at least 8 bytes")
		}
		return sealbox.DeriveKey([]byte(c.Crypto.Passphrase), []byte(c.Crypto.Salt)), nil
	default:
		return nil, errors.New("config: crypto.key_hex or crypto.passphrase is required")
	}
}
