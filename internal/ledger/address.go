package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressSize is the length of an identity in bytes.
const AddressSize = 20

// Address identifies a ledger participant (owner or writer).
type Address [AddressSize]byte

// IsZero reports whether a is the null identity.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a 40-character hex identity with optional 0x prefix.
// Parsing is case-insensitive.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != AddressSize*2 {
		return Address{}, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidIdentity, AddressSize*2, len(s))
	}
	var a Address
	if _, err := hex.Decode(a[:], []byte(strings.ToLower(s))); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}
