// Package blob stores encrypted certificate metadata off-ledger.
//
// A blob is opaque bytes. Put returns a reference string whose scheme names
// the backend holding it ("s3://", "local://"); Get resolves a reference
// previously returned by Put.
package blob

import (
	"context"
	"fmt"
	"strings"

	"certledger.org/internal/ledger"
)

var (
	ErrNotFound    = fmt.Errorf("blob: %w", ledger.ErrNotFound)
	ErrUnavailable = fmt.Errorf("blob: %w", ledger.ErrUnavailable)
)

// Store is an off-ledger blob backend.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

const (
	SchemeS3    = "s3"
	SchemeLocal = "local"
)

// Scheme returns the scheme of ref, or "" when ref has none.
func Scheme(ref string) string {
	i := strings.Index(ref, "://")
	if i <= 0 {
		return ""
	}
	return ref[:i]
}
