package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewAt returns a lexicographically sortable transaction reference stamped with t.
// References minted within the same millisecond stay strictly increasing.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// New returns a transaction reference stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// Valid reports whether ref parses as a transaction reference.
func Valid(ref string) bool {
	_, err := ulid.ParseStrict(strings.TrimSpace(ref))
	return err == nil
}

// Time extracts the timestamp embedded in ref.
func Time(ref string) (time.Time, bool) {
	id, err := ulid.ParseStrict(strings.TrimSpace(ref))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()).UTC(), true
}
