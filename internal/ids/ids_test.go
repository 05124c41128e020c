package ids

import (
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestValidAndTime(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	ref := NewAt(at)
	if !Valid(ref) {
		t.Fatalf("expected %q to be valid", ref)
	}
	got, ok := Time(ref)
	if !ok || !got.Equal(at) {
		t.Fatalf("Time(%q) = %v, %v", ref, got, ok)
	}
	if Valid("not-a-ulid") {
		t.Fatal("expected invalid ref")
	}
}
