package memstore

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDeleteRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(value) != "v1" {
		t.Fatalf("get after set: value=%q ok=%v err=%v", value, ok, err)
	}

	// Whole-value overwrite, not a merge.
	if err := s.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, ok, _ = s.Get(ctx, "k")
	if !ok || string(value) != "v2" {
		t.Fatalf("get after overwrite: value=%q ok=%v", value, ok)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected key gone after delete")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete absent key must be a no-op: %v", err)
	}
}

func TestTTLElapsesAtDeadlineAndPurgesOnRead(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC))
	s := NewWithNow(clock.Now)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 2*time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	clock.Advance(2*time.Hour - time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatalf("key must survive until TTL boundary")
	}

	clock.Advance(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("key must be gone after TTL elapsed")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry must be purged on read, len=%d", s.Len())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0))
	s := NewWithNow(clock.Now)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(1000 * time.Hour)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatalf("zero-TTL key must not expire")
	}
}

func TestStoredValueIsIsolatedFromCallerSlice(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	raw := []byte("abc")
	if err := s.Set(ctx, "k", raw, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw[0] = 'z'
	value, _, _ := s.Get(ctx, "k")
	if string(value) != "abc" {
		t.Fatalf("stored value must be copied, got %q", value)
	}
}

type fakeClock struct {
	current time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{current: start}
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
