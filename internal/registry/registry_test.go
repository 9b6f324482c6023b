package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pupiltree/voice-handoff/internal/store/memstore"
)

func TestStartResolveEndLifecycle(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	sessionID, err := reg.Start(ctx, "919876543210", "sess-1", "room-919876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sessionID != "sess-1" {
		t.Fatalf("unexpected session id: %s", sessionID)
	}

	active, err := reg.IsActive(ctx, "919876543210")
	if err != nil || !active {
		t.Fatalf("expected active session: active=%v err=%v", active, err)
	}
	channel, ok, err := reg.Resolve(ctx, "919876543210")
	if err != nil || !ok || channel != "room-919876543210" {
		t.Fatalf("resolve: channel=%q ok=%v err=%v", channel, ok, err)
	}

	if err := reg.End(ctx, "919876543210"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if active, _ := reg.IsActive(ctx, "919876543210"); active {
		t.Fatalf("session must be gone after end")
	}
	if err := reg.End(ctx, "919876543210"); err != nil {
		t.Fatalf("end must be idempotent: %v", err)
	}
}

func TestSecondStartSupersedesFirst(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := reg.Start(ctx, "Z", "s1", "room-z-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := reg.Start(ctx, "Z", "s2", "room-z-2"); err != nil {
		t.Fatalf("second start: %v", err)
	}

	record, ok, err := reg.Lookup(ctx, "Z")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if record.SessionID != "s2" || record.ChannelRef != "room-z-2" {
		t.Fatalf("second start must win whole-record: %+v", record)
	}
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC))
	reg := newTestRegistry(t, clock)
	ctx := context.Background()

	if _, err := reg.Start(ctx, "X", "s1", "room-x"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(30*time.Minute - time.Second)
	if active, _ := reg.IsActive(ctx, "X"); !active {
		t.Fatalf("session must survive until TTL boundary")
	}
	clock.Advance(2 * time.Second)
	if active, _ := reg.IsActive(ctx, "X"); active {
		t.Fatalf("session must expire after TTL")
	}
	if _, ok, err := reg.Resolve(ctx, "X"); ok || err != nil {
		t.Fatalf("expired session must resolve to absent: ok=%v err=%v", ok, err)
	}
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := reg.Start(ctx, "", "s", "c"); err == nil {
		t.Fatalf("empty identity must be rejected")
	}
	if _, err := reg.Start(ctx, "X", "", "c"); err == nil {
		t.Fatalf("empty session_id must be rejected")
	}
	if _, err := reg.Start(ctx, "X", "s", ""); err == nil {
		t.Fatalf("empty channel_ref must be rejected")
	}
	if _, _, err := reg.Resolve(ctx, "  "); err == nil {
		t.Fatalf("empty identity resolve must be rejected")
	}
}

func TestConcurrentStartsLeaveOneRecord(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = reg.Start(ctx, "race", "sess", "room-race")
		}(i)
	}
	wg.Wait()

	record, ok, err := reg.Lookup(ctx, "race")
	if err != nil || !ok {
		t.Fatalf("lookup after race: ok=%v err=%v", ok, err)
	}
	if record.ChannelRef != "room-race" {
		t.Fatalf("torn record observed: %+v", record)
	}
}

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	opts := Options{}
	var kv *memstore.Store
	if clock != nil {
		opts.Now = clock.Now
		kv = memstore.NewWithNow(clock.Now)
	} else {
		kv = memstore.New()
	}
	reg, err := New(kv, 30*time.Minute, opts)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{current: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
