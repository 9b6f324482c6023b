package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestPoolRunsSubmittedTasksAndDrains(t *testing.T) {
	t.Parallel()

	pool := NewPool(8, 1)
	var mu sync.Mutex
	order := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		i := i
		if err := pool.Submit(Task{
			ID: fmt.Sprintf("task-%d", i),
			Run: func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			},
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order [1,2,3], got %+v", order)
	}
	stats := pool.Stats()
	if stats.Submitted != 3 || stats.Completed != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(Task{
		ID: "blocking",
		Run: func() {
			close(started)
			<-block
		},
	}); err != nil {
		t.Fatalf("submit blocking task: %v", err)
	}
	<-started

	if err := pool.Submit(Task{ID: "queued", Run: func() {}}); err != nil {
		t.Fatalf("submit queued task: %v", err)
	}
	err := pool.Submit(Task{ID: "overflow", Run: func() {}})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(block)
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestPoolLimitsOutstandingPerIdentity(t *testing.T) {
	t.Parallel()

	pool := NewPool(8, 1)
	block := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(Task{
		ID:             "evt-1",
		IdentityKey:    "919876543210",
		MaxOutstanding: 1,
		Run: func() {
			close(started)
			<-block
		},
	}); err != nil {
		t.Fatalf("submit first task: %v", err)
	}
	<-started

	err := pool.Submit(Task{
		ID:             "evt-2",
		IdentityKey:    "919876543210",
		MaxOutstanding: 1,
		Run:            func() {},
	})
	if !errors.Is(err, ErrIdentityBusy) {
		t.Fatalf("expected ErrIdentityBusy, got %v", err)
	}

	// A different identity is unaffected.
	if err := pool.Submit(Task{
		ID:             "evt-3",
		IdentityKey:    "14155550100",
		MaxOutstanding: 1,
		Run:            func() {},
	}); err != nil {
		t.Fatalf("different identity must be admitted: %v", err)
	}

	close(block)
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// After completion the identity may submit again.
	if err := pool.Submit(Task{
		ID:             "evt-4",
		IdentityKey:    "919876543210",
		MaxOutstanding: 1,
		Run:            func() {},
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed pool must reject, got %v", err)
	}
}

func TestPoolSubmitConcurrentWithDrain(t *testing.T) {
	t.Parallel()

	pool := NewPool(4, 2)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				err := pool.Submit(Task{ID: fmt.Sprintf("g%d-%d", g, i), Run: func() {}})
				if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrQueueFull) {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}()
	}

	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	wg.Wait()

	if err := pool.Submit(Task{ID: "late", Run: func() {}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
}

func TestPoolValidatesTasks(t *testing.T) {
	t.Parallel()

	pool := NewPool(4, 1)
	if err := pool.Submit(Task{Run: func() {}}); !errors.Is(err, ErrTaskIDRequired) {
		t.Fatalf("expected ErrTaskIDRequired, got %v", err)
	}
	if err := pool.Submit(Task{ID: "x"}); !errors.Is(err, ErrTaskRunRequired) {
		t.Fatalf("expected ErrTaskRunRequired, got %v", err)
	}
	if err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}
