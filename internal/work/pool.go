// Package work runs detached analysis tasks dispatched from the ingress
// acknowledgment path. Submission never blocks the acknowledging caller;
// task outcomes terminate at the task boundary.
package work

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one detached unit of work. IdentityKey bounds concurrent
// outstanding tasks per identity when MaxOutstanding > 0.
type Task struct {
	ID             string
	Run            func()
	IdentityKey    string
	MaxOutstanding int
}

var (
	// ErrTaskIDRequired is returned when a task is missing an ID.
	ErrTaskIDRequired = errors.New("task id is required")
	// ErrTaskRunRequired is returned when a task is missing a run function.
	ErrTaskRunRequired = errors.New("task run func is required")
	// ErrClosed indicates the pool no longer accepts submissions.
	ErrClosed = errors.New("work pool is closed")
	// ErrQueueFull indicates the pool queue is saturated.
	ErrQueueFull = errors.New("work pool queue is full")
	// ErrIdentityBusy indicates the per-identity outstanding limit was hit.
	ErrIdentityBusy = errors.New("identity already has outstanding work")
)

// Stats reports pool counters.
type Stats struct {
	Submitted          int64
	Completed          int64
	Rejected           int64
	RejectedByIdentity int64
	InFlight           int64
	QueueDepth         int64
}

// Pool is a bounded FIFO pool with a fixed worker count.
type Pool struct {
	queue              chan Task
	wg                 sync.WaitGroup
	submitted          atomic.Int64
	completed          atomic.Int64
	rejected           atomic.Int64
	rejectedByIdentity atomic.Int64
	inFlight           atomic.Int64
	closed             atomic.Bool
	closeMu            sync.RWMutex
	mu                 sync.Mutex
	outstandingByKey   map[string]int
}

// NewPool creates a pool with the given queue capacity and worker count.
func NewPool(capacity, workers int) *Pool {
	if capacity < 1 {
		capacity = 64
	}
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		queue:            make(chan Task, capacity),
		outstandingByKey: make(map[string]int),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task or returns an error when saturated/closed. It
// never blocks: the caller has typically already acknowledged upstream.
func (p *Pool) Submit(task Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w", ErrTaskIDRequired)
	}
	if task.Run == nil {
		return fmt.Errorf("%w", ErrTaskRunRequired)
	}
	if task.MaxOutstanding < 0 {
		p.rejected.Add(1)
		return fmt.Errorf("max outstanding must be >= 0")
	}
	outstandingReserved := false
	outstandingKey := ""
	if task.MaxOutstanding > 0 {
		outstandingKey = outstandingKeyForTask(task)
		if !p.reserveOutstanding(outstandingKey, task.MaxOutstanding) {
			p.rejected.Add(1)
			p.rejectedByIdentity.Add(1)
			return fmt.Errorf("%w", ErrIdentityBusy)
		}
		outstandingReserved = true
	}

	// The read lock excludes the close transition in Drain: without it a
	// Submit racing Drain could send on a closed channel.
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		if outstandingReserved {
			p.releaseOutstanding(outstandingKey)
		}
		p.rejected.Add(1)
		return fmt.Errorf("%w", ErrClosed)
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		if outstandingReserved {
			p.releaseOutstanding(outstandingKey)
		}
		p.rejected.Add(1)
		return fmt.Errorf("%w", ErrQueueFull)
	}
}

// Drain waits until queue/in-flight is empty, then closes the workers.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		if len(p.queue) == 0 && p.inFlight.Load() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.closeMu.Lock()
	if p.closed.CompareAndSwap(false, true) {
		close(p.queue)
	}
	p.closeMu.Unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:          p.submitted.Load(),
		Completed:          p.completed.Load(),
		Rejected:           p.rejected.Load(),
		RejectedByIdentity: p.rejectedByIdentity.Load(),
		InFlight:           p.inFlight.Load(),
		QueueDepth:         int64(len(p.queue)),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.inFlight.Add(1)
		task.Run()
		if task.MaxOutstanding > 0 {
			p.releaseOutstanding(outstandingKeyForTask(task))
		}
		p.completed.Add(1)
		p.inFlight.Add(-1)
	}
}

func (p *Pool) reserveOutstanding(key string, maxOutstanding int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.outstandingByKey[key] >= maxOutstanding {
		return false
	}
	p.outstandingByKey[key]++
	return true
}

func (p *Pool) releaseOutstanding(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.outstandingByKey[key]
	if current <= 1 {
		delete(p.outstandingByKey, key)
		return
	}
	p.outstandingByKey[key] = current - 1
}

func outstandingKeyForTask(task Task) string {
	if key := strings.TrimSpace(task.IdentityKey); key != "" {
		return key
	}
	return task.ID
}
