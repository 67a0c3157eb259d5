// Package slotpool implements InferSlotPool: the bounded pool of
// inference-request slots a ModelInstance hands out, one per concurrent
// inference (§4.2). FIFO waiter ordering and timed acquisition are the two
// properties most tests in this package exercise (spec.md §8 scenarios
// "nireq=1 and N>1 concurrent requests" and the reshape-race scenario).
package slotpool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Executor is the opaque per-slot backend handle (§4.3's Executor_i); the
// pool only needs to hand it out and take it back, never to interpret it.
type Executor any

// Slot is one unit of concurrent inference capacity, bound to a backend
// Executor for its lifetime in the caller's hands.
type Slot struct {
	ID       int
	Executor Executor
}

// ErrTimeout is returned by TryAcquire when no slot frees up before the
// deadline.
var ErrTimeout = fmt.Errorf("slotpool: timed out waiting for a free slot")

// waiter is a single FIFO ticket: a goroutine parked in TryAcquire,
// notified exactly once either with a slot or with a cancellation.
type waiter struct {
	slotCh chan Slot
}

// Pool is a bounded, FIFO-fair semaphore over a fixed set of Slots. It
// implements invariant I2 (free + outstanding == capacity at every
// external observation point) and the fairness requirement that a
// burst of later TryAcquire callers must not starve an earlier waiter.
type Pool struct {
	mu        sync.Mutex
	free      []Slot // LIFO stack of currently-free slots; order doesn't matter for fairness, only waiter order does
	waiters   []*waiter
	capacity  int
	destroyed bool
}

// New creates a Pool of the given capacity (clamped to [1, 100000] per
// spec.md §4.2), with slot i bound to executors[i]; len(executors) must
// equal the clamped capacity.
func New(capacity int, executors []Executor) (*Pool, error) {
	capacity = clamp(capacity)
	if len(executors) != capacity {
		return nil, fmt.Errorf("slotpool: expected %d executors, got %d", capacity, len(executors))
	}
	p := &Pool{capacity: capacity}
	p.free = make([]Slot, capacity)
	for i := 0; i < capacity; i++ {
		p.free[i] = Slot{ID: i, Executor: executors[i]}
	}
	return p, nil
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > 100000 {
		return 100000
	}
	return n
}

// Capacity returns the pool's fixed slot count.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Free returns the current number of immediately-available slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Outstanding returns capacity - free, i.e. slots currently held by callers.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - len(p.free)
}

// TryAcquire blocks up to timeout for a free slot, honoring both ctx
// cancellation and FIFO order among concurrent waiters: a caller that
// calls TryAcquire before another is guaranteed to be woken first once a
// slot becomes available, regardless of arrival order among later bursts.
// A timeout <= 0 sets no time limit: the call then waits until a slot is
// handed over or ctx is done.
func (p *Pool) TryAcquire(ctx context.Context, timeout time.Duration) (*ScopedSlot, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, fmt.Errorf("slotpool: pool destroyed")
	}
	if len(p.free) > 0 && len(p.waiters) == 0 {
		// Fast path: a slot is free and nobody is already queued ahead of us.
		slot := p.popFreeLocked()
		p.mu.Unlock()
		return &ScopedSlot{pool: p, slot: slot}, nil
	}

	w := &waiter{slotCh: make(chan Slot, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case slot := <-w.slotCh:
		return &ScopedSlot{pool: p, slot: slot}, nil
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, ctx.Err()
	case <-timeoutCh:
		p.removeWaiter(w)
		return nil, ErrTimeout
	}
}

// popFreeLocked removes and returns one slot from the free set. Caller
// must hold p.mu.
func (p *Pool) popFreeLocked() Slot {
	n := len(p.free)
	slot := p.free[n-1]
	p.free = p.free[:n-1]
	return slot
}

// removeWaiter drops w from the waiter queue if it is still there (it may
// already have been handed a slot concurrently with the timeout/cancel
// firing, in which case the slot must be released back to the pool to
// avoid leaking capacity).
func (p *Pool) removeWaiter(w *waiter) {
	p.mu.Lock()
	for i, cur := range p.waiters {
		if cur == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Lost the race: a slot was already sent to w's channel concurrently
	// with our cancellation. Drain it and give it back to someone else.
	select {
	case slot := <-w.slotCh:
		p.release(slot)
	default:
	}
}

// release returns slot to the pool, waking the longest-waiting waiter
// (FIFO) if any, otherwise placing it back on the free stack.
func (p *Pool) release(slot Slot) {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.slotCh <- slot
		return
	}
	p.free = append(p.free, slot)
	p.mu.Unlock()
}

// ScopedSlot is the RAII guard returned by TryAcquire: losing it without
// calling Release is a caller bug, mirroring spec.md §4.2's ScopedSlot contract. There is
// no finalizer-based safety net by design -- Go has no destructors, so
// every call site must `defer slot.Release()`.
type ScopedSlot struct {
	pool     *Pool
	slot     Slot
	released bool
	mu       sync.Mutex
}

// Slot exposes the underlying Slot (ID + Executor) for the caller to bind
// inputs/outputs against.
func (s *ScopedSlot) Slot() Slot {
	return s.slot
}

// Release returns the slot to the pool. Safe to call multiple times;
// only the first call has effect.
func (s *ScopedSlot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.pool.release(s.slot)
}
