// Package sequence implements the optional stateful-model add-on flagged
// in spec.md §9 as orthogonal to the reload/drain machinery: a
// Tracker keeps per-sequence-id state alive across calls to a
// stateful ModelInstance and retires sequences that go idle too long, on
// its own ticker goroutine independent of any reload lock. Grounded on
// the teacher's queueMonitor ticker pattern
// (internal/core/processing/async_processor.go).
package sequence

import (
	"sync"
	"time"
)

// State is an opaque per-sequence state blob the backend associates with
// a sequence id; the tracker only manages its lifetime, never its
// contents.
type State any

type entry struct {
	state      State
	lastActive time.Time
}

// Tracker retires sequences idle for longer than idleTimeout, checked
// every sweepInterval on an independent goroutine.
type Tracker struct {
	mu            sync.Mutex
	sequences     map[string]*entry
	idleTimeout   time.Duration
	sweepInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// NewTracker creates a Tracker and starts its idle-sweep goroutine. Call
// Stop to shut it down.
func NewTracker(idleTimeout, sweepInterval time.Duration) *Tracker {
	t := &Tracker{
		sequences:     make(map[string]*entry),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
	t.wg.Add(1)
	go t.sweepLoop()
	return t
}

// Start associates a new sequence id with initial state. Returns false if
// the id is already tracked.
func (t *Tracker) Start(id string, initial State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sequences[id]; exists {
		return false
	}
	t.sequences[id] = &entry{state: initial, lastActive: t.now()}
	return true
}

// Touch updates id's state and marks it active now. Returns false if id
// is not tracked (e.g. it was already retired for idling).
func (t *Tracker) Touch(id string, state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sequences[id]
	if !ok {
		return false
	}
	e.state = state
	e.lastActive = t.now()
	return true
}

// Get returns id's current state, if tracked.
func (t *Tracker) Get(id string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sequences[id]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// End explicitly retires a sequence (e.g. on a client-signaled end-of-
// sequence), independent of the idle sweep.
func (t *Tracker) End(id string) {
	t.mu.Lock()
	delete(t.sequences, id)
	t.mu.Unlock()
}

// Count returns the number of currently tracked sequences.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sequences)
}

// Stop halts the idle-sweep goroutine and waits for it to exit.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweepIdle()
		}
	}
}

func (t *Tracker) sweepIdle() {
	cutoff := t.now().Add(-t.idleTimeout)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.sequences {
		if e.lastActive.Before(cutoff) {
			delete(t.sequences, id)
		}
	}
}
