// Package subscription implements the SubId -> {target, observer} arena
// described in spec.md §9: it lets a Model notify every PipelineDefinition
// that references it (UsedModelChanged) without either side holding a
// pointer to the other, avoiding the Model<->PipelineDefinition ownership
// cycle the spec calls out. Grounded on the teacher's DefaultEventBus
// subscriber map and concurrent fanout (internal/realtime/bus.go), narrowed
// from a general pub/sub to a single-event notification table.
package subscription

import (
	"sync"
	"sync/atomic"
)

// SubID identifies one subscription entry. Zero is never issued and is
// safe to use as a "no subscription" sentinel.
type SubID uint64

// Observer is notified when the target it subscribed to changes. event is
// an opaque payload chosen by the target side (e.g. the new
// ModelVersionStatus); the table never interprets it.
type Observer func(event any)

type entry struct {
	target   string
	observer Observer
}

// Table is a concurrency-safe SubId arena. One Table instance is shared by
// a ModelRegistry and its PipelineRegistry.
type Table struct {
	mu      sync.RWMutex
	entries map[SubID]entry
	next    uint64
}

// New creates an empty subscription table.
func New() *Table {
	return &Table{entries: make(map[SubID]entry)}
}

// Subscribe registers observer against target (an opaque key the caller
// defines, e.g. "modelname:version") and returns the SubID the caller
// must hold to later Unsubscribe.
func (t *Table) Subscribe(target string, observer Observer) SubID {
	id := SubID(atomic.AddUint64(&t.next, 1))
	t.mu.Lock()
	t.entries[id] = entry{target: target, observer: observer}
	t.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered subscription. Safe to call
// more than once or with an unknown id.
func (t *Table) Unsubscribe(id SubID) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Notify invokes every observer currently subscribed to target with
// event, concurrently, and returns once all have been invoked. A panic in
// one observer does not prevent the others from being notified.
func (t *Table) Notify(target string, event any) {
	t.mu.RLock()
	var observers []Observer
	for _, e := range t.entries {
		if e.target == target {
			observers = append(observers, e.observer)
		}
	}
	t.mu.RUnlock()

	var wg sync.WaitGroup
	for _, obs := range observers {
		obs := obs
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { recover() }()
			obs(event)
		}()
	}
	wg.Wait()
}

// Count returns the number of live subscriptions against target.
func (t *Table) Count(target string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.target == target {
			n++
		}
	}
	return n
}
