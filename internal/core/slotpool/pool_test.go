package slotpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, n int) *Pool {
	t.Helper()
	execs := make([]Executor, n)
	for i := range execs {
		execs[i] = i
	}
	p, err := New(n, execs)
	require.NoError(t, err)
	return p
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := newTestPool(t, 2)
	assert.Equal(t, 2, p.Free())

	s, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Free())
	assert.Equal(t, 1, p.Outstanding())

	s.Release()
	assert.Equal(t, 2, p.Free())
	assert.Equal(t, 0, p.Outstanding())
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1)
	s, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)
	s.Release()
	s.Release()
	assert.Equal(t, 1, p.Free())
}

func TestNireqOneSerializesCallers(t *testing.T) {
	// Mirrors spec.md's nireq=1 scenario: N concurrent requests queue up
	// and each gets the single slot in turn, never overlapping.
	p := newTestPool(t, 1)
	const n = 8
	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.TryAcquire(context.Background(), 2*time.Second)
			require.NoError(t, err)
			cur := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			s.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 1, p.Free())
}

func TestTryAcquireTimesOutWhenExhausted(t *testing.T) {
	p := newTestPool(t, 1)
	s, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer s.Release()

	_, err = p.TryAcquire(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTryAcquireRespectsContextCancellation(t *testing.T) {
	p := newTestPool(t, 1)
	s, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer s.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = p.TryAcquire(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitersAreServedFIFO(t *testing.T) {
	p := newTestPool(t, 1)
	held, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)

	const waiters = 5
	order := make(chan int, waiters)
	var ready sync.WaitGroup
	ready.Add(waiters)

	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			// Stagger arrival so queue order is deterministic, then
			// signal readiness before racing for the slot.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			ready.Done()
			s, err := p.TryAcquire(context.Background(), 2*time.Second)
			if err == nil {
				order <- i
				time.Sleep(time.Millisecond)
				s.Release()
			}
		}()
	}

	time.Sleep(time.Duration(waiters) * 5 * time.Millisecond)
	held.Release()

	got := make([]int, 0, waiters)
	for i := 0; i < waiters; i++ {
		got = append(got, <-order)
	}
	for i, v := range got {
		assert.Equal(t, i, v, "waiters should be served in arrival order")
	}
}

func TestCancelledWaiterDoesNotLeakSlotCapacity(t *testing.T) {
	p := newTestPool(t, 1)
	s, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, err := p.TryAcquire(ctx, time.Second)
		assert.Error(t, err)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	s.Release()
	s2, err := p.TryAcquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Free())
	s2.Release()
	assert.Equal(t, 1, p.Free())
}

func TestCapacityClampedToAtLeastOne(t *testing.T) {
	_, err := New(0, nil)
	require.Error(t, err) // mismatched executor count for clamped capacity of 1
	p, err := New(0, []Executor{1})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Capacity())
}

func TestNewRejectsExecutorCountMismatch(t *testing.T) {
	_, err := New(2, []Executor{1})
	assert.Error(t, err)
}
