package concurrent

import (
	"runtime"
	"sync/atomic"
	"time"
)

// WorkQueue is the bounded SPMC/MPMC ring used as the collector's grey set.
// It is Dmitry Vyukov's sequence-numbered ring buffer, generalized to carry
// a pointer-sized payload and extended with a blocking variant that backs
// off from a spin to short sleeps and then longer sleeps.
type WorkQueue[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []wqCell[T]
}

type wqCell[T any] struct {
	seq  uint64
	_pad [56]byte
	val  T
}

// NewWorkQueue creates a queue whose capacity is rounded up to the next
// power of two (at least 2).
func NewWorkQueue[T any](capacity int) *WorkQueue[T] {
	if capacity < 2 {
		capacity = 2
	}

	capPow2 := uint64(1)
	for capPow2 < uint64(capacity) {
		capPow2 <<= 1
	}

	q := &WorkQueue[T]{
		mask:  capPow2 - 1,
		cells: make([]wqCell[T], capPow2),
	}
	for i := range q.cells {
		q.cells[i].seq = uint64(i)
	}

	return q
}

// Cap returns the queue's fixed capacity.
func (q *WorkQueue[T]) Cap() int { return int(q.mask + 1) }

// TryEnqueue pushes v without blocking; returns false if the queue is full.
func (q *WorkQueue[T]) TryEnqueue(v T) bool {
	for {
		pos := atomic.LoadUint64(&q.enqueue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.enqueue, pos, pos+1) {
				c.val = v
				atomic.StoreUint64(&c.seq, pos+1)

				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// TryDequeue pops the oldest value without blocking; returns false if the
// queue is empty. Occupancy() > high-watermark*capacity is the allocation-side signal
// that feeds the scheduler's young-GC predicate.
func (q *WorkQueue[T]) TryDequeue() (T, bool) {
	var zero T

	for {
		pos := atomic.LoadUint64(&q.dequeue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.dequeue, pos, pos+1) {
				v := c.val
				c.val = zero
				atomic.StoreUint64(&c.seq, pos+q.mask+1)

				return v, true
			}
		case dif < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

// Enqueue blocks with adaptive backoff (spin, then short sleeps) until v is
// pushed; there is no deadline. The write barrier's mutator-side enqueue uses
// it.
func (q *WorkQueue[T]) Enqueue(v T) {
	spins := 0

	for !q.TryEnqueue(v) {
		spins = backoff(spins)
	}
}

// Dequeue blocks with adaptive backoff until a value is available.
func (q *WorkQueue[T]) Dequeue() T {
	spins := 0

	for {
		if v, ok := q.TryDequeue(); ok {
			return v
		}

		spins = backoff(spins)
	}
}

// Occupancy reports the approximate number of entries currently queued.
func (q *WorkQueue[T]) Occupancy() int {
	enq := atomic.LoadUint64(&q.enqueue)
	deq := atomic.LoadUint64(&q.dequeue)

	if enq < deq {
		return 0
	}

	return int(enq - deq)
}

func backoff(spins int) int {
	switch {
	case spins < 32:
		runtime.Gosched()
	case spins < 64:
		time.Sleep(50 * time.Microsecond)
	default:
		time.Sleep(2 * time.Millisecond)
	}

	return spins + 1
}
