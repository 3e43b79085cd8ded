// Package core implements the venue-agnostic runtime primitives shared by
// every other package: a lock-free task queue, a hierarchical timer wheel,
// and the cooperative dispatcher that drives both.
package core

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrQueueFull is returned by Push when the ring has no free slot.
var ErrQueueFull = errors.New("core: queue full")

const cacheLinePad = 64

// queueSlot is padded to a cache line on each side so neighboring slots
// never false-share between a producer and the consumer.
type queueSlot[T any] struct {
	_        [cacheLinePad]byte
	sequence atomic.Uint64
	value    T
	_        [cacheLinePad]byte
}

// Queue is a bounded multi-producer single-consumer ring buffer. Many
// goroutines may call Push concurrently; Pop must only ever be called
// from one goroutine at a time (the dispatcher's run loop).
//
// The algorithm is the classic Vyukov MPSC ring: each slot carries its
// own sequence counter, producers claim a slot with a CAS on the shared
// write cursor, and a slot becomes visible to the consumer only once its
// sequence matches the claimed position.
type Queue[T any] struct {
	mask    uint64
	slots   []queueSlot[T]
	_       [cacheLinePad]byte
	writeAt atomic.Uint64
	_       [cacheLinePad]byte
	readAt  atomic.Uint64
}

// NewQueue creates a queue whose capacity is the next power of two ≥ size.
func NewQueue[T any](size int) *Queue[T] {
	capacity := nextPowerOfTwo(size)
	q := &Queue[T]{
		mask:  uint64(capacity - 1),
		slots: make([]queueSlot[T], capacity),
	}
	for i := range q.slots {
		q.slots[i].sequence.Store(uint64(i))
	}
	return q
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the queue's fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.slots) }

// Len returns a point-in-time estimate of queued items.
func (q *Queue[T]) Len() int {
	w := q.writeAt.Load()
	r := q.readAt.Load()
	if w < r {
		return 0
	}
	return int(w - r)
}

// Push enqueues value, returning ErrQueueFull if the ring is saturated.
// Wait-free: a producer never blocks on another producer, it only retries
// its own CAS until it wins a slot or observes the ring is full.
func (q *Queue[T]) Push(value T) error {
	spins := 0
	for {
		pos := q.writeAt.Load()
		slot := &q.slots[pos&q.mask]
		seq := slot.sequence.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.writeAt.CompareAndSwap(pos, pos+1) {
				slot.value = value
				slot.sequence.Store(pos + 1)
				return nil
			}
		case diff < 0:
			return ErrQueueFull
		default:
			// Another producer has claimed this slot's generation; retry.
		}

		spins++
		if spins > 1000 {
			runtime.Gosched()
			spins = 0
		}
	}
}

// Pop dequeues the oldest value. Safe only from the single consumer
// goroutine. Returns false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	pos := q.readAt.Load()
	slot := &q.slots[pos&q.mask]
	seq := slot.sequence.Load()
	diff := int64(seq) - int64(pos+1)
	if diff != 0 {
		return zero, false
	}
	value := slot.value
	slot.value = zero
	slot.sequence.Store(pos + q.mask + 1)
	q.readAt.Store(pos + 1)
	return value, true
}

// IsEmpty reports whether Pop would currently return false.
func (q *Queue[T]) IsEmpty() bool {
	return q.readAt.Load() == q.writeAt.Load()
}
