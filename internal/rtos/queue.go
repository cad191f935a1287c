package rtos

import (
	"runtime"
	"sync/atomic"
)

// Queue is a bounded multi-producer multi-consumer queue for passing work
// between tasks and from interrupt context to tasks.
//
// Each slot carries a sequence number: a slot at position p is free for the
// producer when seq == p and holds a value for the consumer when seq == p+1.
// The sequence numbers keep positions from being confused after wrap-around.
type Queue[T any] struct {
	mask  uint64
	slots []queueSlot[T]
	_p0   [cacheLine - 2]uint64 // Padding to prevent false sharing
	r     atomic.Uint64         // Read position (consumer index)
	_p1   [cacheLine - 1]uint64 // Padding to prevent false sharing
	w     atomic.Uint64         // Write position (producer index)
	_p2   [cacheLine - 1]uint64 // Padding to prevent false sharing

	ready chan struct{} // Edge signal for blocked receivers
}

// Cache line size in 64-bit words
const cacheLine = 16

type queueSlot[T any] struct {
	seq  atomic.Uint64
	data T
}

// NewQueue creates a queue holding at least size elements. The capacity is
// rounded up to a power of 2.
func NewQueue[T any](size uint64) *Queue[T] {
	size = roundUpPowerOf2(max(size, 2))
	q := &Queue[T]{
		mask:  size - 1,
		slots: make([]queueSlot[T], size),
		ready: make(chan struct{}, 1),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return len(q.slots)
}

// TrySend enqueues v without blocking. It reports false when the queue is
// full, and is therefore safe to call from interrupt context.
func (q *Queue[T]) TrySend(v T) bool {
	var c *queueSlot[T]
	p := q.w.Load()

	for {
		c = &q.slots[p&q.mask]
		seq := c.seq.Load()
		diff := int64(seq - p)

		if diff == 0 {
			// Slot is free; claim it
			if q.w.CompareAndSwap(p, p+1) {
				break
			}
		} else if diff < 0 {
			// The consumer has not released this slot yet
			return false
		}
		p = q.w.Load()
	}

	c.data = v
	// Publish after the data write so consumers never see a partial element
	c.seq.Store(p + 1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Send enqueues v, retrying once per scheduler tick while the queue is full
func (q *Queue[T]) Send(t *Task, v T) error {
	for !q.TrySend(v) {
		if err := t.Yield(); err != nil {
			return err
		}
	}
	return nil
}

// TryReceive dequeues the oldest element without blocking
func (q *Queue[T]) TryReceive() (v T, ok bool) {
	var c *queueSlot[T]
	p := q.r.Load()

	for {
		c = &q.slots[p&q.mask]
		seq := c.seq.Load()
		diff := int64(seq - (p + 1))

		if diff == 0 {
			// Element is ready; claim it
			if q.r.CompareAndSwap(p, p+1) {
				break
			}
		} else if diff < 0 {
			// Empty
			return v, false
		}
		p = q.r.Load()
		runtime.Gosched()
	}

	v = c.data
	var zero T
	c.data = zero
	// Release the slot to producers one lap ahead
	c.seq.Store(p + q.mask + 1)
	return v, true
}

// Receive dequeues the oldest element, suspending t while the queue is empty
func (q *Queue[T]) Receive(t *Task) (T, error) {
	for {
		if v, ok := q.TryReceive(); ok {
			return v, nil
		}
		select {
		case <-q.ready:
		case <-t.k.ctx.Done():
			var zero T
			return zero, t.k.ctx.Err()
		}
	}
}

// roundUpPowerOf2 rounds up a number to the next power of 2
//
// Algorithm from: https://graphics.stanford.edu/~seander/bithacks.html#RoundUpPowerOf2
func roundUpPowerOf2(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
