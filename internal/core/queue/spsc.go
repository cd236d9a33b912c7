package queue

import "sync/atomic"

// SPSC is a wait-free single-producer/single-consumer ring. One slot is
// reserved to distinguish full from empty, so usable capacity is capacity-1.
// TryPush must be called from one goroutine at a time, TryPop from one
// goroutine at a time; producer and consumer may differ.
type SPSC[T any] struct {
	buf  []T
	mask uint64

	_pad0 [8]uint64
	head  atomic.Uint64 // next slot to pop, advanced only by the consumer
	_pad1 [8]uint64
	tail  atomic.Uint64 // next slot to push, advanced only by the producer
	_pad2 [8]uint64
}

// NewSPSC builds a ring with power-of-two capacity.
func NewSPSC[T any](capacity uint64) (*SPSC[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	return &SPSC[T]{
		buf:  make([]T, capacity),
		mask: capacity - 1,
	}, nil
}

// TryPush appends v; false means the ring is full.
func (q *SPSC[T]) TryPush(v T) bool {
	tail := q.tail.Load()
	next := (tail + 1) & q.mask
	if next == q.head.Load() {
		return false
	}
	q.buf[tail] = v
	q.tail.Store(next)
	return true
}

// TryPop removes the oldest element; ok is false when the ring is empty.
func (q *SPSC[T]) TryPop() (v T, ok bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return v, false
	}
	v = q.buf[head]
	var zero T
	q.buf[head] = zero
	q.head.Store((head + 1) & q.mask)
	return v, true
}

// Len is the number of queued elements. Exact only when racing pushes and
// pops are quiescent.
func (q *SPSC[T]) Len() uint64 {
	return (q.tail.Load() - q.head.Load()) & q.mask
}

// Empty reports whether the ring currently holds no elements.
func (q *SPSC[T]) Empty() bool {
	return q.head.Load() == q.tail.Load()
}

// Cap is the usable capacity (ring size minus the reserved slot).
func (q *SPSC[T]) Cap() uint64 { return q.mask }
