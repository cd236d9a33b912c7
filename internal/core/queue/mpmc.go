package queue

import "sync/atomic"

// mpmcCell pairs a slot with the sequence number that arbitrates ownership.
type mpmcCell[T any] struct {
	seq   atomic.Uint64
	value T
}

// MPMC is a bounded lock-free multi-producer/multi-consumer ring. Each cell
// carries a sequence number: producers claim a cell when seq equals the
// enqueue position, consumers when seq equals position+1. Operations
// linearize at the position CAS; full and empty are reported without
// blocking.
type MPMC[T any] struct {
	cells []mpmcCell[T]
	mask  uint64

	_pad0      [8]uint64
	enqueuePos atomic.Uint64
	_pad1      [8]uint64
	dequeuePos atomic.Uint64
	_pad2      [8]uint64
}

// NewMPMC builds a ring with power-of-two capacity, all of it usable.
func NewMPMC[T any](capacity uint64) (*MPMC[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	q := &MPMC[T]{
		cells: make([]mpmcCell[T], capacity),
		mask:  capacity - 1,
	}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q, nil
}

// TryPush appends v; false means the ring is full.
func (q *MPMC[T]) TryPush(v T) bool {
	pos := q.enqueuePos.Load()
	for {
		cell := &q.cells[pos&q.mask]
		seq := cell.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				cell.value = v
				cell.seq.Store(pos + 1)
				return true
			}
			pos = q.enqueuePos.Load()
		case diff < 0:
			return false
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

// TryPop removes the oldest element; ok is false when the ring is empty.
func (q *MPMC[T]) TryPop() (v T, ok bool) {
	pos := q.dequeuePos.Load()
	for {
		cell := &q.cells[pos&q.mask]
		seq := cell.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				v = cell.value
				var zero T
				cell.value = zero
				cell.seq.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.dequeuePos.Load()
		case diff < 0:
			return v, false
		default:
			pos = q.dequeuePos.Load()
		}
	}
}

// Len is the approximate number of queued elements.
func (q *MPMC[T]) Len() uint64 {
	enq, deq := q.enqueuePos.Load(), q.dequeuePos.Load()
	if enq < deq {
		return 0
	}
	return enq - deq
}

// Cap is the ring capacity.
func (q *MPMC[T]) Cap() uint64 { return uint64(len(q.cells)) }
