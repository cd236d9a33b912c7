package queue

import (
	"sync/atomic"

	"github.com/nanoexch/engine/internal/core/pool"
)

// mpscNode is an arena slot: the queue linkage is a slot index, not a pointer.
type mpscNode[T any] struct {
	value T
	next  atomic.Uint32
}

// MPSC is a lock-free multi-producer/single-consumer intrusive list backed by
// a bounded node arena (Vyukov's design, with the stub node). TryPush is safe
// from any goroutine; TryPop from exactly one. One node is permanently held
// as the stub, so usable capacity is capacity-1. Push failure means the node
// arena is exhausted, which is the queue-full condition.
type MPSC[T any] struct {
	arena *pool.Sharded[mpscNode[T]]

	_pad0  [8]uint64
	tail   atomic.Uint32 // last appended node, swapped by producers
	_pad1  [8]uint64
	head   uint32 // current stub, owned by the consumer
	_pad2  [8]uint64
	pushes atomic.Uint64
	pops   atomic.Uint64
}

// mpscShards spreads the node arena's freelist to cut producer contention.
const mpscShards = 4

// NewMPSC builds a queue whose node arena holds capacity slots.
func NewMPSC[T any](capacity uint64) (*MPSC[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	shards := uint32(mpscShards)
	if capacity < mpscShards*2 {
		shards = 1
	}
	arena, err := pool.NewSharded[mpscNode[T]](shards, uint32(capacity)/shards)
	if err != nil {
		return nil, err
	}
	stub, _ := arena.Acquire()
	arena.At(stub).next.Store(pool.Nil)
	q := &MPSC[T]{arena: arena, head: stub}
	q.tail.Store(stub)
	return q, nil
}

// TryPush appends v; false means the node arena is exhausted.
func (q *MPSC[T]) TryPush(v T) bool {
	idx, ok := q.arena.Acquire()
	if !ok {
		return false
	}
	n := q.arena.At(idx)
	n.value = v
	n.next.Store(pool.Nil)
	prev := q.tail.Swap(idx)
	q.arena.At(prev).next.Store(idx)
	q.pushes.Add(1)
	return true
}

// TryPop removes the oldest element. A false result can be transient while a
// producer is between its tail swap and link publication; callers poll.
func (q *MPSC[T]) TryPop() (v T, ok bool) {
	stub := q.head
	next := q.arena.At(stub).next.Load()
	if next == pool.Nil {
		return v, false
	}
	n := q.arena.At(next)
	v = n.value
	var zero T
	n.value = zero
	q.head = next
	q.arena.Release(stub)
	q.pops.Add(1)
	return v, true
}

// Len is the approximate number of queued elements.
func (q *MPSC[T]) Len() uint64 {
	p, c := q.pushes.Load(), q.pops.Load()
	if p < c {
		return 0
	}
	return p - c
}

// Cap is the usable capacity (arena size minus the stub).
func (q *MPSC[T]) Cap() uint64 { return uint64(q.arena.Cap()) - 1 }
