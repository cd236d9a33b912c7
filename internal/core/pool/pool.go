// Package pool provides fixed-size, lock-free object arenas addressed by
// 32-bit slot index. Slot indices replace raw pointer linkage in the
// structures built on top (queues, matcher levels): O(1) acquire/release
// without aliasing hazards, and the freelist head carries a generation tag so
// CAS operations are ABA-safe.
package pool

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

// Nil is the sentinel "no slot" index.
const Nil uint32 = math.MaxUint32

// Stats is a point-in-time pool counter snapshot.
type Stats struct {
	Capacity  uint32
	InUse     int64
	Acquired  uint64
	Exhausted uint64
}

// Pool is a contiguous arena of T with a lock-free freelist. Acquire and
// Release are safe for concurrent use from any goroutine. Slot contents are
// owned exclusively by the holder between Acquire and Release.
type Pool[T any] struct {
	items []T
	next  []atomic.Uint32

	head      atomic.Uint64 // packed {tag:32 | index:32}
	_pad0     [8]uint64
	inUse     atomic.Int64
	acquired  atomic.Uint64
	exhausted atomic.Uint64
}

// New builds a pool of capacity slots, all free.
func New[T any](capacity uint32) (*Pool[T], error) {
	if capacity == 0 || capacity == Nil {
		return nil, fmt.Errorf("pool: invalid capacity %d", capacity)
	}
	p := &Pool[T]{
		items: make([]T, capacity),
		next:  make([]atomic.Uint32, capacity),
	}
	for i := uint32(0); i < capacity-1; i++ {
		p.next[i].Store(i + 1)
	}
	p.next[capacity-1].Store(Nil)
	p.head.Store(pack(0, 0))
	return p, nil
}

func pack(tag, idx uint32) uint64 { return uint64(tag)<<32 | uint64(idx) }

func unpack(w uint64) (tag, idx uint32) { return uint32(w >> 32), uint32(w) }

// Acquire pops a free slot. ok is false when the arena is exhausted; the
// caller must degrade gracefully (reject the order, drop the tick).
func (p *Pool[T]) Acquire() (idx uint32, ok bool) {
	for {
		w := p.head.Load()
		tag, cur := unpack(w)
		if cur == Nil {
			p.exhausted.Add(1)
			return Nil, false
		}
		nxt := p.next[cur].Load()
		if p.head.CompareAndSwap(w, pack(tag+1, nxt)) {
			p.inUse.Add(1)
			p.acquired.Add(1)
			return cur, true
		}
	}
}

// Release pushes a slot back onto the freelist. Double release corrupts the
// freelist; slot ownership is the caller's contract.
func (p *Pool[T]) Release(idx uint32) {
	for {
		w := p.head.Load()
		tag, cur := unpack(w)
		p.next[idx].Store(cur)
		if p.head.CompareAndSwap(w, pack(tag+1, idx)) {
			p.inUse.Add(-1)
			return
		}
	}
}

// At returns the slot's storage. Valid only between Acquire and Release of idx.
func (p *Pool[T]) At(idx uint32) *T { return &p.items[idx] }

// IndexOf maps a pointer previously obtained from At back to its slot index.
// Pointers not derived from this pool return Nil.
func (p *Pool[T]) IndexOf(v *T) uint32 {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.items)))
	ptr := uintptr(unsafe.Pointer(v))
	size := unsafe.Sizeof(*v)
	if ptr < base {
		return Nil
	}
	off := ptr - base
	if off%size != 0 {
		return Nil
	}
	idx := off / size
	if idx >= uintptr(len(p.items)) {
		return Nil
	}
	return uint32(idx)
}

// Cap is the total slot count.
func (p *Pool[T]) Cap() uint32 { return uint32(len(p.items)) }

// InUse is the number of currently acquired slots.
func (p *Pool[T]) InUse() int64 { return p.inUse.Load() }

// GetStats snapshots the pool counters.
func (p *Pool[T]) GetStats() Stats {
	return Stats{
		Capacity:  p.Cap(),
		InUse:     p.inUse.Load(),
		Acquired:  p.acquired.Load(),
		Exhausted: p.exhausted.Load(),
	}
}
