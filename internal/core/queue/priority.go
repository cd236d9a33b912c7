package queue

import "sync/atomic"

// DefaultPriorities is the tier count used when the caller does not size the
// queue explicitly. Tier 0 is the most urgent.
const DefaultPriorities = 4

// Priority is a single-producer/single-consumer queue with strict FIFO inside
// each tier and best-effort highest-first ordering across tiers. It is built
// from one SPSC ring per tier plus an atomic hint naming the most urgent tier
// that may hold elements; the hint is advisory and pops always cover every
// tier, so a stale hint costs a scan, never an element.
type Priority[T any] struct {
	tiers   []*SPSC[T]
	highest atomic.Int32
}

// NewPriority builds priorities tiers of capacityPerTier slots each.
func NewPriority[T any](priorities int, capacityPerTier uint64) (*Priority[T], error) {
	if priorities <= 0 {
		priorities = DefaultPriorities
	}
	q := &Priority[T]{tiers: make([]*SPSC[T], priorities)}
	for i := range q.tiers {
		t, err := NewSPSC[T](capacityPerTier)
		if err != nil {
			return nil, err
		}
		q.tiers[i] = t
	}
	q.highest.Store(int32(priorities))
	return q, nil
}

// TryPush appends v at the given priority; out-of-range priorities clamp to
// the least urgent tier. False means that tier's ring is full.
func (q *Priority[T]) TryPush(v T, priority int) bool {
	if priority < 0 || priority >= len(q.tiers) {
		priority = len(q.tiers) - 1
	}
	if !q.tiers[priority].TryPush(v) {
		return false
	}
	for {
		cur := q.highest.Load()
		if int32(priority) >= cur || q.highest.CompareAndSwap(cur, int32(priority)) {
			return true
		}
	}
}

// TryPop removes the most urgent queued element. The scan starts at the hint
// and wraps so no tier is ever skipped.
func (q *Priority[T]) TryPop() (v T, ok bool) {
	n := len(q.tiers)
	start := int(q.highest.Load())
	if start < 0 || start >= n {
		start = 0
	}
	for i := 0; i < n; i++ {
		tier := start + i
		if tier >= n {
			tier -= n
		}
		if v, ok := q.tiers[tier].TryPop(); ok {
			// Advance the hint only if no push lowered it mid-scan.
			q.highest.CompareAndSwap(int32(start), int32(tier))
			return v, true
		}
	}
	return v, false
}

// Len sums queued elements across tiers.
func (q *Priority[T]) Len() uint64 {
	var total uint64
	for _, t := range q.tiers {
		total += t.Len()
	}
	return total
}

// Priorities is the tier count.
func (q *Priority[T]) Priorities() int { return len(q.tiers) }
