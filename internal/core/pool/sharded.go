package pool

import (
	"fmt"
	"sync/atomic"
)

// Sharded spreads one logical arena over several independent freelists to cut
// CAS contention between concurrent producers. Global slot indices are
// shard*shardCap+local, so holders interact with a Sharded exactly like a
// Pool. Shard selection on acquire is a rotating hint, never a correctness
// requirement: an exhausted shard falls through to its neighbors.
type Sharded[T any] struct {
	shards   []*Pool[T]
	shardCap uint32
	rr       atomic.Uint32
}

// NewSharded builds shards pools of capPerShard slots each.
func NewSharded[T any](shards, capPerShard uint32) (*Sharded[T], error) {
	if shards == 0 {
		return nil, fmt.Errorf("pool: shard count must be positive")
	}
	if capPerShard == 0 || uint64(shards)*uint64(capPerShard) >= uint64(Nil) {
		return nil, fmt.Errorf("pool: invalid shard capacity %d", capPerShard)
	}
	s := &Sharded[T]{
		shards:   make([]*Pool[T], shards),
		shardCap: capPerShard,
	}
	for i := range s.shards {
		p, err := New[T](capPerShard)
		if err != nil {
			return nil, err
		}
		s.shards[i] = p
	}
	return s, nil
}

// Acquire pops a slot from the hinted shard, scanning neighbors when drained.
// ok is false only when every shard is exhausted.
func (s *Sharded[T]) Acquire() (idx uint32, ok bool) {
	n := uint32(len(s.shards))
	start := s.rr.Add(1) % n
	for i := uint32(0); i < n; i++ {
		shard := (start + i) % n
		if local, ok := s.shards[shard].Acquire(); ok {
			return shard*s.shardCap + local, true
		}
	}
	return Nil, false
}

// Release returns a slot to the shard it came from.
func (s *Sharded[T]) Release(idx uint32) {
	s.shards[idx/s.shardCap].Release(idx % s.shardCap)
}

// At returns the slot's storage.
func (s *Sharded[T]) At(idx uint32) *T {
	return s.shards[idx/s.shardCap].At(idx % s.shardCap)
}

// Cap is the total slot count across shards.
func (s *Sharded[T]) Cap() uint32 {
	return uint32(len(s.shards)) * s.shardCap
}

// InUse sums acquired slots across shards.
func (s *Sharded[T]) InUse() int64 {
	var total int64
	for _, p := range s.shards {
		total += p.InUse()
	}
	return total
}

// GetStats aggregates shard counters.
func (s *Sharded[T]) GetStats() Stats {
	out := Stats{}
	for _, p := range s.shards {
		st := p.GetStats()
		out.Capacity += st.Capacity
		out.InUse += st.InUse
		out.Acquired += st.Acquired
		out.Exhausted += st.Exhausted
	}
	return out
}
