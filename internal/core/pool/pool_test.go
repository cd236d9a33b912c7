package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	a, b uint64
}

func TestPoolAcquireUntilExhausted(t *testing.T) {
	p, err := New[payload](8)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for i := 0; i < 8; i++ {
		idx, ok := p.Acquire()
		require.True(t, ok, "slot %d should be available", i)
		assert.False(t, seen[idx], "slot %d handed out twice", idx)
		seen[idx] = true
	}

	_, ok := p.Acquire()
	assert.False(t, ok, "exhausted pool must refuse acquire")
	assert.Equal(t, int64(8), p.InUse())

	for idx := range seen {
		p.Release(idx)
	}
	assert.Equal(t, int64(0), p.InUse())

	idx, ok := p.Acquire()
	assert.True(t, ok)
	assert.Less(t, idx, uint32(8))
}

func TestPoolAtIndexOfRoundTrip(t *testing.T) {
	p, err := New[payload](16)
	require.NoError(t, err)

	idx, ok := p.Acquire()
	require.True(t, ok)

	v := p.At(idx)
	v.a = 42
	assert.Equal(t, idx, p.IndexOf(v))

	var foreign payload
	assert.Equal(t, Nil, p.IndexOf(&foreign))
}

func TestPoolInvalidCapacity(t *testing.T) {
	_, err := New[payload](0)
	assert.Error(t, err)
}

func TestPoolConcurrentChurn(t *testing.T) {
	p, err := New[payload](128)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held := make([]uint32, 0, 16)
			for i := 0; i < 5000; i++ {
				if idx, ok := p.Acquire(); ok {
					p.At(idx).a++
					held = append(held, idx)
				}
				if len(held) > 8 {
					for _, idx := range held {
						p.Release(idx)
					}
					held = held[:0]
				}
			}
			for _, idx := range held {
				p.Release(idx)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), p.InUse())
	st := p.GetStats()
	assert.Equal(t, uint32(128), st.Capacity)
	assert.NotZero(t, st.Acquired)
}

func TestShardedSpansShards(t *testing.T) {
	s, err := NewSharded[payload](4, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), s.Cap())

	held := make([]uint32, 0, 16)
	for i := 0; i < 16; i++ {
		idx, ok := s.Acquire()
		require.True(t, ok, "acquire %d must fall through drained shards", i)
		held = append(held, idx)
	}
	_, ok := s.Acquire()
	assert.False(t, ok)

	s.Release(held[0])
	idx, ok := s.Acquire()
	assert.True(t, ok)
	assert.Equal(t, held[0], idx)

	for _, h := range held[1:] {
		s.Release(h)
	}
	s.Release(idx)
	assert.Equal(t, int64(0), s.InUse())
}

func BenchmarkPoolAcquireRelease(b *testing.B) {
	p, err := New[payload](1024)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if idx, ok := p.Acquire(); ok {
				p.Release(idx)
			}
		}
	})
}
