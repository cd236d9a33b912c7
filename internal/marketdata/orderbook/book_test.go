package orderbook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoexch/engine/internal/core"
)

const px = 100_000_000 // 1.0 in fixed point

func TestUpdateLevelInsertAndOrdering(t *testing.T) {
	b := NewBook(1, 100)

	b.UpdateLevel(core.SideBuy, 101*px, 500)
	b.UpdateLevel(core.SideBuy, 103*px, 300)
	b.UpdateLevel(core.SideBuy, 102*px, 400)
	b.UpdateLevel(core.SideSell, 105*px, 200)
	b.UpdateLevel(core.SideSell, 104*px, 100)

	assert.Equal(t, uint64(103*px), b.BestBid())
	assert.Equal(t, uint64(104*px), b.BestAsk())

	bids := b.BidLevels(10)
	require.Len(t, bids, 3)
	assert.Equal(t, uint64(103*px), bids[0].Price)
	assert.Equal(t, uint64(102*px), bids[1].Price)
	assert.Equal(t, uint64(101*px), bids[2].Price)

	asks := b.AskLevels(10)
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(104*px), asks[0].Price)
	assert.Equal(t, uint64(105*px), asks[1].Price)
}

func TestUpdateLevelOverwriteAndRemove(t *testing.T) {
	b := NewBook(1, 100)
	b.UpdateLevel(core.SideBuy, 101*px, 500)
	b.UpdateLevel(core.SideBuy, 101*px, 900)
	assert.Equal(t, uint64(900), b.GetSnapshot(0).BestBidQty)

	v := b.Version()
	b.UpdateLevel(core.SideBuy, 101*px, 0)
	assert.Equal(t, uint64(0), b.BestBid())
	assert.Greater(t, b.Version(), v)

	// Removing an absent price changes nothing.
	v = b.Version()
	b.UpdateLevel(core.SideBuy, 99*px, 0)
	assert.Equal(t, v, b.Version())
}

func TestDepthCapDropsWorseLevels(t *testing.T) {
	b := NewBook(1, 2)
	b.UpdateLevel(core.SideSell, 104*px, 100)
	b.UpdateLevel(core.SideSell, 105*px, 100)

	// Worse than the worst stored ask: dropped.
	b.UpdateLevel(core.SideSell, 106*px, 100)
	assert.Equal(t, uint64(1), b.LevelsDropped())
	assert.Len(t, b.AskLevels(10), 2)

	// Better than the worst: admitted, worst evicted.
	b.UpdateLevel(core.SideSell, 103*px, 100)
	asks := b.AskLevels(10)
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(103*px), asks[0].Price)
	assert.Equal(t, uint64(104*px), asks[1].Price)
}

func TestIndexConsistencyAfterShifts(t *testing.T) {
	b := NewBook(1, 100)
	prices := []uint64{105 * px, 101 * px, 103 * px, 102 * px, 104 * px}
	for _, p := range prices {
		b.UpdateLevel(core.SideBuy, p, p/px)
	}
	b.UpdateLevel(core.SideBuy, 103*px, 0)
	b.UpdateLevel(core.SideBuy, 103*px, 42)

	levels := b.BidLevels(10)
	require.Len(t, levels, 5)
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i-1].Price, levels[i].Price)
	}
	// Every displayed quantity survives the shifts intact.
	for _, lv := range levels {
		if lv.Price == 103*px {
			assert.Equal(t, uint64(42), lv.Quantity)
		} else {
			assert.Equal(t, lv.Price/px, lv.Quantity)
		}
	}
}

func TestMidAndSpread(t *testing.T) {
	b := NewBook(1, 100)
	assert.Equal(t, uint64(0), b.Mid())
	assert.Equal(t, 0.0, b.SpreadBps())

	b.UpdateLevel(core.SideBuy, 100*px, 10)
	b.UpdateLevel(core.SideSell, 102*px, 10)
	assert.Equal(t, uint64(101*px), b.Mid())
	assert.InDelta(t, 198.0, b.SpreadBps(), 1.0)
	assert.False(t, b.IsCrossed())

	b.UpdateLevel(core.SideBuy, 102*px, 10)
	assert.True(t, b.IsCrossed())
}

func TestApplySnapshotReplacesSide(t *testing.T) {
	b := NewBook(1, 100)
	b.UpdateLevel(core.SideSell, 104*px, 100)
	b.UpdateLevel(core.SideSell, 105*px, 100)

	b.ApplySnapshot(core.SideSell, []Level{
		{Price: 110 * px, Quantity: 5},
		{Price: 108 * px, Quantity: 7},
		{Price: 109 * px, Quantity: 0},
	})

	asks := b.AskLevels(10)
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(108*px), asks[0].Price)
	assert.Equal(t, uint64(7), asks[0].Quantity)
	assert.Equal(t, uint64(108*px), b.BestAsk())
}

func TestConcurrentReadersNeverBlockWriter(t *testing.T) {
	b := NewBook(1, 64)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(4)
	for r := 0; r < 4; r++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := b.GetSnapshot(0)
				if snap.BestBid != 0 && snap.BestAsk != 0 {
					assert.LessOrEqual(t, snap.BestBid, snap.BestAsk)
				}
				b.BidLevels(8)
			}
		}()
	}

	for i := uint64(0); i < 20_000; i++ {
		p := 100*px + (i%50)*px/100
		b.UpdateLevel(core.SideBuy, p, i%7)
		b.UpdateLevel(core.SideSell, p+2*px, i%5)
	}
	close(stop)
	wg.Wait()
}

func TestManagerDoubleCheckedCreate(t *testing.T) {
	m := NewManager(100)
	assert.Nil(t, m.Get(1))

	var wg sync.WaitGroup
	books := make([]*Book, 8)
	for i := range books {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			books[i] = m.GetOrCreate(1)
		}(i)
	}
	wg.Wait()

	for _, b := range books {
		assert.Same(t, books[0], b)
	}
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, []uint32{1}, m.ActiveSymbols())
}

func TestManagerProcessTick(t *testing.T) {
	m := NewManager(100)
	m.ProcessTick(core.Tick{Symbol: 3, Price: 100 * px, Quantity: 11, Side: core.SideBuy})
	b := m.Get(3)
	require.NotNil(t, b)
	assert.Equal(t, uint64(100*px), b.BestBid())
}

func BenchmarkUpdateLevel(b *testing.B) {
	book := NewBook(1, 1000)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p := uint64(100*px + (i%500)*px/100)
		book.UpdateLevel(core.SideBuy, p, uint64(i%1000+1))
	}
}

func BenchmarkGetSnapshot(b *testing.B) {
	book := NewBook(1, 1000)
	book.UpdateLevel(core.SideBuy, 100*px, 10)
	book.UpdateLevel(core.SideSell, 101*px, 10)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = book.GetSnapshot(0)
		}
	})
}
