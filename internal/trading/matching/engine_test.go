package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/timing"
)

const px = 100_000_000

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newSizedEngine(t, 1024, 1024)
}

func newSizedEngine(t *testing.T, orders, trades uint32) *Engine {
	t.Helper()
	clock, err := timing.NewClock()
	require.NoError(t, err)
	e, err := NewEngine(Config{OrderEntries: orders, Trades: trades}, clock, zap.NewNop())
	require.NoError(t, err)
	return e
}

var nextTs uint64

func limit(id uint64, side core.Side, price, qty uint64, tif core.TimeInForce) core.Order {
	nextTs++
	return core.Order{
		OrderID:   id,
		Symbol:    1,
		Side:      side,
		Type:      core.OrderTypeLimit,
		TIF:       tif,
		Price:     price,
		Quantity:  qty,
		Timestamp: nextTs,
	}
}

// release hands every emitted trade back so arena leak bugs surface in the
// exhaustion tests.
func release(e *Engine, r MatchResult) {
	for _, t := range r.Trades {
		e.ReleaseTrade(t)
	}
}

func TestSimpleCross(t *testing.T) {
	e := newTestEngine(t)

	var updates []core.Order
	e.SetOrderUpdateHandler(func(o core.Order) { updates = append(updates, o) })

	r1 := e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))
	assert.False(t, r1.FullyMatched)
	assert.Empty(t, r1.Trades)

	r2 := e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 100, core.TIFGTC))
	require.Len(t, r2.Trades, 1)
	tr := r2.Trades[0]
	assert.Equal(t, uint64(2), tr.BuyOrderID)
	assert.Equal(t, uint64(1), tr.SellOrderID)
	assert.Equal(t, uint64(10100*px), tr.Price)
	assert.Equal(t, uint64(100), tr.Quantity)
	assert.Equal(t, core.SideBuy, tr.AggressorSide)
	assert.True(t, r2.FullyMatched)

	st := e.GetBookState()
	assert.Equal(t, uint64(0), st.BestBid)
	assert.Equal(t, uint64(0), st.BestAsk)
	assert.Equal(t, 0, st.RestingCount)

	// Resting sell goes Filled, then the incoming buy reports Filled.
	var filled []uint64
	for _, u := range updates {
		if u.Status == core.OrderStatusFilled {
			filled = append(filled, u.OrderID)
		}
	}
	assert.Equal(t, []uint64{1, 2}, filled)
	release(e, r2)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))

	r := e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 150, core.TIFGTC))
	require.Len(t, r.Trades, 1)
	assert.Equal(t, uint64(100), r.Trades[0].Quantity)
	assert.False(t, r.FullyMatched)
	assert.Equal(t, uint64(50), r.Remaining)

	st := e.GetBookState()
	assert.Equal(t, uint64(10100*px), st.BestBid)
	assert.Equal(t, uint64(50), st.BestBidQty)
	assert.Equal(t, uint64(0), st.BestAsk)
	release(e, r)
}

func TestPriceTimePriorityWithinLevel(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 50, core.TIFGTC))
	e.ProcessOrder(limit(2, core.SideSell, 10100*px, 50, core.TIFGTC))

	r := e.ProcessOrder(limit(3, core.SideBuy, 10100*px, 75, core.TIFGTC))
	require.Len(t, r.Trades, 2)
	assert.Equal(t, uint64(1), r.Trades[0].SellOrderID)
	assert.Equal(t, uint64(50), r.Trades[0].Quantity)
	assert.Equal(t, uint64(2), r.Trades[1].SellOrderID)
	assert.Equal(t, uint64(25), r.Trades[1].Quantity)
	assert.True(t, r.FullyMatched)

	st := e.GetBookState()
	assert.Equal(t, uint64(10100*px), st.BestAsk)
	assert.Equal(t, uint64(25), st.BestAskQty)
	release(e, r)
}

func TestSweepAcrossLevels(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))
	e.ProcessOrder(limit(2, core.SideSell, 10200*px, 100, core.TIFGTC))

	r := e.ProcessOrder(limit(3, core.SideBuy, 10200*px, 150, core.TIFGTC))
	require.Len(t, r.Trades, 2)
	// Trades print at the resting price, best level first.
	assert.Equal(t, uint64(10100*px), r.Trades[0].Price)
	assert.Equal(t, uint64(100), r.Trades[0].Quantity)
	assert.Equal(t, uint64(10200*px), r.Trades[1].Price)
	assert.Equal(t, uint64(50), r.Trades[1].Quantity)
	// The buyer's limit is never violated.
	for _, tr := range r.Trades {
		assert.LessOrEqual(t, tr.Price, uint64(10200*px))
	}
	release(e, r)
}

func TestSellSweepWalksBidsBestFirst(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideBuy, 10200*px, 100, core.TIFGTC))
	e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 100, core.TIFGTC))

	r := e.ProcessOrder(limit(3, core.SideSell, 10100*px, 150, core.TIFGTC))
	require.Len(t, r.Trades, 2)
	assert.Equal(t, uint64(10200*px), r.Trades[0].Price)
	assert.Equal(t, uint64(10100*px), r.Trades[1].Price)
	assert.Equal(t, core.SideSell, r.Trades[0].AggressorSide)
	release(e, r)
}

func TestIOCRemainderDoesNotRest(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))

	var last core.Order
	e.SetOrderUpdateHandler(func(o core.Order) { last = o })

	r := e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 200, core.TIFIOC))
	require.Len(t, r.Trades, 1)
	assert.Equal(t, uint64(100), r.Trades[0].Quantity)
	assert.False(t, r.FullyMatched)

	st := e.GetBookState()
	assert.Equal(t, uint64(0), st.BestBid)
	assert.Equal(t, 0, st.RestingCount)

	// Terminal update for order 2 carries the partial fill and the
	// cancelled remainder.
	assert.Equal(t, uint64(2), last.OrderID)
	assert.Equal(t, core.OrderStatusCancelled, last.Status)
	assert.Equal(t, uint64(100), last.Filled)
	release(e, r)
}

func TestMarketOrderCrossesAnyPriceAndNeverRests(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10500*px, 60, core.TIFGTC))

	o := limit(2, core.SideBuy, 0, 100, core.TIFDay)
	o.Type = core.OrderTypeMarket
	r := e.ProcessOrder(o)
	require.Len(t, r.Trades, 1)
	assert.Equal(t, uint64(10500*px), r.Trades[0].Price)
	assert.Equal(t, uint64(60), r.Trades[0].Quantity)
	assert.Equal(t, 0, e.GetBookState().RestingCount)
	release(e, r)
}

func TestFOKFullyMatchedOrNothing(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))

	// Depth cannot cover 150: no trades, nothing changes.
	r := e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 150, core.TIFFOK))
	assert.Empty(t, r.Trades)
	assert.False(t, r.FullyMatched)
	assert.Equal(t, uint64(150), r.Remaining)
	st := e.GetBookState()
	assert.Equal(t, uint64(10100*px), st.BestAsk)
	assert.Equal(t, uint64(100), st.BestAskQty)

	// Depth covers 80 across two levels: full fill.
	e.ProcessOrder(limit(3, core.SideSell, 10200*px, 100, core.TIFGTC))
	r = e.ProcessOrder(limit(4, core.SideBuy, 10200*px, 180, core.TIFFOK))
	require.Len(t, r.Trades, 2)
	assert.True(t, r.FullyMatched)
	release(e, r)
}

func TestCancelIdempotence(t *testing.T) {
	e := newTestEngine(t)

	var updates []core.Order
	e.SetOrderUpdateHandler(func(o core.Order) { updates = append(updates, o) })

	e.ProcessOrder(limit(1, core.SideBuy, 10000*px, 100, core.TIFGTC))
	assert.Equal(t, uint64(10000*px), e.GetBookState().BestBid)

	assert.True(t, e.CancelOrder(1))
	assert.Equal(t, uint64(0), e.GetBookState().BestBid)
	assert.False(t, e.CancelOrder(1))
	assert.False(t, e.CancelOrder(42))

	var cancelled int
	for _, u := range updates {
		if u.Status == core.OrderStatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestCancelMiddleOfLevelPreservesFIFO(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 10, core.TIFGTC))
	e.ProcessOrder(limit(2, core.SideSell, 10100*px, 20, core.TIFGTC))
	e.ProcessOrder(limit(3, core.SideSell, 10100*px, 30, core.TIFGTC))

	require.True(t, e.CancelOrder(2))
	st := e.GetBookState()
	assert.Equal(t, uint64(40), st.BestAskQty)

	r := e.ProcessOrder(limit(4, core.SideBuy, 10100*px, 40, core.TIFGTC))
	require.Len(t, r.Trades, 2)
	assert.Equal(t, uint64(1), r.Trades[0].SellOrderID)
	assert.Equal(t, uint64(3), r.Trades[1].SellOrderID)
	release(e, r)
}

func TestMonotonicTradeIDs(t *testing.T) {
	e := newTestEngine(t)
	var lastID uint64
	for i := uint64(0); i < 50; i++ {
		e.ProcessOrder(limit(1000+i, core.SideSell, 10100*px, 10, core.TIFGTC))
		r := e.ProcessOrder(limit(2000+i, core.SideBuy, 10100*px, 10, core.TIFGTC))
		require.Len(t, r.Trades, 1)
		assert.Greater(t, r.Trades[0].TradeID, lastID)
		lastID = r.Trades[0].TradeID
		release(e, r)
	}
}

func TestConservationAcrossPartialFills(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))

	var total uint64
	for i := uint64(0); i < 4; i++ {
		r := e.ProcessOrder(limit(10+i, core.SideBuy, 10100*px, 30, core.TIFIOC))
		for _, tr := range r.Trades {
			total += tr.Quantity
		}
		release(e, r)
	}
	// 100 resting: 30+30+30+10, never more than quantity.
	assert.Equal(t, uint64(100), total)
	assert.Equal(t, 0, e.GetBookState().RestingCount)
}

func TestBookConsistencyAtQuiescence(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideBuy, 10000*px, 10, core.TIFGTC))
	e.ProcessOrder(limit(2, core.SideBuy, 10000*px, 20, core.TIFGTC))
	e.ProcessOrder(limit(3, core.SideBuy, 9900*px, 30, core.TIFGTC))
	e.ProcessOrder(limit(4, core.SideSell, 10100*px, 40, core.TIFGTC))

	r := e.ProcessOrder(limit(5, core.SideSell, 10000*px, 15, core.TIFGTC))
	release(e, r)

	st := e.GetBookState()
	assert.Equal(t, uint64(15), st.BestBidQty) // 10+20-15
	assert.Equal(t, uint32(2), st.BidLevels)
	assert.Equal(t, uint32(1), st.AskLevels)
	assert.Equal(t, 3, st.RestingCount)
}

func TestTradeArenaExhaustionStopsMatchStep(t *testing.T) {
	e := newSizedEngine(t, 1024, 16) // tiny trade arena

	for i := uint64(0); i < 20; i++ {
		e.ProcessOrder(limit(100+i, core.SideSell, 10100*px, 1, core.TIFGTC))
	}

	// 20 resting sells but only 16 trade slots: the match stops when the
	// arena drains, emitted trades stand, remainder is not rested.
	r := e.ProcessOrder(limit(1, core.SideBuy, 10100*px, 20, core.TIFGTC))
	assert.True(t, r.Incomplete)
	assert.Len(t, r.Trades, 16)
	assert.Equal(t, uint64(4), r.Remaining)
	assert.Equal(t, 0, len(r.Trades)-16+0) // all 16 slots accounted for

	st := e.GetBookState()
	assert.Equal(t, uint64(0), st.BestBid) // remainder not rested
	assert.Equal(t, uint64(4), st.BestAskQty)

	// Releasing the emitted trades frees the arena for the next match.
	release(e, r)
	r = e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 4, core.TIFGTC))
	assert.False(t, r.Incomplete)
	assert.Len(t, r.Trades, 4)
	release(e, r)
}

func TestOrderArenaExhaustionRejectsRest(t *testing.T) {
	e := newSizedEngine(t, 4, 64)

	for i := uint64(0); i < 4; i++ {
		r := e.ProcessOrder(limit(1+i, core.SideBuy, 10000*px, 10, core.TIFGTC))
		assert.False(t, r.Incomplete)
	}
	// Fifth rest fails: arena full.
	r := e.ProcessOrder(limit(9, core.SideBuy, 10000*px, 10, core.TIFGTC))
	assert.True(t, r.Incomplete)
	assert.Equal(t, 4, e.GetBookState().RestingCount)

	// Cancelling one frees a slot.
	require.True(t, e.CancelOrder(1))
	r = e.ProcessOrder(limit(10, core.SideBuy, 10000*px, 10, core.TIFGTC))
	assert.False(t, r.Incomplete)
}

func TestStatistics(t *testing.T) {
	e := newTestEngine(t)
	e.ProcessOrder(limit(1, core.SideSell, 10100*px, 100, core.TIFGTC))
	r := e.ProcessOrder(limit(2, core.SideBuy, 10100*px, 40, core.TIFIOC))
	release(e, r)

	s := e.GetStats()
	assert.Equal(t, uint64(2), s.OrdersProcessed)
	assert.Equal(t, uint64(1), s.TradesGenerated)
	assert.Equal(t, uint64(40), s.VolumeMatched)
	assert.InDelta(t, 0.5, s.MatchRate, 1e-9)
	assert.InDelta(t, 40.0, s.AvgFillSize, 1e-9)
}

func BenchmarkProcessOrderCross(b *testing.B) {
	clock, _ := timing.NewClock()
	e, _ := NewEngine(Config{OrderEntries: 1 << 16, Trades: 1 << 12}, clock, zap.NewNop())
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		id := uint64(i) * 2
		e.ProcessOrder(limit(id+1, core.SideSell, 10100*px, 10, core.TIFGTC))
		r := e.ProcessOrder(limit(id+2, core.SideBuy, 10100*px, 10, core.TIFGTC))
		for _, t := range r.Trades {
			e.ReleaseTrade(t)
		}
	}
}
