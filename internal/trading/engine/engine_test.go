package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/infrastructure/config"
	"github.com/nanoexch/engine/internal/marketdata"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
	"github.com/nanoexch/engine/pkg/logger"
	"github.com/nanoexch/engine/pkg/metrics"
)

func marketdataIncremental(symbol uint32, price, qty uint64, side core.Side) []byte {
	return marketdata.EncodeIncremental(marketdata.Incremental{
		SymbolID: symbol, Price: price, Quantity: qty, Side: side,
	})
}

const px = core.PriceScale

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	// Generous rate limits so throughput tests never trip them.
	cfg.Risk.GlobalRatePerSec, cfg.Risk.GlobalBucket = 1_000_000, 1_000_000
	cfg.Risk.SymbolRatePerSec, cfg.Risk.SymbolBucket = 1_000_000, 1_000_000
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func startEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

var orderSeq atomic.Uint64

func order(side core.Side, price, qty uint64) core.Order {
	return core.Order{
		OrderID:   orderSeq.Add(1),
		Symbol:    1,
		Side:      side,
		Type:      core.OrderTypeLimit,
		TIF:       core.TIFGTC,
		Price:     price,
		Quantity:  qty,
		Timestamp: uint64(time.Now().UnixNano()),
	}
}

func TestOrdersFlowThroughPipeline(t *testing.T) {
	e := startEngine(t, testConfig(t))
	sub := NewChannelSubscriber(64)
	e.Subscribe(sub)

	require.True(t, e.SubmitOrder(order(core.SideSell, 100*px, 50)))
	require.True(t, e.SubmitOrder(order(core.SideBuy, 100*px, 50)))

	var trade core.Trade
	select {
	case trade = <-sub.Trades:
	case <-time.After(2 * time.Second):
		t.Fatal("no trade delivered")
	}
	assert.Equal(t, uint64(100*px), trade.Price)
	assert.Equal(t, uint64(50), trade.Quantity)

	waitFor(t, func() bool { return e.GetStats().TradesExecuted == 1 })
	s := e.GetStats()
	assert.Equal(t, uint64(2), s.OrdersReceived)
	assert.Equal(t, uint64(2), s.OrdersProcessed)
	assert.Equal(t, uint64(0), s.OrdersRejected)

	// The fan-out updated the position and reference price.
	info := e.GetPositionInfo(1)
	assert.Equal(t, int64(50), info.Position)
}

func TestPrometheusCountersMatchEngineStats(t *testing.T) {
	tradesBefore := testutil.ToFloat64(metrics.TradesExecuted)
	buysBefore := testutil.ToFloat64(metrics.OrdersProcessed.WithLabelValues("BUY"))
	sellsBefore := testutil.ToFloat64(metrics.OrdersProcessed.WithLabelValues("SELL"))

	e := startEngine(t, testConfig(t))
	require.True(t, e.SubmitOrder(order(core.SideSell, 100*px, 50)))
	require.True(t, e.SubmitOrder(order(core.SideBuy, 100*px, 50)))
	waitFor(t, func() bool { return e.GetStats().TradesExecuted == 1 })

	// One crossing pair: each collector advances by exactly the event count.
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TradesExecuted)-tradesBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OrdersProcessed.WithLabelValues("BUY"))-buysBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OrdersProcessed.WithLabelValues("SELL"))-sellsBefore)
}

func TestRiskRejectionEmitsOrderUpdate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.MaxOrderSize = 100
	require.NoError(t, config.Validate(cfg))
	e := startEngine(t, cfg)
	sub := NewChannelSubscriber(16)
	e.Subscribe(sub)

	require.True(t, e.SubmitOrder(order(core.SideBuy, 100*px, 500)))

	select {
	case upd := <-sub.Updates:
		assert.Equal(t, core.OrderStatusRejected, upd.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection update delivered")
	}
	waitFor(t, func() bool { return e.GetStats().OrdersRejected == 1 })
	assert.Equal(t, uint64(0), e.GetStats().OrdersProcessed)
}

func TestApprovedQueueFullRejectsWithBackpressureReason(t *testing.T) {
	e, err := New(testConfig(t), logger.NewNop())
	require.NoError(t, err)
	sub := NewChannelSubscriber(4)
	e.Subscribe(sub)

	// Saturate the approved ring as a stalled matcher would, then run the
	// risk stage alone so the overflow path is what rejects the order.
	for e.approved.TryPush(ingressMsg{kind: cmdSubmit}) {
	}
	before := testutil.ToFloat64(metrics.OrdersRejected.WithLabelValues(reasonQueueFull))

	e.running.Store(true)
	done := make(chan struct{})
	go func() { defer close(done); e.ingressLoop() }()

	require.True(t, e.SubmitOrder(order(core.SideBuy, 100*px, 10)))
	select {
	case upd := <-sub.Updates:
		assert.Equal(t, core.OrderStatusRejected, upd.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection update delivered")
	}
	e.running.Store(false)
	<-done

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OrdersRejected.WithLabelValues(reasonQueueFull))-before)
	assert.Equal(t, uint64(1), e.GetStats().OrdersRejected)
}

func TestCancelOrderRendezvous(t *testing.T) {
	e := startEngine(t, testConfig(t))

	resting := order(core.SideBuy, 100*px, 50)
	require.True(t, e.SubmitOrder(resting))
	waitFor(t, func() bool { return e.GetStats().OrdersProcessed == 1 })

	assert.True(t, e.CancelOrder(resting.OrderID))
	assert.False(t, e.CancelOrder(resting.OrderID))
	assert.False(t, e.CancelOrder(999_999))
}

func TestMarketDataReachesSubscribers(t *testing.T) {
	e := startEngine(t, testConfig(t))
	sub := NewChannelSubscriber(64)
	e.Subscribe(sub)

	e.Gateway().ProcessRawMessage(marketdataIncremental(1, 100*px, 500, core.SideBuy))

	select {
	case tk := <-sub.Ticks:
		assert.Equal(t, uint32(1), tk.Symbol)
		assert.Equal(t, uint64(100*px), tk.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}

	book := e.Book(1)
	require.NotNil(t, book)
	waitFor(t, func() bool { return book.BestBid() == 100*px })
}

func TestSubscriberHandleRemove(t *testing.T) {
	e := startEngine(t, testConfig(t))
	sub := NewChannelSubscriber(64)
	h := e.Subscribe(sub)
	h.Remove()
	h.Remove() // second removal is harmless

	require.True(t, e.SubmitOrder(order(core.SideSell, 100*px, 10)))
	require.True(t, e.SubmitOrder(order(core.SideBuy, 100*px, 10)))
	waitFor(t, func() bool { return e.GetStats().TradesExecuted == 1 })

	select {
	case <-sub.Trades:
		t.Fatal("removed subscriber still receives events")
	default:
	}
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, e.Start())
	assert.ErrorIs(t, e.Start(), ErrAlreadyRunning)

	e.Stop()
	e.Stop() // idempotent
	assert.Error(t, e.Start())
	assert.False(t, e.CancelOrder(1))
}

func TestAddStrategyAfterStartFails(t *testing.T) {
	e := startEngine(t, testConfig(t))
	err := e.AddStrategy(&stubStrategy{symbol: 1})
	assert.ErrorIs(t, err, ErrRunning)
}

func TestStrategyReceivesTradesAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, logger.NewNop())
	require.NoError(t, err)

	st := &stubStrategy{symbol: 1}
	require.NoError(t, e.AddStrategy(st))
	require.NoError(t, e.Start())

	require.True(t, e.SubmitOrder(order(core.SideSell, 100*px, 10)))
	require.True(t, e.SubmitOrder(order(core.SideBuy, 100*px, 10)))
	waitFor(t, func() bool { return st.trades.Load() == 1 })

	e.Stop()
	assert.True(t, st.shutdown.Load())
}

// stubStrategy records deliveries for lifecycle assertions.
type stubStrategy struct {
	symbol   uint32
	ticks    atomic.Uint64
	trades   atomic.Uint64
	snaps    atomic.Uint64
	shutdown atomic.Bool
}

func (s *stubStrategy) Symbol() uint32                    { return s.symbol }
func (s *stubStrategy) Enabled() bool                     { return true }
func (s *stubStrategy) OnMarketData(core.Tick)            { s.ticks.Add(1) }
func (s *stubStrategy) OnTrade(core.Trade)                { s.trades.Add(1) }
func (s *stubStrategy) OnBookSnapshot(orderbook.Snapshot) { s.snaps.Add(1) }
func (s *stubStrategy) ProcessSignals()                   {}
func (s *stubStrategy) Shutdown()                         { s.shutdown.Store(true) }
