package strategy

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/queue"
	"github.com/nanoexch/engine/internal/core/timing"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
)

// Base carries the plumbing shared by every strategy: one SPSC inbox per
// event kind, order/cancel callbacks, position and signal bookkeeping.
// Implementations embed it and drain the inboxes from ProcessSignals via
// drain. Each inbox has exactly one producer: ticks arrive from the symbol's
// book worker, trades from the fan-out worker, snapshots from the gateway
// intake worker.
type Base struct {
	symbol uint32
	clock  *timing.Clock
	log    *slog.Logger

	ticks     *queue.SPSC[core.Tick]
	trades    *queue.SPSC[core.Trade]
	snapshots *queue.SPSC[orderbook.Snapshot]

	enabled atomic.Bool
	ids     *atomic.Uint64

	// Owned by the strategy goroutine.
	position    int64
	lastPrice   uint64
	signalCount uint64
	lastSignal  uint64

	submitFn OrderFunc
	cancelFn CancelFunc

	tickDrops  atomic.Uint64
	tradeDrops atomic.Uint64
	snapDrops  atomic.Uint64
}

// NewBase builds an enabled base. ids is the shared order-id source; inbox
// is the tick-queue capacity (power of two, >= 8); trades and snapshots get
// proportionally smaller queues.
func NewBase(symbol uint32, inbox uint64, ids *atomic.Uint64, clock *timing.Clock, log *slog.Logger) (*Base, error) {
	if inbox < 8 {
		return nil, fmt.Errorf("strategy: inbox capacity %d too small", inbox)
	}
	ticks, err := queue.NewSPSC[core.Tick](inbox)
	if err != nil {
		return nil, fmt.Errorf("strategy: tick inbox: %w", err)
	}
	trades, err := queue.NewSPSC[core.Trade](inbox / 4)
	if err != nil {
		return nil, fmt.Errorf("strategy: trade inbox: %w", err)
	}
	snaps, err := queue.NewSPSC[orderbook.Snapshot](inbox / 8)
	if err != nil {
		return nil, fmt.Errorf("strategy: snapshot inbox: %w", err)
	}
	b := &Base{
		symbol:    symbol,
		clock:     clock,
		log:       log,
		ticks:     ticks,
		trades:    trades,
		snapshots: snaps,
		ids:       ids,
	}
	b.enabled.Store(true)
	return b, nil
}

// SetOrderFunc wires order submission; must be set before the engine starts.
func (b *Base) SetOrderFunc(fn OrderFunc) { b.submitFn = fn }

// SetCancelFunc wires cancel requests.
func (b *Base) SetCancelFunc(fn CancelFunc) { b.cancelFn = fn }

// Symbol is the instrument this strategy trades.
func (b *Base) Symbol() uint32 { return b.symbol }

// Enabled reports whether event intake and signal processing are active.
func (b *Base) Enabled() bool { return b.enabled.Load() }

// Enable resumes the strategy.
func (b *Base) Enable() { b.enabled.Store(true) }

// Disable pauses intake and signal generation without tearing down state.
func (b *Base) Disable() { b.enabled.Store(false) }

// Position is the strategy's own net position estimate.
func (b *Base) Position() int64 { return b.position }

// SignalCount is the number of orders this strategy has submitted.
func (b *Base) SignalCount() uint64 { return b.signalCount }

// OnMarketData enqueues a tick; full inbox drops it and counts the drop.
func (b *Base) OnMarketData(tick core.Tick) {
	if !b.enabled.Load() {
		return
	}
	if !b.ticks.TryPush(tick) {
		if b.tickDrops.Add(1) == 1 {
			b.log.Warn("tick inbox overflow", "symbol", b.symbol)
		}
	}
}

// OnTrade enqueues an executed trade.
func (b *Base) OnTrade(trade core.Trade) {
	if !b.trades.TryPush(trade) {
		b.tradeDrops.Add(1)
	}
}

// OnBookSnapshot enqueues a book snapshot; snapshots are droppable.
func (b *Base) OnBookSnapshot(snap orderbook.Snapshot) {
	if !b.snapshots.TryPush(snap) {
		b.snapDrops.Add(1)
	}
}

// drain empties the inboxes in tick, trade, snapshot order, invoking the
// implementation's processors. Called from ProcessSignals.
func (b *Base) drain(onTick func(core.Tick), onTrade func(core.Trade), onSnap func(orderbook.Snapshot)) {
	for {
		tick, ok := b.ticks.TryPop()
		if !ok {
			break
		}
		onTick(tick)
	}
	for {
		trade, ok := b.trades.TryPop()
		if !ok {
			break
		}
		onTrade(trade)
	}
	for {
		snap, ok := b.snapshots.TryPop()
		if !ok {
			break
		}
		onSnap(snap)
	}
}

// submitOrder builds and submits an IOC limit (or market) order at the
// strategy's symbol and records the signal.
func (b *Base) submitOrder(side core.Side, price, qty uint64, typ core.OrderType) {
	if b.submitFn == nil {
		return
	}
	now := b.clock.Now()
	order := core.Order{
		OrderID:   b.ids.Add(1),
		Symbol:    b.symbol,
		Side:      side,
		Type:      typ,
		TIF:       core.TIFIOC,
		Price:     price,
		Quantity:  qty,
		Timestamp: now,
	}
	if !b.submitFn(order) {
		b.log.Warn("order submission rejected", "symbol", b.symbol, "side", side.String())
		return
	}
	b.signalCount++
	b.lastSignal = now
}

// cancelOrder forwards a cancel request.
func (b *Base) cancelOrder(orderID uint64) {
	if b.cancelFn != nil {
		b.cancelFn(orderID)
	}
}

// applyTrade updates the position estimate from a fill, assuming the
// strategy is the aggressor.
func (b *Base) applyTrade(trade core.Trade) {
	if trade.Symbol != b.symbol {
		return
	}
	if trade.AggressorSide == core.SideBuy {
		b.position += int64(trade.Quantity)
	} else {
		b.position -= int64(trade.Quantity)
	}
}

// sinceLastSignal is the time elapsed since the last submitted order.
func (b *Base) sinceLastSignal() uint64 {
	return b.clock.Now() - b.lastSignal
}
