package strategy

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/timing"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
)

// ArbitrageParams tune the two-venue strategy.
type ArbitrageParams struct {
	MinProfitBps float64       // minimum edge before acting
	MaxPosition  uint64        // absolute position cap
	MaxHoldTime  time.Duration // informational; unwinding is the risk layer's job
}

// DefaultArbitrageParams mirror the stock tuning.
func DefaultArbitrageParams() ArbitrageParams {
	return ArbitrageParams{
		MinProfitBps: 10.0,
		MaxPosition:  500,
		MaxHoldTime:  5 * time.Millisecond,
	}
}

// Arbitrage watches the same instrument quoted on two venues and fires a
// paired buy/sell when one venue's bid crosses the other's ask by at least
// MinProfitBps. Quotes arrive via SetVenueAQuote/SetVenueBQuote from any
// goroutine; the edge is evaluated on the strategy goroutine inside
// ProcessSignals, which keeps order submission and position bookkeeping
// single-threaded.
type Arbitrage struct {
	*Base
	params ArbitrageParams

	aBid, aAsk  atomic.Uint64
	bBid, bAsk  atomic.Uint64
	quotesDirty atomic.Bool

	opportunities atomic.Uint64
}

// NewArbitrage builds a two-venue arbitrage strategy for one symbol.
func NewArbitrage(symbol uint32, params ArbitrageParams, inbox uint64, ids *atomic.Uint64, clock *timing.Clock, log *slog.Logger) (*Arbitrage, error) {
	base, err := NewBase(symbol, inbox, ids, clock, log.With("strategy", "arbitrage", "symbol", symbol))
	if err != nil {
		return nil, err
	}
	return &Arbitrage{Base: base, params: params}, nil
}

// SetVenueAQuote records venue A's top of book for the next edge check.
func (s *Arbitrage) SetVenueAQuote(bid, ask uint64) {
	s.aBid.Store(bid)
	s.aAsk.Store(ask)
	s.quotesDirty.Store(true)
}

// SetVenueBQuote records venue B's top of book for the next edge check.
func (s *Arbitrage) SetVenueBQuote(bid, ask uint64) {
	s.bBid.Store(bid)
	s.bAsk.Store(ask)
	s.quotesDirty.Store(true)
}

// Opportunities is the number of profitable crossings acted on.
func (s *Arbitrage) Opportunities() uint64 { return s.opportunities.Load() }

// ProcessSignals drains the inboxes, then evaluates any quote updates that
// arrived since the previous pass.
func (s *Arbitrage) ProcessSignals() {
	if !s.Enabled() {
		return
	}
	s.drain(s.processTick, s.applyTrade, func(orderbook.Snapshot) {})
	if s.quotesDirty.Swap(false) {
		s.checkOpportunity()
	}
}

// Shutdown disables the strategy.
func (s *Arbitrage) Shutdown() {
	s.Disable()
	s.log.Info("strategy shut down",
		"signals", s.SignalCount(), "opportunities", s.Opportunities(), "position", s.Position())
}

func (s *Arbitrage) processTick(tick core.Tick) {
	s.lastPrice = tick.Price
}

func (s *Arbitrage) checkOpportunity() {
	aBid, aAsk := s.aBid.Load(), s.aAsk.Load()
	bBid, bAsk := s.bBid.Load(), s.bAsk.Load()
	if aBid == 0 || aAsk == 0 || bBid == 0 || bAsk == 0 {
		return
	}

	switch {
	case aBid > bAsk:
		// Buy on B, sell on A.
		if edgeBps(aBid, bAsk) >= s.params.MinProfitBps {
			s.executeArbitrage(bAsk, aBid)
		}
	case bBid > aAsk:
		// Buy on A, sell on B.
		if edgeBps(bBid, aAsk) >= s.params.MinProfitBps {
			s.executeArbitrage(aAsk, bBid)
		}
	}
}

func (s *Arbitrage) executeArbitrage(buyPrice, sellPrice uint64) {
	pos := s.position
	if pos < 0 {
		pos = -pos
	}
	if uint64(pos) >= s.params.MaxPosition {
		return
	}
	size := s.params.MaxPosition - uint64(pos)
	if size > s.params.MaxPosition {
		size = s.params.MaxPosition
	}
	s.opportunities.Add(1)
	s.submitOrder(core.SideBuy, buyPrice, size, core.OrderTypeLimit)
	s.submitOrder(core.SideSell, sellPrice, size, core.OrderTypeLimit)
}

// edgeBps is the profit of selling at high after buying at low, in basis
// points of the purchase price.
func edgeBps(high, low uint64) float64 {
	return priceToFloat(high-low) / priceToFloat(low) * 10_000
}
