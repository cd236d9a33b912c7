package risk

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/timing"
)

// Gate is the pre-trade risk checkpoint between ingress and the matcher.
// CheckOrder runs on the single ingress consumer; UpdatePosition runs on the
// trade fan-out worker; reads (GetPositionInfo, stats) may come from anywhere.
// The position table sits behind an RWMutex; rate limiting is lock-free.
type Gate struct {
	limits Limits
	log    *zap.Logger
	now    func() uint64

	global *TokenBucket

	symMu      sync.Mutex
	symBuckets map[uint32]*TokenBucket

	cntMu       sync.Mutex
	orderCounts map[uint32]*atomic.Uint32

	mu        sync.RWMutex
	positions map[uint32]*position

	refMu     sync.RWMutex
	refPrices map[uint32]uint64

	checked  atomic.Uint64
	approved atomic.Uint64
	rejected atomic.Uint64
}

// Stats summarizes gate activity since construction.
type Stats struct {
	OrdersChecked  uint64
	OrdersApproved uint64
	OrdersRejected uint64
	ApprovalRate   float64
}

// NewGate builds a gate with a full global bucket timed off clock.
func NewGate(limits Limits, clock *timing.Clock, log *zap.Logger) *Gate {
	return newGate(limits, clock.Now, log)
}

func newGate(limits Limits, now func() uint64, log *zap.Logger) *Gate {
	return &Gate{
		limits:     limits,
		log:        log,
		now:        now,
		global:      NewTokenBucket(limits.GlobalRatePerSec, limits.GlobalBucket, now),
		symBuckets:  make(map[uint32]*TokenBucket),
		orderCounts: make(map[uint32]*atomic.Uint32),
		positions:   make(map[uint32]*position),
		refPrices:   make(map[uint32]uint64),
	}
}

// CheckOrder evaluates every limit against the order, short-circuiting on the
// first failure. Approved orders count toward the symbol's order tally.
func (g *Gate) CheckOrder(order *core.Order) Result {
	g.checked.Add(1)
	res := g.evaluate(order)
	if res == Approved {
		g.approved.Add(1)
		g.symbolOrderCount(order.Symbol).Add(1)
	} else {
		g.rejected.Add(1)
	}
	return res
}

func (g *Gate) evaluate(order *core.Order) Result {
	if !g.global.Allow() {
		return RejectedRateLimit
	}
	if !g.symbolBucket(order.Symbol).Allow() {
		return RejectedRateLimit
	}
	if order.Quantity > g.limits.MaxOrderSize {
		return RejectedOrderSize
	}
	// Market orders carry no limit price to compare against the reference.
	if !order.IsMarket() && !g.withinPriceBand(order.Symbol, order.Price) {
		return RejectedPriceLimit
	}

	delta := int64(order.Quantity)
	if order.Side == core.SideSell {
		delta = -delta
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	pos := g.positions[order.Symbol]

	var net int64
	var notional uint64
	var realized int64
	if pos != nil {
		net, notional, realized = pos.net, pos.notional, pos.realized
	}

	newNet := net + delta
	if absInt64(newNet) > g.limits.MaxPosition {
		return RejectedPositionLimit
	}
	// Notional is only constrained when the order would grow the exposure.
	if (newNet > 0 && delta > 0) || (newNet < 0 && delta < 0) {
		if satAdd(notional, notionalScaled(order.Price, order.Quantity)) > g.limits.MaxNotional {
			return RejectedNotionalLimit
		}
	}
	if realized < -int64(g.limits.MaxLossPerDay) {
		return RejectedLossLimit
	}
	return Approved
}

// UpdatePosition folds an executed trade into the symbol's position. The
// engine is modeled as the aggressor on every trade it sees, so a buy
// aggressor grows the position and a sell aggressor shrinks it.
func (g *Gate) UpdatePosition(trade *core.Trade) {
	delta := int64(trade.Quantity)
	if trade.AggressorSide == core.SideSell {
		delta = -delta
	}

	g.mu.Lock()
	pos := g.positions[trade.Symbol]
	if pos == nil {
		pos = &position{}
		g.positions[trade.Symbol] = pos
	}
	pos.apply(trade.Price, trade.Quantity, delta)
	net, realized := pos.net, pos.realized
	g.mu.Unlock()

	if realized < -int64(g.limits.MaxLossPerDay) {
		g.log.Warn("daily loss limit breached",
			zap.Uint32("symbol", trade.Symbol),
			zap.Int64("position", net),
			zap.String("realized_pnl", core.FormatScaled(realized)))
	}
}

// UpdateReferencePrice sets the last-trade price used by the deviation check.
func (g *Gate) UpdateReferencePrice(symbol uint32, price uint64) {
	g.refMu.Lock()
	g.refPrices[symbol] = price
	g.refMu.Unlock()
}

// GetPositionInfo snapshots one symbol's tracker; unknown symbols are flat.
// OrderCount covers every approved order, filled or not.
func (g *Gate) GetPositionInfo(symbol uint32) PositionInfo {
	info := PositionInfo{Symbol: symbol}
	g.cntMu.Lock()
	if c := g.orderCounts[symbol]; c != nil {
		info.OrderCount = c.Load()
	}
	g.cntMu.Unlock()

	g.mu.RLock()
	defer g.mu.RUnlock()
	if pos := g.positions[symbol]; pos != nil {
		info.Position = pos.net
		info.Notional = pos.notional
		info.RealizedPL = pos.realized
		info.VWAP = pos.vwap
	}
	return info
}

// GetStats reports cumulative check counts.
func (g *Gate) GetStats() Stats {
	s := Stats{
		OrdersChecked:  g.checked.Load(),
		OrdersApproved: g.approved.Load(),
		OrdersRejected: g.rejected.Load(),
	}
	if s.OrdersChecked > 0 {
		s.ApprovalRate = float64(s.OrdersApproved) / float64(s.OrdersChecked)
	}
	return s
}

func (g *Gate) withinPriceBand(symbol uint32, price uint64) bool {
	g.refMu.RLock()
	ref := g.refPrices[symbol]
	g.refMu.RUnlock()
	if ref == 0 {
		return true
	}
	return core.AbsDiff(price, ref) <= g.limits.MaxPriceDeviation
}

func (g *Gate) symbolOrderCount(symbol uint32) *atomic.Uint32 {
	g.cntMu.Lock()
	c := g.orderCounts[symbol]
	if c == nil {
		c = new(atomic.Uint32)
		g.orderCounts[symbol] = c
	}
	g.cntMu.Unlock()
	return c
}

func (g *Gate) symbolBucket(symbol uint32) *TokenBucket {
	g.symMu.Lock()
	b := g.symBuckets[symbol]
	if b == nil {
		b = NewTokenBucket(g.limits.SymbolRatePerSec, g.limits.SymbolBucket, g.now)
		g.symBuckets[symbol] = b
	}
	g.symMu.Unlock()
	return b
}
