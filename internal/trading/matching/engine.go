// Package matching implements the price/time priority matching engine. The
// engine is a single-goroutine actor: one worker feeds it approved orders and
// cancels, so its ladders, lookup table and arenas need no locks. Resting
// orders live in a contiguous slot-index arena; level FIFO lists are
// {prev,next} slot links, and cancel-by-id is an O(1) map lookup.
package matching

import (
	"fmt"
	"sync/atomic"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/pool"
	"github.com/nanoexch/engine/internal/core/timing"
	"github.com/nanoexch/engine/pkg/metrics"
)

// entry is one resting order slot. prev/next link the FIFO list of its price
// level; pool.Nil terminates both ends.
type entry struct {
	order core.Order
	prev  uint32
	next  uint32
}

// level is one price bucket: total open quantity and the FIFO list bounds.
type level struct {
	price         uint64
	totalQuantity uint64
	orderCount    uint32
	head          uint32
	tail          uint32
}

// OrderUpdateHandler observes every resting-order status transition plus the
// incoming order's terminal or accepted state.
type OrderUpdateHandler func(core.Order)

// Config sizes the engine's arenas.
type Config struct {
	OrderEntries uint32
	Trades       uint32
}

// MatchResult reports the outcome of one ProcessOrder call. Trades are
// arena-allocated; the caller takes ownership and must hand each one to
// ReleaseTrade once consumed. Incomplete marks an arena-exhaustion stop:
// everything already traded is durable, but remaining liquidity was not
// matched and the remainder was not rested.
type MatchResult struct {
	Trades       []*core.Trade
	FullyMatched bool
	Incomplete   bool
	Remaining    uint64
}

// BookState is the ladder top-of-book view.
type BookState struct {
	BestBid      uint64
	BestAsk      uint64
	BestBidQty   uint64
	BestAskQty   uint64
	BidLevels    uint32
	AskLevels    uint32
	RestingCount int
}

// Stats aggregates the engine counters.
type Stats struct {
	OrdersProcessed uint64
	TradesGenerated uint64
	VolumeMatched   uint64
	MatchRate       float64
	AvgFillSize     float64
}

// Engine matches orders for all symbols on shared ladders keyed by price.
type Engine struct {
	bids *btree.BTreeG[*level] // descending-keyed: forward scan is best-first
	asks *btree.BTreeG[*level] // ascending-keyed

	lookup  map[uint64]uint32
	entries *pool.Pool[entry]
	trades  *pool.Pool[core.Trade]

	clock       *timing.Clock
	log         *zap.Logger
	onUpdate    OrderUpdateHandler
	nextTradeID atomic.Uint64

	ordersProcessed atomic.Uint64
	tradesGenerated atomic.Uint64
	volumeMatched   atomic.Uint64
}

// NewEngine builds an engine with empty ladders. Arena allocation failure is
// fatal at startup.
func NewEngine(cfg Config, clock *timing.Clock, log *zap.Logger) (*Engine, error) {
	entries, err := pool.New[entry](cfg.OrderEntries)
	if err != nil {
		return nil, fmt.Errorf("matching: order arena: %w", err)
	}
	trades, err := pool.New[core.Trade](cfg.Trades)
	if err != nil {
		return nil, fmt.Errorf("matching: trade arena: %w", err)
	}
	e := &Engine{
		bids:    btree.NewBTreeG(func(a, b *level) bool { return a.price > b.price }),
		asks:    btree.NewBTreeG(func(a, b *level) bool { return a.price < b.price }),
		lookup:  make(map[uint64]uint32),
		entries: entries,
		trades:  trades,
		clock:   clock,
		log:     log,
	}
	return e, nil
}

// SetOrderUpdateHandler registers the status observer. Must be set before
// the engine processes orders.
func (e *Engine) SetOrderUpdateHandler(h OrderUpdateHandler) { e.onUpdate = h }

// ReleaseTrade returns a consumed trade to the arena.
func (e *Engine) ReleaseTrade(t *core.Trade) {
	e.trades.Release(e.trades.IndexOf(t))
}

// ProcessOrder matches the incoming order against the opposite side, best
// price outward, FIFO within each level. Trades print at the resting order's
// price. The unmatched remainder rests for Day/GTC limit orders, is dropped
// for IOC and market orders, and for FOK the whole order is a no-op unless
// crossable depth covers it entirely.
func (e *Engine) ProcessOrder(order core.Order) MatchResult {
	e.ordersProcessed.Add(1)
	metrics.OrdersProcessed.WithLabelValues(order.Side.String()).Inc()

	result := MatchResult{}
	remaining := order.OpenQuantity()
	if remaining == 0 {
		result.FullyMatched = true
		e.emitUpdate(order)
		return result
	}

	if order.TIF == core.TIFFOK && e.crossableQuantity(&order) < remaining {
		order.Status = core.OrderStatusCancelled
		result.Remaining = remaining
		e.emitUpdate(order)
		return result
	}

	opposite := e.asks
	if order.Side == core.SideSell {
		opposite = e.bids
	}

	for remaining > 0 {
		lv, ok := opposite.Min()
		if !ok || !crosses(&order, lv.price) {
			break
		}
		remaining = e.matchLevel(&order, lv, remaining, &result)
		if result.Incomplete {
			break
		}
		if lv.orderCount == 0 {
			opposite.Delete(lv)
		}
	}

	order.Filled = order.Quantity - remaining
	result.Remaining = remaining
	result.FullyMatched = remaining == 0

	switch {
	case result.FullyMatched:
		order.Status = core.OrderStatusFilled
	case result.Incomplete:
		// Arena exhausted mid-match: emitted trades stand, the remainder is
		// neither matched nor rested.
		order.Status = core.OrderStatusCancelled
	case order.TIF == core.TIFIOC || order.IsMarket():
		order.Status = core.OrderStatusCancelled
	default:
		if order.Filled > 0 {
			order.Status = core.OrderStatusPartiallyFilled
		} else {
			order.Status = core.OrderStatusIncoming
		}
		if !e.rest(order) {
			result.Incomplete = true
			order.Status = core.OrderStatusCancelled
		}
	}
	e.emitUpdate(order)
	return result
}

// matchLevel consumes the level FIFO until the level or the incoming order
// is exhausted, returning the order's new remaining quantity.
func (e *Engine) matchLevel(order *core.Order, lv *level, remaining uint64, result *MatchResult) uint64 {
	idx := lv.head
	for idx != pool.Nil && remaining > 0 {
		resting := e.entries.At(idx)
		next := resting.next

		qty := resting.order.OpenQuantity()
		if qty > remaining {
			qty = remaining
		}

		trade := e.createTrade(order, &resting.order, lv.price, qty)
		if trade == nil {
			result.Incomplete = true
			return remaining
		}
		result.Trades = append(result.Trades, trade)

		remaining -= qty
		resting.order.Filled += qty
		lv.totalQuantity -= qty
		e.volumeMatched.Add(qty)

		if resting.order.OpenQuantity() == 0 {
			resting.order.Status = core.OrderStatusFilled
			e.emitUpdate(resting.order)
			e.unlink(lv, idx)
			delete(e.lookup, resting.order.OrderID)
			e.entries.Release(idx)
		} else {
			resting.order.Status = core.OrderStatusPartiallyFilled
			e.emitUpdate(resting.order)
		}
		idx = next
	}
	return remaining
}

// crossableQuantity sums open quantity on the opposite side at crossing
// prices, early-exiting once it covers the order. Used by the FOK pre-scan.
func (e *Engine) crossableQuantity(order *core.Order) uint64 {
	opposite := e.asks
	if order.Side == core.SideSell {
		opposite = e.bids
	}
	var total uint64
	opposite.Scan(func(lv *level) bool {
		if !crosses(order, lv.price) {
			return false
		}
		total += lv.totalQuantity
		return total < order.OpenQuantity()
	})
	return total
}

// crosses reports whether the incoming order trades at the opposite level's
// price. Market orders cross at any price.
func crosses(order *core.Order, levelPrice uint64) bool {
	if order.IsMarket() {
		return true
	}
	if order.Side == core.SideBuy {
		return levelPrice <= order.Price
	}
	return levelPrice >= order.Price
}

// rest parks the order's remainder on its own side. False means the entry
// arena is exhausted.
func (e *Engine) rest(order core.Order) bool {
	idx, ok := e.entries.Acquire()
	if !ok {
		e.log.Warn("order arena exhausted, remainder dropped",
			zap.Uint64("order_id", order.OrderID),
			zap.Uint64("remaining", order.OpenQuantity()))
		return false
	}
	en := e.entries.At(idx)
	en.order = order
	en.prev = pool.Nil
	en.next = pool.Nil

	side := e.bids
	if order.Side == core.SideSell {
		side = e.asks
	}
	probe := &level{price: order.Price}
	lv, ok := side.Get(probe)
	if !ok {
		lv = &level{price: order.Price, head: pool.Nil, tail: pool.Nil}
		side.Set(lv)
	}
	e.append(lv, idx)
	lv.totalQuantity += order.OpenQuantity()
	e.lookup[order.OrderID] = idx
	return true
}

// append adds the slot at the level's FIFO tail.
func (e *Engine) append(lv *level, idx uint32) {
	en := e.entries.At(idx)
	en.prev = lv.tail
	en.next = pool.Nil
	if lv.tail == pool.Nil {
		lv.head = idx
	} else {
		e.entries.At(lv.tail).next = idx
	}
	lv.tail = idx
	lv.orderCount++
}

// unlink removes the slot from its level's FIFO list.
func (e *Engine) unlink(lv *level, idx uint32) {
	en := e.entries.At(idx)
	if en.prev != pool.Nil {
		e.entries.At(en.prev).next = en.next
	} else {
		lv.head = en.next
	}
	if en.next != pool.Nil {
		e.entries.At(en.next).prev = en.prev
	} else {
		lv.tail = en.prev
	}
	lv.orderCount--
}

// CancelOrder removes a resting order. Unknown ids return false with no
// state change; cancelling twice yields true then false.
func (e *Engine) CancelOrder(orderID uint64) bool {
	idx, ok := e.lookup[orderID]
	if !ok {
		return false
	}
	en := e.entries.At(idx)

	side := e.bids
	if en.order.Side == core.SideSell {
		side = e.asks
	}
	lv, ok := side.Get(&level{price: en.order.Price})
	if ok {
		e.unlink(lv, idx)
		lv.totalQuantity -= en.order.OpenQuantity()
		if lv.orderCount == 0 {
			side.Delete(lv)
		}
	}

	en.order.Status = core.OrderStatusCancelled
	e.emitUpdate(en.order)
	delete(e.lookup, orderID)
	e.entries.Release(idx)
	return true
}

// createTrade allocates and fills one trade. Nil means the trade arena is
// exhausted and the match step must stop.
func (e *Engine) createTrade(incoming, resting *core.Order, price, qty uint64) *core.Trade {
	idx, ok := e.trades.Acquire()
	if !ok {
		e.log.Warn("trade arena exhausted, match step abandoned",
			zap.Uint64("order_id", incoming.OrderID))
		return nil
	}
	t := e.trades.At(idx)

	buyID, sellID := incoming.OrderID, resting.OrderID
	if incoming.Side == core.SideSell {
		buyID, sellID = resting.OrderID, incoming.OrderID
	}
	aggressor := core.SideSell
	if buyTs, sellTs := e.orderTimestamps(incoming, resting); buyTs > sellTs {
		aggressor = core.SideBuy
	}

	*t = core.Trade{
		TradeID:       e.nextTradeID.Add(1),
		BuyOrderID:    buyID,
		SellOrderID:   sellID,
		Symbol:        incoming.Symbol,
		Price:         price,
		Quantity:      qty,
		Timestamp:     e.clock.Now(),
		AggressorSide: aggressor,
	}
	e.tradesGenerated.Add(1)
	metrics.TradesExecuted.Inc()
	return t
}

// orderTimestamps returns the (buy, sell) submission timestamps of the pair.
func (e *Engine) orderTimestamps(incoming, resting *core.Order) (uint64, uint64) {
	if incoming.Side == core.SideBuy {
		return incoming.Timestamp, resting.Timestamp
	}
	return resting.Timestamp, incoming.Timestamp
}

func (e *Engine) emitUpdate(order core.Order) {
	if e.onUpdate != nil {
		e.onUpdate(order)
	}
}

// GetBookState reads the ladder tops and level counts.
func (e *Engine) GetBookState() BookState {
	st := BookState{RestingCount: len(e.lookup)}
	if lv, ok := e.bids.Min(); ok {
		st.BestBid = lv.price
		st.BestBidQty = lv.totalQuantity
	}
	if lv, ok := e.asks.Min(); ok {
		st.BestAsk = lv.price
		st.BestAskQty = lv.totalQuantity
	}
	st.BidLevels = uint32(e.bids.Len())
	st.AskLevels = uint32(e.asks.Len())
	return st
}

// GetStats snapshots the engine counters.
func (e *Engine) GetStats() Stats {
	orders := e.ordersProcessed.Load()
	trades := e.tradesGenerated.Load()
	volume := e.volumeMatched.Load()
	s := Stats{
		OrdersProcessed: orders,
		TradesGenerated: trades,
		VolumeMatched:   volume,
	}
	if orders > 0 {
		s.MatchRate = float64(trades) / float64(orders)
	}
	if trades > 0 {
		s.AvgFillSize = float64(volume) / float64(trades)
	}
	return s
}

// TradeArenaStats exposes the trade arena counters for pool gauges.
func (e *Engine) TradeArenaStats() pool.Stats { return e.trades.GetStats() }

// OrderArenaStats exposes the entry arena counters for pool gauges.
func (e *Engine) OrderArenaStats() pool.Stats { return e.entries.GetStats() }
