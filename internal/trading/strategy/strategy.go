// Package strategy defines the trading-strategy contract and two reference
// implementations. Strategies receive market events through lock-free inboxes
// filled by the pipeline workers and do their thinking inside ProcessSignals,
// which the engine's strategy worker polls.
package strategy

import (
	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
)

// Strategy is the engine-facing contract. OnMarketData, OnTrade and
// OnBookSnapshot are called from pipeline workers and must not block;
// ProcessSignals and Shutdown are called from the strategy worker only.
type Strategy interface {
	Symbol() uint32
	Enabled() bool
	OnMarketData(tick core.Tick)
	OnTrade(trade core.Trade)
	OnBookSnapshot(snap orderbook.Snapshot)
	ProcessSignals()
	Shutdown()
}

// Signal is a strategy's trading decision for one evaluation.
type Signal uint8

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "none"
	}
}

// OrderFunc submits an order into the engine; false means the inbound queue
// rejected it.
type OrderFunc func(core.Order) bool

// CancelFunc requests a cancel by id.
type CancelFunc func(orderID uint64) bool

func priceToFloat(p uint64) float64 {
	return float64(p) / float64(core.PriceScale)
}
