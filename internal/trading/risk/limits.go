// Package risk implements the pre-trade risk gate: token-bucket rate limiting,
// order-size, price-deviation, position, notional and loss-limit checks, plus
// the per-symbol position tracking fed back from executed trades.
package risk

import "github.com/nanoexch/engine/internal/core"

// Result classifies the outcome of a pre-trade check. Checks short-circuit,
// so an order failing several limits reports only the first one tripped.
type Result uint8

const (
	Approved Result = iota
	RejectedRateLimit
	RejectedOrderSize
	RejectedPriceLimit
	RejectedPositionLimit
	RejectedNotionalLimit
	RejectedLossLimit
)

// String returns a metric-label-friendly reason.
func (r Result) String() string {
	switch r {
	case Approved:
		return "approved"
	case RejectedRateLimit:
		return "rate_limit"
	case RejectedOrderSize:
		return "order_size"
	case RejectedPriceLimit:
		return "price_limit"
	case RejectedPositionLimit:
		return "position_limit"
	case RejectedNotionalLimit:
		return "notional_limit"
	case RejectedLossLimit:
		return "loss_limit"
	default:
		return "unknown"
	}
}

// Limits carries the gate's thresholds. Monetary fields are fixed-point
// (scaled by core.PriceScale); quantities are base units.
type Limits struct {
	MaxPosition       uint64
	MaxOrderSize      uint64
	MaxNotional       uint64
	MaxLossPerDay     uint64
	MaxPriceDeviation uint64

	GlobalRatePerSec uint32
	GlobalBucket     uint32
	SymbolRatePerSec uint32
	SymbolBucket     uint32
}

// DefaultLimits returns the stock limits applied when no configuration
// override is present.
func DefaultLimits() Limits {
	return Limits{
		MaxPosition:       1_000_000,
		MaxOrderSize:      100_000,
		MaxNotional:       10_000_000 * core.PriceScale,
		MaxLossPerDay:     100_000 * core.PriceScale,
		MaxPriceDeviation: 10 * core.PriceScale,
		GlobalRatePerSec:  1000,
		GlobalBucket:      1000,
		SymbolRatePerSec:  100,
		SymbolBucket:      100,
	}
}
