package risk

import (
	"math"
	"math/bits"

	"github.com/nanoexch/engine/internal/core"
)

// position is the per-symbol book-keeping behind the gate's position table.
// All fields are guarded by the gate's mutex.
type position struct {
	net      int64  // signed base quantity, long > 0
	notional uint64 // open notional, fixed-point
	realized int64  // realized PnL, fixed-point
	vwap     uint64 // entry VWAP of the open position
	volume   uint64 // volume backing the current VWAP
}

// PositionInfo is the read-only snapshot handed to callers.
type PositionInfo struct {
	Symbol     uint32
	Position   int64
	Notional   uint64
	RealizedPL int64
	VWAP       uint64
	OrderCount uint32
}

// apply folds one fill into the tracker. delta is +qty for a buy, -qty for a
// sell. A fill against an opposing position realizes PnL against the entry
// VWAP on the reduced quantity; open notional scales down by the surviving
// fraction of the position (integer ratio, rounding toward zero). A fill that
// crosses through flat closes the old position first and opens the remainder
// fresh at the fill price.
func (p *position) apply(price uint64, qty uint64, delta int64) {
	old := p.net
	if old == 0 || (old > 0) == (delta > 0) {
		p.expand(price, qty)
		p.net = old + delta
		return
	}

	oldAbs := absInt64(old)
	reduce := qty
	if reduce > oldAbs {
		reduce = oldAbs
	}
	p.realized += pnlChange(old, p.vwap, price, reduce)

	remaining := oldAbs - reduce
	if remaining == 0 {
		p.notional = 0
		p.vwap = 0
		p.volume = 0
	} else {
		p.notional = core.MulDiv(p.notional, remaining, oldAbs)
	}
	p.net = old + delta

	if flip := qty - reduce; flip > 0 {
		p.expand(price, flip)
	}
}

// expand grows the open position by qty at price: notional accrues the fill
// notional and the VWAP folds the fill in incrementally.
func (p *position) expand(price, qty uint64) {
	p.notional = satAdd(p.notional, notionalScaled(price, qty))
	newVol := p.volume + qty
	p.vwap = core.MulDiv(p.vwap, p.volume, newVol) + core.MulDiv(price, qty, newVol)
	p.volume = newVol
}

// pnlChange is (exit-entry)*qty for longs, (entry-exit)*qty for shorts, in
// fixed-point. A zero entry VWAP means no usable basis; no PnL is booked.
func pnlChange(oldNet int64, entry, exit uint64, qty uint64) int64 {
	if entry == 0 {
		return 0
	}
	gain := notionalScaled(core.AbsDiff(exit, entry), qty)
	if gain > math.MaxInt64 {
		gain = math.MaxInt64
	}
	profitable := exit > entry
	if oldNet < 0 {
		profitable = exit < entry
	}
	if profitable {
		return int64(gain)
	}
	return -int64(gain)
}

// notionalScaled is price*qty: a fixed-point price times a whole quantity
// yields a fixed-point notional. Saturates at MaxUint64.
func notionalScaled(price, qty uint64) uint64 {
	hi, lo := bits.Mul64(price, qty)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

func satAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
