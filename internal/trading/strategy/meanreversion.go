package strategy

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/queue"
	"github.com/nanoexch/engine/internal/core/timing"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
)

// MeanReversionParams tune the z-score strategy.
type MeanReversionParams struct {
	Lookback          int           // ticks in the rolling window
	EntryThreshold    float64       // |z| to open a position
	ExitThreshold     float64       // |z| to close it
	MaxPosition       uint64        // absolute position cap
	BaseSize          uint64        // order size per signal
	MinSpreadBps      float64       // skip trading through tighter spreads
	MinSignalInterval time.Duration // throttle between submissions
}

// DefaultMeanReversionParams mirror the stock tuning.
func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		Lookback:          20,
		EntryThreshold:    2.0,
		ExitThreshold:     0.5,
		MaxPosition:       1000,
		BaseSize:          100,
		MinSpreadBps:      5.0,
		MinSignalInterval: time.Millisecond,
	}
}

// historyCap bounds the rolling price window.
const historyCap = 128

// MeanReversion trades deviations from a rolling mean: buy when the price
// sits entryThreshold standard deviations below it, sell when above, and
// flatten once the z-score reverts inside exitThreshold.
type MeanReversion struct {
	*Base
	params  MeanReversionParams
	history *queue.Ring[uint64]

	mean   float64
	stddev float64

	// Updated from snapshots; trading pauses while the spread is too tight.
	spreadTooTight bool
}

// NewMeanReversion builds a mean-reversion strategy for one symbol.
func NewMeanReversion(symbol uint32, params MeanReversionParams, inbox uint64, ids *atomic.Uint64, clock *timing.Clock, log *slog.Logger) (*MeanReversion, error) {
	base, err := NewBase(symbol, inbox, ids, clock, log.With("strategy", "mean_reversion", "symbol", symbol))
	if err != nil {
		return nil, err
	}
	history, err := queue.NewRing[uint64](historyCap)
	if err != nil {
		return nil, err
	}
	return &MeanReversion{Base: base, params: params, history: history}, nil
}

// ProcessSignals drains the inboxes and evaluates the model.
func (s *MeanReversion) ProcessSignals() {
	if !s.Enabled() {
		return
	}
	s.drain(s.processTick, s.applyTrade, s.processSnapshot)
}

// Shutdown flattens nothing; positions are left to the risk layer.
func (s *MeanReversion) Shutdown() {
	s.Disable()
	s.log.Info("strategy shut down",
		"signals", s.SignalCount(), "position", s.Position())
}

func (s *MeanReversion) processTick(tick core.Tick) {
	s.lastPrice = tick.Price
	s.history.Push(tick.Price)
	if s.history.Len() < uint64(s.params.Lookback) {
		return
	}
	s.updateStatistics()
	if s.stddev <= 0 {
		return
	}
	z := (priceToFloat(tick.Price) - s.mean) / s.stddev
	if sig := s.generateSignal(z); sig != SignalNone {
		s.executeSignal(sig, tick.Price)
	}
}

func (s *MeanReversion) processSnapshot(snap orderbook.Snapshot) {
	if snap.BestBid == 0 || snap.BestAsk == 0 || snap.BestAsk <= snap.BestBid {
		return
	}
	spread := priceToFloat(snap.BestAsk - snap.BestBid)
	mid := priceToFloat(snap.BestBid)/2 + priceToFloat(snap.BestAsk)/2
	if mid <= 0 {
		return
	}
	s.spreadTooTight = spread/mid*10_000 < s.params.MinSpreadBps
}

// updateStatistics recomputes mean and standard deviation over the most
// recent Lookback prices.
func (s *MeanReversion) updateStatistics() {
	n := uint64(s.params.Lookback)
	if have := s.history.Len(); have < n {
		n = have
	}
	var sum float64
	for i := uint64(0); i < n; i++ {
		p, _ := s.history.At(i)
		sum += priceToFloat(p)
	}
	mean := sum / float64(n)

	var varSum float64
	for i := uint64(0); i < n; i++ {
		p, _ := s.history.At(i)
		d := priceToFloat(p) - mean
		varSum += d * d
	}
	s.mean = mean
	s.stddev = math.Sqrt(varSum / float64(n))
}

func (s *MeanReversion) generateSignal(z float64) Signal {
	if s.spreadTooTight {
		return SignalNone
	}
	if s.sinceLastSignal() < uint64(s.params.MinSignalInterval) {
		return SignalNone
	}
	switch {
	case s.position == 0:
		if z < -s.params.EntryThreshold {
			return SignalBuy
		}
		if z > s.params.EntryThreshold {
			return SignalSell
		}
	case s.position > 0:
		// Long: exit once the dip has reverted.
		if z > -s.params.ExitThreshold {
			return SignalSell
		}
	default:
		// Short: exit once the spike has reverted.
		if z < s.params.ExitThreshold {
			return SignalBuy
		}
	}
	return SignalNone
}

func (s *MeanReversion) executeSignal(sig Signal, price uint64) {
	size := s.orderSize(sig)
	if size == 0 {
		return
	}
	switch sig {
	case SignalBuy:
		s.submitOrder(core.SideBuy, price, size, core.OrderTypeLimit)
	case SignalSell:
		s.submitOrder(core.SideSell, price, size, core.OrderTypeLimit)
	}
}

// orderSize caps BaseSize so the resulting position never exceeds
// MaxPosition on either side.
func (s *MeanReversion) orderSize(sig Signal) uint64 {
	maxPos := int64(s.params.MaxPosition)
	switch sig {
	case SignalBuy:
		room := maxPos - s.position
		if room <= 0 {
			return 0
		}
		return minQty(s.params.BaseSize, uint64(room))
	case SignalSell:
		if s.position > 0 {
			// Closing a long: never flip past flat in one order.
			return minQty(s.params.BaseSize, uint64(s.position))
		}
		room := maxPos + s.position
		if room <= 0 {
			return 0
		}
		return minQty(s.params.BaseSize, uint64(room))
	}
	return 0
}

func minQty(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
