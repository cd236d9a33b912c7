// Package orderbook maintains the per-symbol level-2 display books built
// from the tick stream. Each book has one writer (its symbol's gateway
// worker) and any number of readers: best prices, quantities and the version
// counter are published through atomics so top-of-book reads never block,
// while deep level copies take a shared lock.
//
// The displayed book is a depth cache bounded at MaxLevels per side, not an
// authoritative order record; insertions worse than the worst stored level on
// a full side are dropped and counted. The matching engine's ladders carry no
// such cap.
package orderbook

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/pkg/metrics"
)

// Level is one displayed price level.
type Level struct {
	Price      uint64
	Quantity   uint64
	OrderCount uint32
}

// noAsk is the internal sentinel for an empty ask side; readers see 0.
const noAsk = math.MaxUint64

// side is a bounded sorted array of levels plus a price index for O(1)
// lookup. Bids sort descending, asks ascending.
type side struct {
	mu     sync.RWMutex
	levels []Level
	index  map[uint64]int
	desc   bool
	max    int
}

func newSide(desc bool, maxLevels int) *side {
	return &side{
		levels: make([]Level, 0, maxLevels),
		index:  make(map[uint64]int, maxLevels),
		desc:   desc,
		max:    maxLevels,
	}
}

// better reports whether price a sorts ahead of b on this side.
func (s *side) better(a, b uint64) bool {
	if s.desc {
		return a > b
	}
	return a < b
}

// update applies one level mutation and reports whether anything changed.
// Caller holds the exclusive lock.
func (s *side) update(price, quantity uint64) (changed, dropped bool) {
	if i, ok := s.index[price]; ok {
		if quantity == 0 {
			s.removeAt(i, price)
		} else {
			s.levels[i].Quantity = quantity
		}
		return true, false
	}
	if quantity == 0 {
		return false, false
	}
	if len(s.levels) >= s.max {
		worst := s.levels[len(s.levels)-1].Price
		if !s.better(price, worst) {
			return false, true
		}
		s.removeAt(len(s.levels)-1, worst)
	}
	s.insert(price, quantity)
	return true, false
}

func (s *side) insert(price, quantity uint64) {
	at := sort.Search(len(s.levels), func(i int) bool {
		return s.better(price, s.levels[i].Price)
	})
	s.levels = append(s.levels, Level{})
	copy(s.levels[at+1:], s.levels[at:])
	s.levels[at] = Level{Price: price, Quantity: quantity, OrderCount: 1}
	for i := at; i < len(s.levels); i++ {
		s.index[s.levels[i].Price] = i
	}
}

func (s *side) removeAt(i int, price uint64) {
	copy(s.levels[i:], s.levels[i+1:])
	s.levels = s.levels[:len(s.levels)-1]
	delete(s.index, price)
	for j := i; j < len(s.levels); j++ {
		s.index[s.levels[j].Price] = j
	}
}

// best returns the top level; ok is false when the side is empty. Caller
// holds at least the shared lock.
func (s *side) best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

// Snapshot is the lock-free top-of-book view.
type Snapshot struct {
	BestBid    uint64
	BestAsk    uint64
	BestBidQty uint64
	BestAskQty uint64
	Version    uint64
	Timestamp  uint64
}

// Book is one symbol's display book.
type Book struct {
	symbol uint32
	bids   *side
	asks   *side

	bestBid    atomic.Uint64
	bestAsk    atomic.Uint64
	bestBidQty atomic.Uint64
	bestAskQty atomic.Uint64
	version    atomic.Uint64

	levelsDropped atomic.Uint64
	updates       atomic.Uint64
}

// NewBook builds a book capped at maxLevels displayed levels per side.
func NewBook(symbol uint32, maxLevels int) *Book {
	b := &Book{
		symbol: symbol,
		bids:   newSide(true, maxLevels),
		asks:   newSide(false, maxLevels),
	}
	b.bestAsk.Store(noAsk)
	return b
}

// Symbol is the book's symbol id.
func (b *Book) Symbol() uint32 { return b.symbol }

// UpdateLevel applies one level change: quantity 0 removes the price,
// otherwise the level is overwritten or inserted in sorted position. The best
// price atoms and version are republished after every mutation.
func (b *Book) UpdateLevel(s core.Side, price, quantity uint64) {
	sd := b.asks
	if s == core.SideBuy {
		sd = b.bids
	}

	sd.mu.Lock()
	changed, dropped := sd.update(price, quantity)
	var top Level
	var ok bool
	if changed {
		top, ok = sd.best()
	}
	sd.mu.Unlock()

	if dropped {
		b.levelsDropped.Add(1)
		metrics.BookLevelsDropped.Inc()
		return
	}
	if !changed {
		return
	}

	if s == core.SideBuy {
		if ok {
			b.bestBid.Store(top.Price)
			b.bestBidQty.Store(top.Quantity)
		} else {
			b.bestBid.Store(0)
			b.bestBidQty.Store(0)
		}
	} else {
		if ok {
			b.bestAsk.Store(top.Price)
			b.bestAskQty.Store(top.Quantity)
		} else {
			b.bestAsk.Store(noAsk)
			b.bestAskQty.Store(0)
		}
	}
	b.updates.Add(1)
	b.version.Add(1)
}

// ApplySnapshot atomically replaces one side's levels from a snapshot
// message, keeping the best MaxLevels and counting the rest as dropped.
func (b *Book) ApplySnapshot(s core.Side, levels []Level) {
	sd := b.asks
	if s == core.SideBuy {
		sd = b.bids
	}

	sd.mu.Lock()
	sd.levels = sd.levels[:0]
	for p := range sd.index {
		delete(sd.index, p)
	}
	for _, lv := range levels {
		if lv.Quantity == 0 {
			continue
		}
		if _, droppedOne := sd.update(lv.Price, lv.Quantity); droppedOne {
			b.levelsDropped.Add(1)
			metrics.BookLevelsDropped.Inc()
		}
	}
	top, ok := sd.best()
	sd.mu.Unlock()

	if s == core.SideBuy {
		if ok {
			b.bestBid.Store(top.Price)
			b.bestBidQty.Store(top.Quantity)
		} else {
			b.bestBid.Store(0)
			b.bestBidQty.Store(0)
		}
	} else {
		if ok {
			b.bestAsk.Store(top.Price)
			b.bestAskQty.Store(top.Quantity)
		} else {
			b.bestAsk.Store(noAsk)
			b.bestAskQty.Store(0)
		}
	}
	b.updates.Add(1)
	b.version.Add(1)
}

// BestBid returns the highest displayed bid, 0 when the side is empty.
func (b *Book) BestBid() uint64 { return b.bestBid.Load() }

// BestAsk returns the lowest displayed ask, 0 when the side is empty.
func (b *Book) BestAsk() uint64 {
	ask := b.bestAsk.Load()
	if ask == noAsk {
		return 0
	}
	return ask
}

// GetSnapshot reads the top-of-book atoms; it never blocks on the writer.
func (b *Book) GetSnapshot(nowNs uint64) Snapshot {
	return Snapshot{
		BestBid:    b.BestBid(),
		BestAsk:    b.BestAsk(),
		BestBidQty: b.bestBidQty.Load(),
		BestAskQty: b.bestAskQty.Load(),
		Version:    b.version.Load(),
		Timestamp:  nowNs,
	}
}

// BidLevels copies the top depth bid levels under the shared lock.
func (b *Book) BidLevels(depth int) []Level {
	return b.bids.copyLevels(depth)
}

// AskLevels copies the top depth ask levels under the shared lock.
func (b *Book) AskLevels(depth int) []Level {
	return b.asks.copyLevels(depth)
}

func (s *side) copyLevels(depth int) []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := depth
	if n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]Level, n)
	copy(out, s.levels[:n])
	return out
}

// Mid is the midpoint of the best prices, 0 when either side is empty.
func (b *Book) Mid() uint64 {
	bid := b.bestBid.Load()
	ask := b.bestAsk.Load()
	if bid == 0 || ask == noAsk {
		return 0
	}
	return bid/2 + ask/2 + (bid&1+ask&1)/2
}

// SpreadBps is the bid/ask spread in basis points of the mid.
func (b *Book) SpreadBps() float64 {
	bid := b.bestBid.Load()
	ask := b.bestAsk.Load()
	if bid == 0 || ask == noAsk || ask <= bid {
		return 0
	}
	mid := float64(bid)/2 + float64(ask)/2
	return float64(ask-bid) / mid * 10_000
}

// IsCrossed reports a displayed bid at or through the displayed ask, which
// indicates a stale or inconsistent feed.
func (b *Book) IsCrossed() bool {
	bid := b.bestBid.Load()
	ask := b.bestAsk.Load()
	return bid > 0 && ask != noAsk && bid >= ask
}

// LevelsDropped is the count of insertions rejected at the depth cap.
func (b *Book) LevelsDropped() uint64 { return b.levelsDropped.Load() }

// Version is the current mutation counter.
func (b *Book) Version() uint64 { return b.version.Load() }
