package engine

import (
	"sync"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
)

// Subscriber receives pipeline events. Callbacks run on pipeline workers and
// must not block; a slow subscriber stalls the stage that called it.
type Subscriber interface {
	OnTick(tick core.Tick)
	OnTrade(trade core.Trade)
	OnBookSnapshot(symbol uint32, snap orderbook.Snapshot)
	OnOrderUpdate(order core.Order)
}

// NopSubscriber implements Subscriber with no-ops; embed it and override the
// callbacks of interest.
type NopSubscriber struct{}

func (NopSubscriber) OnTick(core.Tick)                          {}
func (NopSubscriber) OnTrade(core.Trade)                        {}
func (NopSubscriber) OnBookSnapshot(uint32, orderbook.Snapshot) {}
func (NopSubscriber) OnOrderUpdate(core.Order)                  {}

// BookEvent pairs a symbol with its snapshot for channel delivery.
type BookEvent struct {
	Symbol   uint32
	Snapshot orderbook.Snapshot
}

// ChannelSubscriber forwards events into buffered channels with non-blocking
// sends; events that find a full channel are dropped. Nil channels disable
// that event kind.
type ChannelSubscriber struct {
	Ticks     chan core.Tick
	Trades    chan core.Trade
	Snapshots chan BookEvent
	Updates   chan core.Order
}

// NewChannelSubscriber buffers every event kind at the given depth.
func NewChannelSubscriber(depth int) *ChannelSubscriber {
	return &ChannelSubscriber{
		Ticks:     make(chan core.Tick, depth),
		Trades:    make(chan core.Trade, depth),
		Snapshots: make(chan BookEvent, depth),
		Updates:   make(chan core.Order, depth),
	}
}

func (c *ChannelSubscriber) OnTick(tick core.Tick) {
	select {
	case c.Ticks <- tick:
	default:
	}
}

func (c *ChannelSubscriber) OnTrade(trade core.Trade) {
	select {
	case c.Trades <- trade:
	default:
	}
}

func (c *ChannelSubscriber) OnBookSnapshot(symbol uint32, snap orderbook.Snapshot) {
	select {
	case c.Snapshots <- BookEvent{Symbol: symbol, Snapshot: snap}:
	default:
	}
}

func (c *ChannelSubscriber) OnOrderUpdate(order core.Order) {
	select {
	case c.Updates <- order:
	default:
	}
}

// Handle identifies one registration and supports removal.
type Handle struct {
	id  uint64
	set *subscriberSet
}

// Remove unregisters the subscriber; further events are not delivered.
// Removing twice is harmless.
func (h *Handle) Remove() {
	if h.set != nil {
		h.set.remove(h.id)
	}
}

type subscriberEntry struct {
	id  uint64
	sub Subscriber
}

// subscriberSet is the engine's fan-out list. Registration happens before
// start in the common case, but the RWMutex makes runtime changes safe too.
type subscriberSet struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriberEntry
}

func (s *subscriberSet) add(sub Subscriber) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs = append(s.subs, subscriberEntry{id: s.nextID, sub: sub})
	return &Handle{id: s.nextID, set: s}
}

func (s *subscriberSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.subs {
		if e.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *subscriberSet) onTick(tick core.Tick) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.subs {
		e.sub.OnTick(tick)
	}
}

func (s *subscriberSet) onTrade(trade core.Trade) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.subs {
		e.sub.OnTrade(trade)
	}
}

func (s *subscriberSet) onBookSnapshot(symbol uint32, snap orderbook.Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.subs {
		e.sub.OnBookSnapshot(symbol, snap)
	}
}

func (s *subscriberSet) onOrderUpdate(order core.Order) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.subs {
		e.sub.OnOrderUpdate(order)
	}
}
