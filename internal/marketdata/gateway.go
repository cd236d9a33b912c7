package marketdata

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/queue"
	"github.com/nanoexch/engine/internal/core/timing"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
	"github.com/nanoexch/engine/pkg/metrics"
)

// Intake priority classes: snapshots rebuild state and go first, then
// incrementals, then everything else.
const (
	prioSnapshot    = 0
	prioIncremental = 1
	prioOther       = 2
	intakeTiers     = 3
)

// TickHandler observes every tick after its book has been updated.
type TickHandler func(core.Tick)

// SnapshotHandler observes book snapshots after they are applied.
type SnapshotHandler func(symbol uint32, snap orderbook.Snapshot)

// symbolWorker owns one subscribed symbol: its tick ring, its sequence
// counter, and the goroutine that folds ticks into the display book.
type symbolWorker struct {
	ticks   *queue.SPSC[core.Tick]
	seq     atomic.Uint64
	decoded atomic.Uint64
	dropped atomic.Uint64
	running atomic.Bool
	done    chan struct{}
}

// GatewayConfig sizes the gateway queues.
type GatewayConfig struct {
	SymbolQueueSize uint64
	IntakeQueueSize uint64
}

// Gateway is the market-data ingress stage. Raw wire messages enter through
// ProcessRawMessage (single producer), pass the priority-classed intake ring,
// and are decoded by the intake worker; ticks are routed to their symbol's
// SPSC ring and consumed by that symbol's book worker.
type Gateway struct {
	cfg    GatewayConfig
	log    *zap.Logger
	clock  *timing.Clock
	books  *orderbook.Manager
	intake *queue.Priority[[]byte]

	mu      sync.Mutex
	workers map[uint32]*symbolWorker

	onTick     TickHandler
	onSnapshot SnapshotHandler

	running    atomic.Bool
	intakeDone chan struct{}

	received    atomic.Uint64
	processed   atomic.Uint64
	parseErrors atomic.Uint64
	intakeDrops atomic.Uint64
}

// GatewayStats is a point-in-time gateway counter snapshot.
type GatewayStats struct {
	MessagesReceived uint64
	TicksProcessed   uint64
	ParseErrors      uint64
	IntakeDrops      uint64
	TickDrops        uint64
	ActiveSymbols    int
}

// NewGateway builds a stopped gateway.
func NewGateway(cfg GatewayConfig, books *orderbook.Manager, clock *timing.Clock, log *zap.Logger) (*Gateway, error) {
	intake, err := queue.NewPriority[[]byte](intakeTiers, cfg.IntakeQueueSize)
	if err != nil {
		return nil, fmt.Errorf("marketdata: intake queue: %w", err)
	}
	return &Gateway{
		cfg:     cfg,
		log:     log,
		clock:   clock,
		books:   books,
		intake:  intake,
		workers: make(map[uint32]*symbolWorker),
	}, nil
}

// SetTickHandler registers the post-book tick observer. Must be called
// before Start.
func (g *Gateway) SetTickHandler(h TickHandler) { g.onTick = h }

// SetSnapshotHandler registers the snapshot observer. Must be called before
// Start.
func (g *Gateway) SetSnapshotHandler(h SnapshotHandler) { g.onSnapshot = h }

// Subscribe creates the symbol's tick ring and starts its book worker.
// Subscribing twice is a no-op.
func (g *Gateway) Subscribe(symbol uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.workers[symbol]; ok {
		return nil
	}
	ring, err := queue.NewSPSC[core.Tick](g.cfg.SymbolQueueSize)
	if err != nil {
		return fmt.Errorf("marketdata: symbol %d tick queue: %w", symbol, err)
	}
	w := &symbolWorker{ticks: ring, done: make(chan struct{})}
	w.running.Store(true)
	g.workers[symbol] = w
	g.books.GetOrCreate(symbol)
	go g.symbolLoop(symbol, w)
	g.log.Info("subscribed symbol", zap.Uint32("symbol", symbol))
	return nil
}

// Unsubscribe stops and removes the symbol's worker.
func (g *Gateway) Unsubscribe(symbol uint32) {
	g.mu.Lock()
	w := g.workers[symbol]
	delete(g.workers, symbol)
	g.mu.Unlock()
	if w != nil {
		w.running.Store(false)
		<-w.done
	}
}

// Start launches the intake worker. The gateway accepts raw messages only
// while running.
func (g *Gateway) Start() error {
	if !g.running.CompareAndSwap(false, true) {
		return fmt.Errorf("marketdata: gateway already running")
	}
	g.intakeDone = make(chan struct{})
	go g.intakeLoop()
	return nil
}

// Stop halts intake first so no new ticks enter, then joins every symbol
// worker.
func (g *Gateway) Stop() {
	if !g.running.CompareAndSwap(true, false) {
		return
	}
	<-g.intakeDone

	g.mu.Lock()
	workers := make([]*symbolWorker, 0, len(g.workers))
	for _, w := range g.workers {
		workers = append(workers, w)
	}
	g.mu.Unlock()
	for _, w := range workers {
		w.running.Store(false)
		<-w.done
	}
}

// ProcessRawMessage accepts one wire message from the feed producer. The
// message is classified by type and staged on the intake ring; a full ring
// drops the message and counts it.
func (g *Gateway) ProcessRawMessage(data []byte) {
	g.received.Add(1)

	h, err := DecodeHeader(data)
	if err != nil {
		g.countParseError(err)
		return
	}
	prio := prioOther
	switch h.MessageType {
	case MsgMDSnapshot:
		prio = prioSnapshot
	case MsgMDIncremental:
		prio = prioIncremental
	}
	if !g.intake.TryPush(data, prio) {
		g.intakeDrops.Add(1)
		metrics.QueueDrops.WithLabelValues("gateway_intake").Inc()
	}
}

// intakeLoop decodes staged messages and dispatches them.
func (g *Gateway) intakeLoop() {
	defer close(g.intakeDone)
	for {
		data, ok := g.intake.TryPop()
		if !ok {
			if !g.running.Load() {
				return
			}
			runtime.Gosched()
			continue
		}
		g.dispatch(data)
	}
}

func (g *Gateway) dispatch(data []byte) {
	h, err := DecodeHeader(data)
	if err != nil {
		g.countParseError(err)
		return
	}
	switch h.MessageType {
	case MsgMDIncremental:
		m, err := DecodeIncremental(data)
		if err != nil {
			g.countParseError(err)
			return
		}
		metrics.MessagesDecoded.WithLabelValues("incremental").Inc()
		g.routeIncremental(m)
	case MsgMDSnapshot:
		s, err := DecodeSnapshot(data)
		if err != nil {
			g.countParseError(err)
			return
		}
		metrics.MessagesDecoded.WithLabelValues("snapshot").Inc()
		g.applySnapshot(s)
	default:
		// NewOrder/Cancel/TradeReport travel the order path, not the
		// market-data feed.
		g.countParseError(fmt.Errorf("%w: unexpected message type %d", core.ErrParse, h.MessageType))
	}
}

// routeIncremental turns the update into a tick and hands it to the symbol's
// ring. Unsubscribed symbols are ignored; a full ring drops the tick.
func (g *Gateway) routeIncremental(m Incremental) {
	g.mu.Lock()
	w := g.workers[m.SymbolID]
	g.mu.Unlock()
	if w == nil {
		return
	}

	tick := core.Tick{
		Symbol:    m.SymbolID,
		Price:     m.Price,
		Quantity:  m.Quantity,
		Side:      m.Side,
		Timestamp: g.clock.Now(),
		Seq:       w.seq.Add(1),
	}
	if !w.ticks.TryPush(tick) {
		w.dropped.Add(1)
		metrics.TicksDropped.Inc()
	}
}

// applySnapshot rebuilds both book sides from the snapshot image and
// notifies the snapshot observer.
func (g *Gateway) applySnapshot(s Snapshot) {
	book := g.books.GetOrCreate(s.SymbolID)

	var bids, asks []orderbook.Level
	for _, lv := range s.Levels {
		l := orderbook.Level{Price: lv.Price, Quantity: lv.Quantity, OrderCount: 1}
		if lv.Side == core.SideBuy {
			bids = append(bids, l)
		} else {
			asks = append(asks, l)
		}
	}
	book.ApplySnapshot(core.SideBuy, bids)
	book.ApplySnapshot(core.SideSell, asks)

	if g.onSnapshot != nil {
		g.onSnapshot(s.SymbolID, book.GetSnapshot(g.clock.Now()))
	}
}

// symbolLoop is the per-symbol book worker: it drains the tick ring into the
// display book and forwards each tick to the observer.
func (g *Gateway) symbolLoop(symbol uint32, w *symbolWorker) {
	defer close(w.done)
	book := g.books.GetOrCreate(symbol)
	for {
		tick, ok := w.ticks.TryPop()
		if !ok {
			if !w.running.Load() {
				return
			}
			runtime.Gosched()
			continue
		}
		book.UpdateLevel(tick.Side, tick.Price, tick.Quantity)
		w.decoded.Add(1)
		g.processed.Add(1)
		if g.onTick != nil {
			g.onTick(tick)
		}
	}
}

func (g *Gateway) countParseError(err error) {
	g.parseErrors.Add(1)
	metrics.ParseErrors.Inc()
	g.log.Debug("dropped malformed message", zap.Error(err))
}

// GetStats snapshots the gateway counters.
func (g *Gateway) GetStats() GatewayStats {
	g.mu.Lock()
	active := len(g.workers)
	var tickDrops uint64
	for _, w := range g.workers {
		tickDrops += w.dropped.Load()
	}
	g.mu.Unlock()
	return GatewayStats{
		MessagesReceived: g.received.Load(),
		TicksProcessed:   g.processed.Load(),
		ParseErrors:      g.parseErrors.Load(),
		IntakeDrops:      g.intakeDrops.Load(),
		TickDrops:        tickDrops,
		ActiveSymbols:    active,
	}
}
