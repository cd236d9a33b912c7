// Package engine wires the pipeline together: market-data gateway, risk gate,
// matcher and trade fan-out, each on its own worker goroutine connected by
// lock-free queues. The Engine struct owns every component; there is no
// package-level mutable state.
package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/core/queue"
	"github.com/nanoexch/engine/internal/core/timing"
	"github.com/nanoexch/engine/internal/infrastructure/config"
	"github.com/nanoexch/engine/internal/marketdata"
	"github.com/nanoexch/engine/internal/marketdata/orderbook"
	"github.com/nanoexch/engine/internal/trading/matching"
	"github.com/nanoexch/engine/internal/trading/risk"
	"github.com/nanoexch/engine/internal/trading/strategy"
	"github.com/nanoexch/engine/pkg/metrics"
)

// ErrAlreadyRunning is returned by Start on a running engine.
var ErrAlreadyRunning = errors.New("engine: already running")

// ErrRunning is returned by operations that require a stopped engine.
var ErrRunning = errors.New("engine: running")

type cmdKind uint8

const (
	cmdSubmit cmdKind = iota
	cmdCancel
)

// ingressMsg flows client requests through the pipeline. Cancels ride the
// same queues as orders so they reach the matcher in submission order; the
// buffered reply channel carries the matcher's authoritative answer back.
type ingressMsg struct {
	kind    cmdKind
	order   core.Order
	orderID uint64
	reply   chan bool
}

// idleSpins is how many empty polls a worker tolerates before sleeping.
const idleSpins = 256

// idleSleep is the nap after sustained idleness.
const idleSleep = 50 * time.Microsecond

// Engine is the pipeline orchestrator. Construct with New, register
// strategies and subscribers, then Start; Stop tears the pipeline down in
// reverse data-flow order.
type Engine struct {
	cfg   *config.Config
	log   *zap.Logger
	clock *timing.Clock

	books   *orderbook.Manager
	gateway *marketdata.Gateway
	gate    *risk.Gate
	matcher *matching.Engine
	latency *timing.Recorder
	feed    *marketdata.SyntheticFeed

	ingress  *queue.MPSC[ingressMsg]
	approved *queue.SPSC[ingressMsg]
	tradeQ   *queue.MPSC[*core.Trade]

	subs        subscriberSet
	strategies  []strategy.Strategy
	strategyIDs atomic.Uint64

	running atomic.Bool
	stopped atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup

	startTime time.Time

	ordersReceived  atomic.Uint64
	ordersProcessed atomic.Uint64
	ordersRejected  atomic.Uint64
	tradesExecuted  atomic.Uint64
	tradeDrops      atomic.Uint64
}

// New assembles a stopped engine from configuration.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	clock, err := timing.NewClock()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	books := orderbook.NewManager(cfg.Book.MaxLevels)
	gateway, err := marketdata.NewGateway(marketdata.GatewayConfig{
		SymbolQueueSize: cfg.Queues.SymbolTicks,
		IntakeQueueSize: cfg.Queues.GatewayIntake,
	}, books, clock, log.Named("gateway"))
	if err != nil {
		return nil, err
	}

	matcher, err := matching.NewEngine(matching.Config{
		OrderEntries: cfg.Pools.OrderEntries,
		Trades:       cfg.Pools.Trades,
	}, clock, log.Named("matching"))
	if err != nil {
		return nil, err
	}

	ingress, err := queue.NewMPSC[ingressMsg](cfg.Queues.Ingress)
	if err != nil {
		return nil, fmt.Errorf("engine: ingress queue: %w", err)
	}
	approved, err := queue.NewSPSC[ingressMsg](cfg.Queues.RiskApproved)
	if err != nil {
		return nil, fmt.Errorf("engine: approved queue: %w", err)
	}
	tradeQ, err := queue.NewMPSC[*core.Trade](cfg.Queues.TradeFanout)
	if err != nil {
		return nil, fmt.Errorf("engine: trade queue: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		clock:     clock,
		books:     books,
		gateway:   gateway,
		gate:      risk.NewGate(riskLimits(cfg.Risk), clock, log.Named("risk")),
		matcher:   matcher,
		latency:   timing.NewRecorder(),
		ingress:   ingress,
		approved:  approved,
		tradeQ:    tradeQ,
		quit:      make(chan struct{}),
		startTime: time.Now(),
	}

	gateway.SetTickHandler(e.onTick)
	gateway.SetSnapshotHandler(e.onBookSnapshot)
	matcher.SetOrderUpdateHandler(e.subs.onOrderUpdate)

	if cfg.Feed.Synthetic {
		e.feed = marketdata.NewSyntheticFeed(
			gateway, cfg.Symbols, cfg.Feed.BasePriceScaled,
			time.Duration(cfg.Feed.IntervalMicros)*time.Microsecond,
			cfg.Feed.Seed, log.Named("feed"))
	}
	return e, nil
}

func riskLimits(rc config.RiskConfig) risk.Limits {
	return risk.Limits{
		MaxPosition:       rc.MaxPosition,
		MaxOrderSize:      rc.MaxOrderSize,
		MaxNotional:       rc.MaxNotionalScaled,
		MaxLossPerDay:     rc.MaxLossPerDayScaled,
		MaxPriceDeviation: rc.MaxPriceDeviationScaled,
		GlobalRatePerSec:  rc.GlobalRatePerSec,
		GlobalBucket:      rc.GlobalBucket,
		SymbolRatePerSec:  rc.SymbolRatePerSec,
		SymbolBucket:      rc.SymbolBucket,
	}
}

// AddStrategy registers a strategy and subscribes its symbol. Must be called
// before Start; the strategies slice is read without locks by the workers.
func (e *Engine) AddStrategy(s strategy.Strategy) error {
	if e.running.Load() {
		return ErrRunning
	}
	if err := e.gateway.Subscribe(s.Symbol()); err != nil {
		return err
	}
	e.strategies = append(e.strategies, s)
	return nil
}

// StrategyIDs is the shared order-id source for strategy constructors.
func (e *Engine) StrategyIDs() *atomic.Uint64 { return &e.strategyIDs }

// Clock is the engine's monotonic timestamp source.
func (e *Engine) Clock() *timing.Clock { return e.clock }

// Subscribe registers a subscriber for pipeline events.
func (e *Engine) Subscribe(sub Subscriber) *Handle { return e.subs.add(sub) }

// SubscribeSymbol opens market-data processing for a symbol without a
// strategy attached.
func (e *Engine) SubscribeSymbol(symbol uint32) error { return e.gateway.Subscribe(symbol) }

// Gateway exposes the market-data ingress, e.g. for external feed adapters.
func (e *Engine) Gateway() *marketdata.Gateway { return e.gateway }

// Book returns the aggregated book for a symbol, nil if never subscribed.
func (e *Engine) Book(symbol uint32) *orderbook.Book { return e.books.Get(symbol) }

// GetPositionInfo passes through to the risk gate.
func (e *Engine) GetPositionInfo(symbol uint32) risk.PositionInfo {
	return e.gate.GetPositionInfo(symbol)
}

// LatencyStats snapshots the per-stage latency recorder.
func (e *Engine) LatencyStats() []timing.StageStats { return e.latency.Snapshot() }

// Start launches the gateway and the pipeline workers.
func (e *Engine) Start() error {
	if e.stopped.Load() {
		return errors.New("engine: stopped engines cannot restart")
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.startTime = time.Now()

	for _, symbol := range e.cfg.Symbols {
		if err := e.gateway.Subscribe(symbol); err != nil {
			e.running.Store(false)
			return err
		}
	}
	if err := e.gateway.Start(); err != nil {
		e.running.Store(false)
		return err
	}

	e.spawn("matcher", e.matcherLoop)
	e.spawn("ingress", e.ingressLoop)
	e.spawn("fanout", e.fanoutLoop)
	e.spawn("strategy", e.strategyLoop)

	if e.feed != nil {
		e.feed.Start()
	}

	e.log.Info("engine started",
		zap.Uint32s("symbols", e.cfg.Symbols),
		zap.Int("strategies", len(e.strategies)))
	return nil
}

// Stop tears the pipeline down: feed and gateway first so no new events
// enter, then the workers, then strategy shutdown. Idempotent.
func (e *Engine) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	e.log.Info("stopping engine")

	if e.feed != nil {
		e.feed.Stop()
	}
	e.gateway.Stop()

	e.running.Store(false)
	close(e.quit)
	e.wg.Wait()

	for _, s := range e.strategies {
		s.Shutdown()
	}
	e.log.Info("engine stopped",
		zap.Uint64("orders_processed", e.ordersProcessed.Load()),
		zap.Uint64("trades_executed", e.tradesExecuted.Load()))
}

// SubmitOrder places an order into the ingress queue from any goroutine.
// False means the queue is saturated; the caller decides whether to retry.
func (e *Engine) SubmitOrder(order core.Order) bool {
	e.ordersReceived.Add(1)
	if !e.ingress.TryPush(ingressMsg{kind: cmdSubmit, order: order}) {
		metrics.QueueDrops.WithLabelValues("ingress").Inc()
		return false
	}
	metrics.OrdersReceived.WithLabelValues(order.Side.String()).Inc()
	return true
}

// CancelOrder routes a cancel through the matcher queue, preserving the
// matcher's single-threadedness, and waits for its answer: true iff the
// order was resting and is now cancelled.
func (e *Engine) CancelOrder(orderID uint64) bool {
	if !e.running.Load() {
		return false
	}
	reply := make(chan bool, 1)
	if !e.ingress.TryPush(ingressMsg{kind: cmdCancel, orderID: orderID, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-e.quit:
		return false
	}
}

// GetStats aggregates counters across the pipeline.
func (e *Engine) GetStats() EngineStats {
	uptime := time.Since(e.startTime).Seconds()
	processed := e.ordersProcessed.Load()
	var rate float64
	if uptime > 0 {
		rate = float64(processed) / uptime
	}
	return EngineStats{
		OrdersReceived:      e.ordersReceived.Load(),
		OrdersProcessed:     processed,
		OrdersRejected:      e.ordersRejected.Load(),
		TradesExecuted:      e.tradesExecuted.Load(),
		TradeDrops:          e.tradeDrops.Load(),
		OrderProcessingRate: rate,
		UptimeSeconds:       uptime,
		MarketData:          e.gateway.GetStats(),
		Matching:            e.matcher.GetStats(),
		Risk:                e.gate.GetStats(),
	}
}

// spawn runs loop on a dedicated goroutine with panic containment: a panic
// is counted and the worker restarts until the engine stops.
func (e *Engine) spawn(name string, loop func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for e.running.Load() {
			e.runGuarded(name, loop)
		}
	}()
}

func (e *Engine) runGuarded(name string, loop func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanics.WithLabelValues(name).Inc()
			e.log.Error("worker panic",
				zap.String("worker", name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	loop()
}

// idler backs off progressively on empty queues: yield first, sleep after
// sustained idleness.
type idler struct{ spins int }

func (i *idler) idle() {
	i.spins++
	if i.spins < idleSpins {
		runtime.Gosched()
		return
	}
	time.Sleep(idleSleep)
}

func (i *idler) reset() { i.spins = 0 }

// ingressLoop is the risk-gate stage: single consumer of the ingress MPSC,
// single producer of the approved SPSC.
func (e *Engine) ingressLoop() {
	var idle idler
	for e.running.Load() {
		msg, ok := e.ingress.TryPop()
		if !ok {
			idle.idle()
			continue
		}
		idle.reset()

		if msg.kind == cmdCancel {
			// Cancels skip risk checks but keep queue order.
			if !e.approved.TryPush(msg) {
				msg.reply <- false
			}
			continue
		}

		start := e.clock.Now()
		res := e.gate.CheckOrder(&msg.order)
		e.latency.Record(timing.StageRisk, start, e.clock.Now())

		if res != risk.Approved {
			e.reject(msg.order, res.String())
			continue
		}
		if !e.approved.TryPush(msg) {
			e.reject(msg.order, reasonQueueFull)
			metrics.QueueDrops.WithLabelValues("approved").Inc()
		}
	}
}

// reasonQueueFull labels rejections caused by approved-queue backpressure
// rather than a risk-limit breach.
const reasonQueueFull = "queue_full"

func (e *Engine) reject(order core.Order, reason string) {
	e.ordersRejected.Add(1)
	metrics.OrdersRejected.WithLabelValues(reason).Inc()
	order.Status = core.OrderStatusRejected
	e.subs.onOrderUpdate(order)
}

// matcherLoop is the single matching goroutine: it consumes the approved
// SPSC and publishes trades to the fan-out MPSC.
func (e *Engine) matcherLoop() {
	var idle idler
	for e.running.Load() {
		msg, ok := e.approved.TryPop()
		if !ok {
			idle.idle()
			continue
		}
		idle.reset()

		if msg.kind == cmdCancel {
			msg.reply <- e.matcher.CancelOrder(msg.orderID)
			continue
		}

		start := e.clock.Now()
		result := e.matcher.ProcessOrder(msg.order)
		end := e.clock.Now()
		e.latency.Record(timing.StageMatch, start, end)
		metrics.MatchLatency.Observe(float64(end-start) / 1e9)

		// The matcher owns the orders-processed and trades-executed
		// prometheus counters; only the engine atomics are bumped here.
		e.ordersProcessed.Add(1)

		for _, trade := range result.Trades {
			if !e.tradeQ.TryPush(trade) {
				e.tradeDrops.Add(1)
				metrics.QueueDrops.WithLabelValues("trades").Inc()
				e.matcher.ReleaseTrade(trade)
			}
		}
	}
}

// fanoutLoop distributes executed trades: position and reference-price
// updates first, then strategies and subscribers, then arena release.
func (e *Engine) fanoutLoop() {
	var idle idler
	for e.running.Load() {
		trade, ok := e.tradeQ.TryPop()
		if !ok {
			idle.idle()
			continue
		}
		idle.reset()

		start := e.clock.Now()
		e.gate.UpdatePosition(trade)
		e.gate.UpdateReferencePrice(trade.Symbol, trade.Price)
		e.tradesExecuted.Add(1)

		value := *trade
		for _, s := range e.strategies {
			if s.Symbol() == value.Symbol {
				s.OnTrade(value)
			}
		}
		e.subs.onTrade(value)
		e.matcher.ReleaseTrade(trade)
		e.latency.Record(timing.StageFanout, start, e.clock.Now())
	}
}

// strategyLoop polls every enabled strategy, then naps briefly; strategy
// work is not latency-critical relative to the matching path.
func (e *Engine) strategyLoop() {
	for e.running.Load() {
		for _, s := range e.strategies {
			if s.Enabled() {
				s.ProcessSignals()
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (e *Engine) onTick(tick core.Tick) {
	for _, s := range e.strategies {
		if s.Symbol() == tick.Symbol {
			s.OnMarketData(tick)
		}
	}
	e.subs.onTick(tick)
}

func (e *Engine) onBookSnapshot(symbol uint32, snap orderbook.Snapshot) {
	for _, s := range e.strategies {
		if s.Symbol() == symbol {
			s.OnBookSnapshot(snap)
		}
	}
	e.subs.onBookSnapshot(symbol, snap)
}
