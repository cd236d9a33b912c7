package marketdata

import (
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
)

// SyntheticFeed drives the gateway with a deterministic seeded random walk,
// exercising the same raw-message path a real feed would. It exists for the
// CLI demo and integration tests; production deployments point a real feed
// handler at Gateway.ProcessRawMessage instead.
type SyntheticFeed struct {
	gateway  *Gateway
	symbols  []uint32
	interval time.Duration
	base     uint64
	rng      *rand.Rand
	log      *zap.Logger

	running atomic.Bool
	done    chan struct{}
	seq     uint32
	emitted uint64
}

// NewSyntheticFeed builds a stopped feed around basePrice (fixed-point).
func NewSyntheticFeed(g *Gateway, symbols []uint32, basePrice uint64, interval time.Duration, seed int64, log *zap.Logger) *SyntheticFeed {
	return &SyntheticFeed{
		gateway:  g,
		symbols:  symbols,
		interval: interval,
		base:     basePrice,
		rng:      rand.New(rand.NewSource(seed)),
		log:      log,
	}
}

// Start launches the generator goroutine.
func (f *SyntheticFeed) Start() {
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	f.done = make(chan struct{})
	go f.loop()
	f.log.Info("synthetic feed started",
		zap.Uint32s("symbols", f.symbols),
		zap.Duration("interval", f.interval))
}

// Stop halts the generator and waits for it to exit.
func (f *SyntheticFeed) Stop() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	<-f.done
}

// Emitted is the number of messages pushed so far.
func (f *SyntheticFeed) Emitted() uint64 { return atomic.LoadUint64(&f.emitted) }

func (f *SyntheticFeed) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for f.running.Load() {
		<-ticker.C
		for _, sym := range f.symbols {
			f.gateway.ProcessRawMessage(f.nextMessage(sym))
			atomic.AddUint64(&f.emitted, 1)
		}
	}
}

// nextMessage walks the price +-0.5% around base and alternates sides.
func (f *SyntheticFeed) nextMessage(symbol uint32) []byte {
	f.seq++
	drift := f.rng.Int63n(int64(f.base)/100+1) - int64(f.base)/200
	price := uint64(int64(f.base) + drift)
	side := core.SideBuy
	if f.seq%2 == 1 {
		side = core.SideSell
		price += f.base / 1000
	}
	return EncodeIncremental(Incremental{
		Header:            Header{SequenceNum: f.seq},
		SymbolID:          symbol,
		Price:             price,
		Quantity:          1000 + uint64(f.rng.Intn(5000)),
		Side:              side,
		ExchangeTimestamp: uint64(time.Now().UnixNano()),
	})
}
