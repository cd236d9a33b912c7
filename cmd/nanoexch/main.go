package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nanoexch/engine/internal/core"
	"github.com/nanoexch/engine/internal/infrastructure/config"
	"github.com/nanoexch/engine/internal/trading/engine"
	"github.com/nanoexch/engine/internal/trading/strategy"
	"github.com/nanoexch/engine/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	configPath := flag.String("config", "", "path to a YAML configuration file")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	statsEvery := flag.Duration("stats-interval", 10*time.Second, "statistics print interval")
	flag.Parse()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(zapLogger, paths...)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if *dumpConfig {
		out, err := config.DumpYAML(cfg)
		if err != nil {
			zapLogger.Fatal("Failed to render configuration", zap.Error(err))
		}
		fmt.Print(string(out))
		return
	}

	runID := uuid.NewString()
	zapLogger = zapLogger.With(zap.String("run_id", runID))

	eng, err := engine.New(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to build engine", zap.Error(err))
	}

	if err := addStrategies(eng, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Failed to register strategies", zap.Error(err))
	}

	if err := eng.Start(); err != nil {
		zapLogger.Fatal("Failed to start engine", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, zapLogger)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*statsEvery)
	defer ticker.Stop()

	zapLogger.Info("engine running", zap.Uint32s("symbols", cfg.Symbols))
	for {
		select {
		case sig := <-stop:
			zapLogger.Info("signal received, shutting down", zap.String("signal", sig.String()))
			eng.Stop()
			return
		case <-ticker.C:
			printStats(eng, cfg, zapLogger)
		}
	}
}

// addStrategies wires one mean-reversion strategy per configured symbol.
// The strategies trade through SubmitOrder/CancelOrder like any client.
func addStrategies(eng *engine.Engine, cfg *config.Config, zapLogger *zap.Logger) error {
	slogger := logger.NewSlogBridge(zapLogger)
	for _, symbol := range cfg.Symbols {
		s, err := strategy.NewMeanReversion(
			symbol, strategy.DefaultMeanReversionParams(),
			cfg.Queues.StrategyInbox, eng.StrategyIDs(), eng.Clock(), slogger)
		if err != nil {
			return err
		}
		s.SetOrderFunc(eng.SubmitOrder)
		s.SetCancelFunc(eng.CancelOrder)
		if err := eng.AddStrategy(s); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(addr string, zapLogger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	zapLogger.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		zapLogger.Error("metrics listener failed", zap.Error(err))
	}
}

func printStats(eng *engine.Engine, cfg *config.Config, zapLogger *zap.Logger) {
	s := eng.GetStats()
	zapLogger.Info("engine statistics",
		zap.Uint64("orders_received", s.OrdersReceived),
		zap.Uint64("orders_processed", s.OrdersProcessed),
		zap.Uint64("orders_rejected", s.OrdersRejected),
		zap.Uint64("trades_executed", s.TradesExecuted),
		zap.Float64("orders_per_sec", s.OrderProcessingRate),
		zap.Float64("uptime_sec", s.UptimeSeconds),
		zap.Uint64("md_ticks", s.MarketData.TicksProcessed),
		zap.Uint64("md_parse_errors", s.MarketData.ParseErrors),
	)
	for _, symbol := range cfg.Symbols {
		info := eng.GetPositionInfo(symbol)
		book := eng.Book(symbol)
		fields := []zap.Field{
			zap.Uint32("symbol", symbol),
			zap.Int64("position", info.Position),
			zap.String("vwap", core.FormatPrice(info.VWAP)),
			zap.String("realized_pnl", core.FormatScaled(info.RealizedPL)),
		}
		if book != nil {
			fields = append(fields,
				zap.String("best_bid", core.FormatPrice(book.BestBid())),
				zap.String("best_ask", core.FormatPrice(book.BestAsk())))
		}
		zapLogger.Info("position", fields...)
	}
	for _, st := range eng.LatencyStats() {
		if st.Count == 0 {
			continue
		}
		zapLogger.Debug("stage latency",
			zap.String("stage", st.Stage.String()),
			zap.Uint64("count", st.Count),
			zap.Uint64("avg_ns", st.AvgNs),
			zap.Uint64("max_ns", st.MaxNs))
	}
}
