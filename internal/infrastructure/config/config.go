// Package config loads and validates the engine configuration from YAML
// files and NANOEXCH_-prefixed environment variables. Scaled-price fields
// ("10.0") are parsed into fixed-point at load time so the rest of the engine
// never sees a float. An invalid configuration refuses to start the engine.
package config

import (
	"github.com/nanoexch/engine/internal/core"
)

// Config is the complete engine configuration tree.
type Config struct {
	LogLevel    string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Symbols []uint32 `mapstructure:"symbols" validate:"min=1,dive,gt=0"`

	Queues QueueConfig `mapstructure:"queues"`
	Pools  PoolConfig  `mapstructure:"pools"`
	Book   BookConfig  `mapstructure:"book"`
	Risk   RiskConfig  `mapstructure:"risk"`
	Feed   FeedConfig  `mapstructure:"feed"`
}

// QueueConfig sizes the pipeline queues. Every size must be a power of two.
type QueueConfig struct {
	Ingress       uint64 `mapstructure:"ingress" validate:"gte=2"`
	RiskApproved  uint64 `mapstructure:"risk_approved" validate:"gte=2"`
	TradeFanout   uint64 `mapstructure:"trade_fanout" validate:"gte=2"`
	SymbolTicks   uint64 `mapstructure:"symbol_ticks" validate:"gte=2"`
	GatewayIntake uint64 `mapstructure:"gateway_intake" validate:"gte=2"`
	StrategyInbox uint64 `mapstructure:"strategy_inbox" validate:"gte=2"`
}

// PoolConfig sizes the matcher's object arenas.
type PoolConfig struct {
	OrderEntries uint32 `mapstructure:"order_entries" validate:"gte=16"`
	Trades       uint32 `mapstructure:"trades" validate:"gte=16"`
}

// BookConfig bounds the aggregator's displayed depth.
type BookConfig struct {
	MaxLevels     int `mapstructure:"max_levels" validate:"gte=1"`
	SnapshotDepth int `mapstructure:"snapshot_depth" validate:"gte=1"`
}

// RiskConfig carries the pre-trade limits. Monetary fields are decimal
// strings parsed into fixed-point during Load.
type RiskConfig struct {
	MaxPosition       uint64 `mapstructure:"max_position" validate:"gt=0"`
	MaxOrderSize      uint64 `mapstructure:"max_order_size" validate:"gt=0"`
	MaxNotional       string `mapstructure:"max_notional" validate:"required"`
	MaxLossPerDay     string `mapstructure:"max_loss_per_day" validate:"required"`
	MaxPriceDeviation string `mapstructure:"max_price_deviation" validate:"required"`

	GlobalRatePerSec uint32 `mapstructure:"global_rate_per_sec" validate:"gt=0"`
	GlobalBucket     uint32 `mapstructure:"global_bucket" validate:"gt=0"`
	SymbolRatePerSec uint32 `mapstructure:"symbol_rate_per_sec" validate:"gt=0"`
	SymbolBucket     uint32 `mapstructure:"symbol_bucket" validate:"gt=0"`

	// Parsed fixed-point values, filled by Load.
	MaxNotionalScaled       uint64 `mapstructure:"-" yaml:"-"`
	MaxLossPerDayScaled     uint64 `mapstructure:"-" yaml:"-"`
	MaxPriceDeviationScaled uint64 `mapstructure:"-" yaml:"-"`
}

// FeedConfig controls the synthetic market-data generator used by the CLI
// demo and integration tests. BasePrice is a decimal string.
type FeedConfig struct {
	Synthetic      bool   `mapstructure:"synthetic"`
	IntervalMicros uint64 `mapstructure:"interval_micros" validate:"gt=0"`
	BasePrice      string `mapstructure:"base_price" validate:"required"`
	Seed           int64  `mapstructure:"seed"`

	BasePriceScaled uint64 `mapstructure:"-" yaml:"-"`
}

// Default returns the configuration used when no file or environment
// override is present. Limits mirror the risk gate's stock limits.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Symbols:  []uint32{1},
		Queues: QueueConfig{
			Ingress:       core.DefaultQueueSize,
			RiskApproved:  1024,
			TradeFanout:   2048,
			SymbolTicks:   core.DefaultQueueSize,
			GatewayIntake: core.DefaultQueueSize,
			StrategyInbox: 1024,
		},
		Pools: PoolConfig{
			OrderEntries: 16384,
			Trades:       2048,
		},
		Book: BookConfig{
			MaxLevels:     1000,
			SnapshotDepth: 10,
		},
		Risk: RiskConfig{
			MaxPosition:       1_000_000,
			MaxOrderSize:      100_000,
			MaxNotional:       "10000000",
			MaxLossPerDay:     "100000",
			MaxPriceDeviation: "10",
			GlobalRatePerSec:  1000,
			GlobalBucket:      1000,
			SymbolRatePerSec:  100,
			SymbolBucket:      100,
		},
		Feed: FeedConfig{
			Synthetic:      false,
			IntervalMicros: 100,
			BasePrice:      "100",
			Seed:           1,
		},
	}
}
