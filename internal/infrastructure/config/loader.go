package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nanoexch/engine/internal/core"
)

// Load reads configuration from the given YAML paths (missing files are
// skipped) merged with NANOEXCH_-prefixed environment variables on top of the
// defaults, then validates the result. A validation failure is fatal to
// engine startup.
func Load(logger *zap.Logger, configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("NANOEXCH")

	setDefaults(v)

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		logger.Info("loaded config file", zap.String("path", path))
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so environment variables bind
// even without a config file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("symbols", d.Symbols)

	v.SetDefault("queues.ingress", d.Queues.Ingress)
	v.SetDefault("queues.risk_approved", d.Queues.RiskApproved)
	v.SetDefault("queues.trade_fanout", d.Queues.TradeFanout)
	v.SetDefault("queues.symbol_ticks", d.Queues.SymbolTicks)
	v.SetDefault("queues.gateway_intake", d.Queues.GatewayIntake)
	v.SetDefault("queues.strategy_inbox", d.Queues.StrategyInbox)

	v.SetDefault("pools.order_entries", d.Pools.OrderEntries)
	v.SetDefault("pools.trades", d.Pools.Trades)

	v.SetDefault("book.max_levels", d.Book.MaxLevels)
	v.SetDefault("book.snapshot_depth", d.Book.SnapshotDepth)

	v.SetDefault("risk.max_position", d.Risk.MaxPosition)
	v.SetDefault("risk.max_order_size", d.Risk.MaxOrderSize)
	v.SetDefault("risk.max_notional", d.Risk.MaxNotional)
	v.SetDefault("risk.max_loss_per_day", d.Risk.MaxLossPerDay)
	v.SetDefault("risk.max_price_deviation", d.Risk.MaxPriceDeviation)
	v.SetDefault("risk.global_rate_per_sec", d.Risk.GlobalRatePerSec)
	v.SetDefault("risk.global_bucket", d.Risk.GlobalBucket)
	v.SetDefault("risk.symbol_rate_per_sec", d.Risk.SymbolRatePerSec)
	v.SetDefault("risk.symbol_bucket", d.Risk.SymbolBucket)

	v.SetDefault("feed.synthetic", d.Feed.Synthetic)
	v.SetDefault("feed.interval_micros", d.Feed.IntervalMicros)
	v.SetDefault("feed.base_price", d.Feed.BasePrice)
	v.SetDefault("feed.seed", d.Feed.Seed)
}

// Validate checks struct tags, the power-of-two queue contract, and parses
// the decimal price fields into their fixed-point mirrors.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: validation: %w", err)
	}

	for name, size := range map[string]uint64{
		"queues.ingress":        cfg.Queues.Ingress,
		"queues.risk_approved":  cfg.Queues.RiskApproved,
		"queues.trade_fanout":   cfg.Queues.TradeFanout,
		"queues.symbol_ticks":   cfg.Queues.SymbolTicks,
		"queues.gateway_intake": cfg.Queues.GatewayIntake,
		"queues.strategy_inbox": cfg.Queues.StrategyInbox,
	} {
		if size&(size-1) != 0 {
			return fmt.Errorf("config: %s: %d is not a power of two", name, size)
		}
	}

	var err error
	if cfg.Risk.MaxNotionalScaled, err = core.PriceFromString(cfg.Risk.MaxNotional); err != nil {
		return fmt.Errorf("config: risk.max_notional: %w", err)
	}
	if cfg.Risk.MaxLossPerDayScaled, err = core.PriceFromString(cfg.Risk.MaxLossPerDay); err != nil {
		return fmt.Errorf("config: risk.max_loss_per_day: %w", err)
	}
	if cfg.Risk.MaxPriceDeviationScaled, err = core.PriceFromString(cfg.Risk.MaxPriceDeviation); err != nil {
		return fmt.Errorf("config: risk.max_price_deviation: %w", err)
	}
	if cfg.Feed.BasePriceScaled, err = core.PriceFromString(cfg.Feed.BasePrice); err != nil {
		return fmt.Errorf("config: feed.base_price: %w", err)
	}
	return nil
}

// DumpYAML renders the effective configuration, used by the -dump-config
// flag.
func DumpYAML(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: dump: %w", err)
	}
	return out, nil
}
