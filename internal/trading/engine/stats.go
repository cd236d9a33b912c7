package engine

import (
	"github.com/nanoexch/engine/internal/marketdata"
	"github.com/nanoexch/engine/internal/trading/matching"
	"github.com/nanoexch/engine/internal/trading/risk"
)

// EngineStats aggregates counters from every pipeline stage.
type EngineStats struct {
	OrdersReceived  uint64
	OrdersProcessed uint64
	OrdersRejected  uint64
	TradesExecuted  uint64
	TradeDrops      uint64

	OrderProcessingRate float64 // processed orders per uptime second
	UptimeSeconds       float64

	MarketData marketdata.GatewayStats
	Matching   matching.Stats
	Risk       risk.Stats
}
