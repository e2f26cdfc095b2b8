package manager

import (
	"context"

	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
)

// PriceFeed 提供最新成交价。
type PriceFeed interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// MarketData 提供带指标的市场快照。
type MarketData interface {
	Snapshot(ctx context.Context, symbol string) (market.Snapshot, error)
}

// ExchangeClient 执行平仓与分批减仓。
type ExchangeClient interface {
	ClosePosition(ctx context.Context, symbol string, side position.Side, amount float64) error
	ScaleOut(ctx context.Context, symbol string, side position.Side, amount float64) error
	MinOrderSize(ctx context.Context, symbol string) (float64, error)
}

// CycleResult 记录单个持仓在一轮循环中的处置结果，供监控与分析消费。
type CycleResult struct {
	Symbol      string
	Action      string
	Reason      string
	Tier        string
	Price       float64
	RealizedPnL float64
	Err         string
	Position    position.Snapshot
}

// 循环结果动作。
const (
	ResultHeld    = "held"
	ResultClosed  = "closed"
	ResultScaled  = "scaled_out"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)
