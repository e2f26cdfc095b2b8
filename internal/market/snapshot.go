package market

import (
	"math"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Snapshot 为单个周期传入评估器的市场快照。
// 指标字段用 NaN 表示缺失，消费方必须经 IndicatorsValid 检查后才能参与计算，
// 避免用缺失值推导保护位。
type Snapshot struct {
	Symbol        string
	Price         float64
	Volatility    float64 // 近期波动率（相对ATR）
	Momentum      float64 // 近期价格变化速率（比例）
	RSI           float64
	TrendStrength float64 // [0,1]
	TimeInTrade   float64 // 持仓时长（小时），由 manager 按持仓填充
	RetrievedAt   time.Time
}

// Invalid 返回一个指标全部缺失的快照，仅携带价格。
func Invalid(symbol string, price float64, retrievedAt time.Time) Snapshot {
	nan := math.NaN()
	return Snapshot{
		Symbol:        symbol,
		Price:         price,
		Volatility:    nan,
		Momentum:      nan,
		RSI:           nan,
		TrendStrength: nan,
		RetrievedAt:   retrievedAt,
	}
}

// IndicatorsValid 判断保护位重算所需的指标是否齐全。
func (s Snapshot) IndicatorsValid() bool {
	return isFinite(s.Volatility) &&
		isFinite(s.Momentum) &&
		isFinite(s.RSI) &&
		isFinite(s.TrendStrength)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
