package indicator

import (
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"futures-sentinel/internal/market"
)

const (
	// MinCandles 为一次可靠计算所需的最少K线数量，
	// 覆盖 ATR/RSI/ADX 的预热期。
	MinCandles = 40

	atrPeriod      = 14
	rsiPeriod      = 14
	adxPeriod      = 14
	momentumPeriod = 10
)

// Values 汇总保护位重算与退出评估所需的指标。
type Values struct {
	Volatility    float64 // 相对ATR（ATR/收盘价）
	Momentum      float64 // momentumPeriod 根K线的价格变化比例
	RSI           float64
	TrendStrength float64 // ADX 归一化到 [0,1]
}

type cacheEntry struct {
	key    string
	values Values
}

// Calculator 提供技术指标计算并带有简单缓存。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算快照指标。K线不足时返回错误，
// 由上层按"保留原保护位"的方式降级。
func (c *Calculator) Compute(symbol string, candles []market.Candle) (Values, error) {
	if len(candles) < MinCandles {
		return Values{}, fmt.Errorf("计算指标失败: K线数量不足，至少需要 %d 根，当前 %d", MinCandles, len(candles))
	}

	series := NewSeries(candles)
	cacheKey := fmt.Sprintf("%s:%d:%d", symbol, series.Len(), series.Timestamps[series.Len()-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[symbol]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.values, nil
	}
	c.mu.Unlock()

	values := c.calculate(series)

	c.mu.Lock()
	c.cache[symbol] = cacheEntry{key: cacheKey, values: values}
	c.mu.Unlock()

	return values, nil
}

func (c *Calculator) calculate(series Series) Values {
	closePrices := series.Close
	highs := series.High
	lows := series.Low

	atr := talib.Atr(highs, lows, closePrices, atrPeriod)
	rsi := talib.Rsi(closePrices, rsiPeriod)
	adx := talib.Adx(highs, lows, closePrices, adxPeriod)
	roc := talib.Roc(closePrices, momentumPeriod)

	lastClose := Last(closePrices)
	atrRelative := SafeDivide(Last(atr), lastClose)
	momentum := Last(roc) / 100

	trendStrength := Last(adx) / 100
	if !math.IsNaN(trendStrength) {
		trendStrength = math.Max(0, math.Min(1, trendStrength))
	}

	return Values{
		Volatility:    atrRelative,
		Momentum:      momentum,
		RSI:           Last(rsi),
		TrendStrength: trendStrength,
	}
}
