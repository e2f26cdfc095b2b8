package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-sentinel/internal/indicator"
	"futures-sentinel/internal/market"
)

const snapshotCandleLimit = 200

// MarketDataService 聚合K线拉取与指标计算，产出市场快照。
type MarketDataService struct {
	client     *Client
	indicators *indicator.Calculator
	logger     *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client *Client, calc *indicator.Calculator, logger *zap.Logger) *MarketDataService {
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client:     client,
		indicators: calc,
		logger:     logger,
	}
}

// Snapshot 拉取K线与最新价并计算指标。
// 指标计算失败时降级为仅携带价格的快照，保护位更新由上层跳过。
func (s *MarketDataService) Snapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	var (
		candles []market.Candle
		price   float64
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := s.client.FetchCandles(groupCtx, symbol, Timeframe1h, snapshotCandleLimit)
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	group.Go(func() error {
		p, err := s.client.LastPrice(groupCtx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})

	if err := group.Wait(); err != nil {
		return market.Snapshot{}, err
	}

	now := time.Now().UTC()

	values, err := s.indicators.Compute(symbol, candles)
	if err != nil {
		s.logger.Warn("指标计算失败，降级为仅价格快照",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return market.Invalid(symbol, price, now), nil
	}

	snapshot := market.Snapshot{
		Symbol:        symbol,
		Price:         price,
		Volatility:    values.Volatility,
		Momentum:      values.Momentum,
		RSI:           values.RSI,
		TrendStrength: values.TrendStrength,
		RetrievedAt:   now,
	}

	s.logger.Debug("市场数据快照获取完成",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("volatility", values.Volatility),
		zap.Float64("rsi", values.RSI),
	)

	return snapshot, nil
}
