package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
	"futures-sentinel/internal/retry"
)

// Timeframe1h 为指标计算使用的K线周期。
const Timeframe1h = "1h"

// Client 负责与交易所交互并实现重试机制。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
	policy   retry.Policy

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		policy:   retry.FromConfig(cfg.Retry),
	}, nil
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Binanceusdm {
	return c.exchange
}

// LastPrice 返回最近成交价。空价格按 ErrNoPrice 返回。
// 取价路径只做单次请求：退避重试统一由调用方的价格重试策略调度，
// 客户端层不再叠加一层重试。
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return 0, err
	}

	ticker, err := c.exchange.FetchTicker(symbol)
	if err != nil {
		normalized, _ := c.classifyError(err)
		return 0, normalized
	}
	return tickerPrice(symbol, ticker)
}

// tickerPrice 从行情中取可用价格，优先取最新成交价。
func tickerPrice(symbol string, ticker ccxt.Ticker) (float64, error) {
	switch {
	case ticker.Last != nil && *ticker.Last > 0:
		return *ticker.Last, nil
	case ticker.Close != nil && *ticker.Close > 0:
		return *ticker.Close, nil
	default:
		return 0, fmt.Errorf("%w: symbol=%s", ErrNoPrice, symbol)
	}
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		candles = append(candles, market.Candle{
			Timestamp: ts,
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// OpenMarket 以市价单开仓并返回成交价。先设置杠杆再下单。
func (c *Client) OpenMarket(ctx context.Context, symbol string, side position.Side, amount float64, leverage int) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("exchange: 开仓数量非法: %v", amount)
	}

	orderSide := "buy"
	if side == position.SideShort {
		orderSide = "sell"
	}

	var fillPrice float64
	err := c.callWithRetry(ctx, "open_market", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		if _, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(symbol)); err != nil {
			return err
		}

		order, err := c.exchange.CreateMarketOrder(symbol, orderSide, amount)
		if err != nil {
			return err
		}

		switch {
		case order.Average != nil && *order.Average > 0:
			fillPrice = *order.Average
		case order.Price != nil && *order.Price > 0:
			fillPrice = *order.Price
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: open_market %s: %v", ErrRejected, symbol, err)
	}

	if fillPrice <= 0 {
		price, err := c.LastPrice(ctx, symbol)
		if err != nil {
			return 0, err
		}
		fillPrice = price
	}

	c.logger.Info("开仓委托已成交",
		zap.String("symbol", symbol),
		zap.String("side", orderSide),
		zap.Float64("amount", amount),
		zap.Int("leverage", leverage),
		zap.Float64("fill_price", fillPrice),
	)
	return fillPrice, nil
}

// ClosePosition 以市价单全量平仓。失败时持仓由上层原样保留。
func (c *Client) ClosePosition(ctx context.Context, symbol string, side position.Side, amount float64) error {
	return c.submitReduceOnly(ctx, "close_position", symbol, side, amount, true)
}

// ScaleOut 以市价单部分平仓。
func (c *Client) ScaleOut(ctx context.Context, symbol string, side position.Side, amount float64) error {
	return c.submitReduceOnly(ctx, "scale_out", symbol, side, amount, false)
}

// MinOrderSize 查询交易对的最小下单量，未知时返回0。
func (c *Client) MinOrderSize(ctx context.Context, symbol string) (float64, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return 0, err
	}

	marketInfo := c.exchange.Market(symbol)
	marketMap, ok := marketInfo.(map[string]interface{})
	if !ok {
		return 0, nil
	}
	limits, _ := marketMap["limits"].(map[string]interface{})
	if limits == nil {
		return 0, nil
	}
	amount, _ := limits["amount"].(map[string]interface{})
	if amount == nil {
		return 0, nil
	}
	if minVal, ok := amount["min"].(float64); ok {
		return minVal, nil
	}
	return 0, nil
}

func (c *Client) submitReduceOnly(ctx context.Context, operation, symbol string, side position.Side, amount float64, closeAll bool) error {
	if amount <= 0 {
		return fmt.Errorf("exchange: 平仓数量非法: %v", amount)
	}

	orderSide := "sell"
	if side == position.SideShort {
		orderSide = "buy"
	}

	params := map[string]interface{}{
		"reduceOnly": true,
	}

	err := c.callWithRetry(ctx, operation, func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		_, err := c.exchange.CreateMarketOrder(
			symbol,
			orderSide,
			amount,
			ccxt.WithCreateMarketOrderParams(params),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRejected, operation, symbol, err)
	}

	if closeAll {
		c.logger.Info("平仓委托已提交",
			zap.String("symbol", symbol),
			zap.String("side", orderSide),
			zap.Float64("amount", amount),
		)
	}
	return nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Strings("markets", c.cfg.Markets))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	return c.policy.Do(ctx, operation, c.logger, func(err error) bool {
		normalized, retryable := c.classifyError(err)
		if errors.Is(normalized, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalized),
			)
		}
		return retryable
	}, fn)
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	if errors.Is(err, ErrNoPrice) {
		return err, true
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
