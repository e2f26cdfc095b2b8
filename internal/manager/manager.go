package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/exit"
	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
	"futures-sentinel/internal/protect"
	"futures-sentinel/internal/retry"
)

// Manager 持有全部在场仓位并驱动每轮监控循环。
// 仓位集合由互斥锁保护；锁只覆盖集合读写与实体变更，
// 绝不跨越任何网络调用持有，避免慢请求拖垮整轮循环。
type Manager struct {
	cfg       config.ManagerConfig
	updater   *protect.Updater
	evaluator *exit.Evaluator
	feed      PriceFeed
	data      MarketData
	exchange  ExchangeClient
	policy    retry.Policy
	logger    *zap.Logger

	mu        sync.Mutex
	positions map[string]*position.Position

	now func() time.Time
}

// New 创建仓位管理器。
func New(
	cfg config.ManagerConfig,
	updater *protect.Updater,
	evaluator *exit.Evaluator,
	feed PriceFeed,
	data MarketData,
	ex ExchangeClient,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		updater:   updater,
		evaluator: evaluator,
		feed:      feed,
		data:      data,
		exchange:  ex,
		policy:    retry.FromConfig(cfg.PriceRetry),
		logger:    logger,
		positions: make(map[string]*position.Position),
		now:       time.Now,
	}
}

// OpenPosition 记录一笔已确认成交的开仓，并设置初始止损。
// 同一交易对已有在场仓位时拒绝重复开仓。
func (m *Manager) OpenPosition(symbol string, side position.Side, entryPrice, amount float64, leverage int) (*position.Position, error) {
	pos, err := position.New(symbol, side, entryPrice, amount, leverage)
	if err != nil {
		return nil, err
	}
	pos.TightenStopLoss(m.updater.InitialStopPrice(side, entryPrice))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[symbol]; exists {
		return nil, fmt.Errorf("manager: %s 已有在场仓位", symbol)
	}
	m.positions[symbol] = pos

	m.logger.Info("仓位已登记",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("entry_price", entryPrice),
		zap.Float64("amount", amount),
		zap.Int("leverage", leverage),
		zap.Float64("stop_loss", pos.StopLoss()),
	)
	return pos, nil
}

// OpenPositionCount 返回在场仓位数量。
func (m *Manager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// RunCycle 对全部在场仓位执行一轮监控，返回每个仓位的处置结果。
func (m *Manager) RunCycle(ctx context.Context) []CycleResult {
	symbols := m.snapshotSymbols()
	results := make([]CycleResult, 0, len(symbols))
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.processPosition(ctx, symbol))
	}
	return results
}

// snapshotSymbols 在锁内快照当前仓位标识，循环主体在锁外执行。
func (m *Manager) snapshotSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbols := make([]string, 0, len(m.positions))
	for symbol := range m.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (m *Manager) processPosition(ctx context.Context, symbol string) CycleResult {
	price, err := m.fetchPrice(ctx, symbol)
	if err != nil {
		// 价格不可得时本轮跳过，保留原有保护位，绝不因缺数据平仓。
		m.logger.Error("价格获取重试耗尽，本轮跳过该仓位",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return CycleResult{Symbol: symbol, Action: ResultSkipped, Err: err.Error()}
	}

	snap, err := m.data.Snapshot(ctx, symbol)
	if err != nil {
		m.logger.Warn("市场快照获取失败，降级为仅价格评估",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		snap = market.Invalid(symbol, price, m.now())
	}
	snap.Price = price

	decision, posSnap, ok := m.evaluate(symbol, &snap)
	if !ok {
		// 仓位在取价期间已被并发移除。
		return CycleResult{Symbol: symbol, Action: ResultSkipped}
	}

	switch decision.Action {
	case exit.ActionClose:
		return m.closePosition(ctx, symbol, price, decision.Reason)
	case exit.ActionScaleOut:
		return m.scaleOut(ctx, symbol, price, decision)
	default:
		return CycleResult{
			Symbol:   symbol,
			Action:   ResultHeld,
			Price:    price,
			Position: posSnap,
		}
	}
}

// priceRetryable 价格获取失败一律按瞬时故障重试，上下文取消除外。
func priceRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return err != nil
}

// fetchPrice 按退避调度表有界重试拉取价格。
func (m *Manager) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := m.policy.Do(ctx, "获取最新价", m.logger, priceRetryable, func() error {
		p, err := m.feed.LastPrice(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		return 0, err
	}
	return price, nil
}

// evaluate 在锁内完成本轮的实体变更与规则评估。
func (m *Manager) evaluate(symbol string, snap *market.Snapshot) (exit.Decision, position.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, exists := m.positions[symbol]
	if !exists {
		return exit.Decision{}, position.Snapshot{}, false
	}

	pos.RecordExcursion(snap.Price)
	snap.TimeInTrade = pos.AgeHours(m.now())
	m.updater.Apply(pos, *snap)

	decision := m.evaluator.Evaluate(pos, *snap)
	if decision.StalledStop > 0 {
		pos.TightenStopLoss(decision.StalledStop)
	}
	return decision, pos.Snapshot(), true
}

func (m *Manager) closePosition(ctx context.Context, symbol string, price float64, reason string) CycleResult {
	side, amount, ok := m.positionOrder(symbol)
	if !ok {
		return CycleResult{Symbol: symbol, Action: ResultSkipped}
	}

	if err := m.exchange.ClosePosition(ctx, symbol, side, amount); err != nil {
		// 平仓失败必须原样保留仓位，下一轮继续受保护地监控。
		m.logger.Error("平仓请求失败，仓位保留待下轮重试",
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return CycleResult{Symbol: symbol, Action: ResultFailed, Reason: reason, Err: err.Error()}
	}

	m.mu.Lock()
	pos, exists := m.positions[symbol]
	var realized float64
	var posSnap position.Snapshot
	if exists {
		realized = float64(pos.LeveragedPnL(price))
		posSnap = pos.Snapshot()
		delete(m.positions, symbol)
	}
	m.mu.Unlock()

	m.logger.Info("仓位已平仓",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("realized_pnl", realized),
	)
	return CycleResult{
		Symbol:      symbol,
		Action:      ResultClosed,
		Reason:      reason,
		Price:       price,
		RealizedPnL: realized,
		Position:    posSnap,
	}
}

func (m *Manager) scaleOut(ctx context.Context, symbol string, price float64, decision exit.Decision) CycleResult {
	side, amount, ok := m.positionOrder(symbol)
	if !ok {
		return CycleResult{Symbol: symbol, Action: ResultSkipped}
	}
	delta := amount * decision.Fraction
	if delta >= amount {
		// 减仓数量覆盖整仓时按平仓处理，确保交易所清零后本地账本同步移除。
		return m.closePosition(ctx, symbol, price, exit.ReasonProfitTier)
	}

	minSize, err := m.exchange.MinOrderSize(ctx, symbol)
	if err != nil {
		m.logger.Warn("最小下单量查询失败，本轮跳过分批止盈",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return CycleResult{Symbol: symbol, Action: ResultSkipped, Tier: decision.Tier, Err: err.Error()}
	}
	if minSize > 0 && delta < minSize {
		// 低于最小下单量：不标记档位，保留全仓，避免必然被拒的订单。
		m.logger.Info("分批数量低于最小下单量，跳过该档位",
			zap.String("symbol", symbol),
			zap.String("tier", decision.Tier),
			zap.Float64("delta", delta),
			zap.Float64("min_size", minSize),
		)
		return CycleResult{Symbol: symbol, Action: ResultSkipped, Tier: decision.Tier}
	}

	if err := m.exchange.ScaleOut(ctx, symbol, side, delta); err != nil {
		m.logger.Error("分批减仓请求失败，仓位保持不变",
			zap.String("symbol", symbol),
			zap.String("tier", decision.Tier),
			zap.Error(err),
		)
		return CycleResult{Symbol: symbol, Action: ResultFailed, Tier: decision.Tier, Err: err.Error()}
	}

	m.mu.Lock()
	pos, exists := m.positions[symbol]
	var realized float64
	var posSnap position.Snapshot
	if exists {
		realized = float64(pos.LeveragedPnL(price))
		if err := pos.ReduceAmount(delta); err != nil {
			m.logger.Error("减仓入账失败", zap.String("symbol", symbol), zap.Error(err))
		} else {
			pos.MarkTierTaken(decision.Tier)
		}
		posSnap = pos.Snapshot()
	}
	m.mu.Unlock()

	m.logger.Info("分批止盈已执行",
		zap.String("symbol", symbol),
		zap.String("tier", decision.Tier),
		zap.Float64("delta", delta),
		zap.Float64("price", price),
	)
	return CycleResult{
		Symbol:      symbol,
		Action:      ResultScaled,
		Reason:      exit.ReasonProfitTier,
		Tier:        decision.Tier,
		Price:       price,
		RealizedPnL: realized,
		Position:    posSnap,
	}
}

// positionOrder 在锁内读出下单所需的方向与数量。
func (m *Manager) positionOrder(symbol string) (position.Side, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, exists := m.positions[symbol]
	if !exists {
		return "", 0, false
	}
	return pos.Side(), pos.Amount(), true
}

// CloseAll 在停机时对每个在场仓位各尝试一次平仓。
// 失败的仓位必须明确记录，绝不在未获交易所确认时宣称已平。
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	type order struct {
		symbol string
		side   position.Side
		amount float64
	}
	orders := make([]order, 0, len(m.positions))
	for symbol, pos := range m.positions {
		orders = append(orders, order{symbol: symbol, side: pos.Side(), amount: pos.Amount()})
	}
	m.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool { return orders[i].symbol < orders[j].symbol })
	for _, o := range orders {
		if err := m.exchange.ClosePosition(ctx, o.symbol, o.side, o.amount); err != nil {
			m.logger.Error("停机平仓失败，可能仍在交易所持仓",
				zap.String("symbol", o.symbol),
				zap.Error(err),
			)
			continue
		}
		m.mu.Lock()
		delete(m.positions, o.symbol)
		m.mu.Unlock()
		m.logger.Info("停机平仓完成", zap.String("symbol", o.symbol))
	}
}
