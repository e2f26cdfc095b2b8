package scanner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
	"futures-sentinel/internal/signal"
)

// MarketData 提供候选标的的市场快照。
type MarketData interface {
	Snapshot(ctx context.Context, symbol string) (market.Snapshot, error)
}

// Opener 在交易所实际建仓并返回成交价。
type Opener interface {
	OpenMarket(ctx context.Context, symbol string, side position.Side, amount float64, leverage int) (float64, error)
}

// PositionBook 登记已成交的开仓，并暴露在场仓位数量。
type PositionBook interface {
	OpenPosition(symbol string, side position.Side, entryPrice, amount float64, leverage int) (*position.Position, error)
	OpenPositionCount() int
}

// Recorder 落档扫描过程中产生的事件，可为空。
type Recorder interface {
	RecordSignal(ctx context.Context, entries []signal.Entry)
	RecordOpen(ctx context.Context, snapshot position.Snapshot)
}

// Scanner 周期性扫描候选市场并建仓。
// 启动前等待一段延迟，保证监控循环先于扫描占用交易所请求额度。
type Scanner struct {
	cfg      config.ScannerConfig
	markets  []string
	data     MarketData
	provider signal.Provider
	opener   Opener
	book     PositionBook
	recorder Recorder
	logger   *zap.Logger

	lastOpened map[string]time.Time
	now        func() time.Time
}

// New 创建扫描器。
func New(
	cfg config.ScannerConfig,
	markets []string,
	data MarketData,
	provider signal.Provider,
	opener Opener,
	book PositionBook,
	recorder Recorder,
	logger *zap.Logger,
) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:        cfg,
		markets:    markets,
		data:       data,
		provider:   provider,
		opener:     opener,
		book:       book,
		recorder:   recorder,
		logger:     logger,
		lastOpened: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Run 按配置间隔循环扫描，直到上下文取消。
func (s *Scanner) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.StartupDelay):
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("扫描器已启动",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("markets", len(s.markets)),
	)

	for {
		s.Scan(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan 执行一轮扫描：采集快照、请求信号、按守护条件建仓。
func (s *Scanner) Scan(ctx context.Context) {
	if s.book.OpenPositionCount() >= s.cfg.MaxOpenPositions {
		s.logger.Debug("在场仓位已达上限，跳过本轮扫描")
		return
	}

	snapshots := s.collectSnapshots(ctx)
	if len(snapshots) == 0 {
		return
	}

	entries, err := s.provider.Generate(ctx, snapshots)
	if err != nil {
		s.logger.Error("信号生成失败", zap.Error(err))
		return
	}
	if s.recorder != nil {
		s.recorder.RecordSignal(ctx, entries)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		s.tryOpen(ctx, entry, snapshots)
	}
}

// collectSnapshots 采集候选市场快照，指标不完整的标的剔除。
func (s *Scanner) collectSnapshots(ctx context.Context) []market.Snapshot {
	snapshots := make([]market.Snapshot, 0, len(s.markets))
	for _, symbol := range s.markets {
		if ctx.Err() != nil {
			break
		}
		snap, err := s.data.Snapshot(ctx, symbol)
		if err != nil {
			s.logger.Warn("候选市场快照获取失败",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}
		if !snap.IndicatorsValid() {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func (s *Scanner) tryOpen(ctx context.Context, entry signal.Entry, snapshots []market.Snapshot) {
	if entry.Confidence < s.cfg.MinConfidence {
		s.logger.Debug("信号信心度不足，忽略",
			zap.String("symbol", entry.Symbol),
			zap.Float64("confidence", entry.Confidence),
		)
		return
	}
	if !s.knownSymbol(entry.Symbol, snapshots) {
		s.logger.Warn("信号标的不在候选列表，忽略", zap.String("symbol", entry.Symbol))
		return
	}
	if opened, ok := s.lastOpened[entry.Symbol]; ok && s.now().Sub(opened) < s.cfg.Cooldown {
		s.logger.Debug("标的处于冷却期，忽略", zap.String("symbol", entry.Symbol))
		return
	}
	if s.book.OpenPositionCount() >= s.cfg.MaxOpenPositions {
		return
	}

	// 模型给出的杠杆不得超过配置上限。
	leverage := entry.Leverage
	if s.cfg.MaxLeverage > 0 && leverage > s.cfg.MaxLeverage {
		leverage = s.cfg.MaxLeverage
	}
	side := entry.NormalizedSide()

	fillPrice, err := s.opener.OpenMarket(ctx, entry.Symbol, side, s.cfg.DefaultAmount, leverage)
	if err != nil {
		s.logger.Error("建仓失败",
			zap.String("symbol", entry.Symbol),
			zap.String("side", string(side)),
			zap.Error(err),
		)
		return
	}

	pos, err := s.book.OpenPosition(entry.Symbol, side, fillPrice, s.cfg.DefaultAmount, leverage)
	if err != nil {
		s.logger.Error("仓位登记失败，交易所可能存在未纳管仓位",
			zap.String("symbol", entry.Symbol),
			zap.Error(err),
		)
		return
	}
	s.lastOpened[entry.Symbol] = s.now()
	if s.recorder != nil {
		s.recorder.RecordOpen(ctx, pos.Snapshot())
	}

	s.logger.Info("已建仓",
		zap.String("symbol", entry.Symbol),
		zap.String("side", string(side)),
		zap.Float64("fill_price", fillPrice),
		zap.Int("leverage", leverage),
		zap.Float64("confidence", entry.Confidence),
		zap.String("reasoning", entry.Reasoning),
	)
}

func (s *Scanner) knownSymbol(symbol string, snapshots []market.Snapshot) bool {
	for _, snap := range snapshots {
		if snap.Symbol == symbol {
			return true
		}
	}
	return false
}
