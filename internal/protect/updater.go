package protect

import (
	"math"

	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
)

// Result 记录单次保护位重算的结果，供循环上报。
type Result struct {
	Skipped            bool
	TrailingActivated  bool
	StopTightened      bool
	TakeProfitAdjusted bool
	StopLoss           float64
	TakeProfit         float64
}

// 止盈进度分档：随未加杠杆利润逼近当前止盈目标，
// 扩展倍数逐级收紧，防止目标价一路外移导致盈利回吐。
type progressBand struct {
	progress float64
	cap      float64
}

var progressBands = []progressBand{
	{progress: 0.9, cap: 1.0},
	{progress: 0.8, cap: 1.1},
	{progress: 0.7, cap: 1.25},
	{progress: 0.5, cap: 1.5},
}

// Updater 按市场状态重算止损与止盈。
// 全部阈值基于未加杠杆的价格变动比例，行为与杠杆倍数无关。
type Updater struct {
	cfg    config.ProtectConfig
	logger *zap.Logger
}

// NewUpdater 创建保护位更新器。
func NewUpdater(cfg config.ProtectConfig, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{cfg: cfg, logger: logger}
}

// InitialStopPrice 计算开仓时的初始止损价。
func (u *Updater) InitialStopPrice(side position.Side, entryPrice float64) float64 {
	if side == position.SideLong {
		return entryPrice * (1 - u.cfg.InitialStop)
	}
	return entryPrice * (1 + u.cfg.InitialStop)
}

// Apply 对持仓执行一次保护位重算。
// 指标缺失时整轮跳过并保留原有保护位，与"无需调整"在日志上可区分。
func (u *Updater) Apply(pos *position.Position, snap market.Snapshot) Result {
	if !snap.IndicatorsValid() {
		u.logger.Warn("指标缺失，本轮跳过保护位重算",
			zap.String("symbol", pos.Symbol()),
			zap.Float64("price", snap.Price),
		)
		return Result{
			Skipped:    true,
			StopLoss:   pos.StopLoss(),
			TakeProfit: pos.TakeProfit(),
		}
	}

	profit := float64(pos.PnL(snap.Price))

	var res Result
	if !pos.TrailingActive() && profit >= u.cfg.TrailingActivation {
		pos.ActivateTrailing()
		res.TrailingActivated = true
	}

	res.StopTightened = u.updateStopLoss(pos, snap.Price, snap.Volatility, profit)
	res.TakeProfitAdjusted = u.updateTakeProfit(pos, snap, profit)
	res.StopLoss = pos.StopLoss()
	res.TakeProfit = pos.TakeProfit()

	if res.StopTightened || res.TakeProfitAdjusted {
		u.logger.Debug("保护位已更新",
			zap.String("symbol", pos.Symbol()),
			zap.Float64("stop_loss", res.StopLoss),
			zap.Float64("take_profit", res.TakeProfit),
			zap.Bool("trailing_active", pos.TrailingActive()),
		)
	}
	return res
}

// updateStopLoss 依据波动率确定基础止损距离，并随盈利增长收紧。
// 候选价只会朝减少风险的方向移动，松动候选由实体直接拒绝。
func (u *Updater) updateStopLoss(pos *position.Position, price, volatility, profit float64) bool {
	distance := u.cfg.StopVolatilityMult * volatility
	if distance < u.cfg.MinStopDistance {
		distance = u.cfg.MinStopDistance
	}
	if distance > u.cfg.MaxStopDistance {
		distance = u.cfg.MaxStopDistance
	}

	if profit > 0 {
		tighten := profit * u.cfg.ProfitTightenRate
		if tighten > u.cfg.MaxTighten {
			tighten = u.cfg.MaxTighten
		}
		distance *= 1 - tighten
	}

	var candidate float64
	if pos.Side() == position.SideLong {
		candidate = price * (1 - distance)
	} else {
		candidate = price * (1 + distance)
	}
	return pos.TightenStopLoss(candidate)
}

// updateTakeProfit 按动量/趋势扩展止盈目标，RSI极值或持仓过久时封顶，
// 并按利润进度分档限制扩展，已冻结的目标绝不外移。
func (u *Updater) updateTakeProfit(pos *position.Position, snap market.Snapshot, profit float64) bool {
	extension := 1.0

	signedMomentum := snap.Momentum
	if pos.Side() == position.SideShort {
		signedMomentum = -signedMomentum
	}
	if signedMomentum > 0 {
		extension += u.cfg.MomentumExtendMult * signedMomentum
	}
	extension += u.cfg.TrendExtendMult * (snap.TrendStrength - 0.5)

	if u.rsiExhausted(pos.Side(), snap.RSI) || snap.TimeInTrade > u.cfg.ExtensionMaxHours {
		if extension > 1.0 {
			extension = 1.0
		}
	}
	if extension > u.cfg.MaxExtension {
		extension = u.cfg.MaxExtension
	}
	if extension < 1.0 {
		extension = 1.0
	}

	candidateDist := u.cfg.BaseTakeProfit * extension

	currentDist := u.takeProfitDistance(pos)
	if currentDist > 0 {
		cap := bandCap(profit / currentDist)
		if maxDist := currentDist * cap; candidateDist > maxDist {
			candidateDist = maxDist
		}
		// 只扩展，收缩交给分档封顶后的下一轮自然冻结。
		if candidateDist <= currentDist {
			return false
		}
	}

	var target float64
	if pos.Side() == position.SideLong {
		target = pos.EntryPrice() * (1 + candidateDist)
	} else {
		target = pos.EntryPrice() * (1 - candidateDist)
	}
	return pos.SetTakeProfit(target)
}

// takeProfitDistance 返回当前止盈目标相对入场价的未加杠杆距离，未设置时为0。
func (u *Updater) takeProfitDistance(pos *position.Position) float64 {
	tp := pos.TakeProfit()
	if tp <= 0 {
		return 0
	}
	return math.Abs(tp-pos.EntryPrice()) / pos.EntryPrice()
}

func (u *Updater) rsiExhausted(side position.Side, rsi float64) bool {
	if side == position.SideLong {
		return rsi >= u.cfg.RSIOverbought
	}
	return rsi <= u.cfg.RSIOversold
}

// bandCap 返回给定止盈进度下允许的扩展上限，进度越高越收紧。
func bandCap(progress float64) float64 {
	for _, band := range progressBands {
		if progress >= band.progress {
			return band.cap
		}
	}
	return math.Inf(1)
}
