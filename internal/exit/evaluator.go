package exit

import (
	"sort"

	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
)

// Action 表示评估器给出的处置动作。
type Action string

const (
	ActionHold     Action = "HOLD"
	ActionScaleOut Action = "SCALE_OUT"
	ActionClose    Action = "CLOSE"
)

// 平仓原因。
const (
	ReasonStopLoss       = "stop_loss"
	ReasonTakeProfit     = "take_profit"
	ReasonExceptional    = "take_profit_exceptional"
	ReasonProfitTier     = "profit_tier"
	ReasonMomentumLoss   = "momentum_loss"
	ReasonStalledStopHit = "stop_loss_stalled_position"
)

// Decision 是单次评估的输出。
// StalledStop 非零时表示滞涨仓位需要收紧止损到该价位（非立即平仓）。
type Decision struct {
	Action      Action
	Reason      string
	Tier        string
	Fraction    float64
	StalledStop float64
}

// Hold 返回持有决策。
func Hold() Decision { return Decision{Action: ActionHold} }

// Evaluator 按优先级评估退出规则，首个命中即返回。
// 除回撤规则用杠杆后收益（峰值与当前值同单位）外，
// 所有利润阈值均比较未加杠杆的价格变动比例。
type Evaluator struct {
	cfg    config.ExitConfig
	tiers  []config.ProfitTier
	logger *zap.Logger
}

// NewEvaluator 创建退出评估器。
func NewEvaluator(cfg config.ExitConfig, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	tiers := make([]config.ProfitTier, len(cfg.ProfitTiers))
	copy(tiers, cfg.ProfitTiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Profit > tiers[j].Profit })
	return &Evaluator{cfg: cfg, tiers: tiers, logger: logger}
}

// Evaluate 对单个持仓执行一次完整的规则评估。
func (e *Evaluator) Evaluate(pos *position.Position, snap market.Snapshot) Decision {
	price := snap.Price
	profit := float64(pos.PnL(price))

	// 1. 硬止损/止盈触发。
	if reason, hit := e.hardLevelHit(pos, price); hit {
		return Decision{Action: ActionClose, Reason: reason}
	}

	// 2. 异常盈利直接落袋，不再追逐止盈目标。
	if profit >= e.cfg.ExceptionalProfit {
		return Decision{Action: ActionClose, Reason: ReasonExceptional}
	}

	// 3. 距离门控分档止盈：止盈目标尚远才落袋，目标在望则放行。
	if hit := e.gatedTierHit(pos, price, profit); hit {
		return Decision{Action: ActionClose, Reason: ReasonProfitTier}
	}

	// 4. 利润回撤：峰值与当前值皆为杠杆后收益，单位一致。
	if e.retracementHit(pos, price) {
		return Decision{Action: ActionClose, Reason: ReasonMomentumLoss}
	}

	// 5. 滞涨仓位：超时且未盈利的仓位收紧止损，已跌破则立即平仓。
	if decision, hit := e.stalledCheck(pos, snap, profit); hit {
		return decision
	}

	// 6. 分批止盈阶梯，每档至多触发一次。
	if decision, hit := e.scaleTierHit(pos, profit); hit {
		return decision
	}

	return Hold()
}

func (e *Evaluator) hardLevelHit(pos *position.Position, price float64) (string, bool) {
	sl, tp := pos.StopLoss(), pos.TakeProfit()
	if pos.Side() == position.SideLong {
		if sl > 0 && price <= sl {
			return ReasonStopLoss, true
		}
		if tp > 0 && price >= tp {
			return ReasonTakeProfit, true
		}
		return "", false
	}
	if sl > 0 && price >= sl {
		return ReasonStopLoss, true
	}
	if tp > 0 && price <= tp {
		return ReasonTakeProfit, true
	}
	return "", false
}

func (e *Evaluator) gatedTierHit(pos *position.Position, price, profit float64) bool {
	for _, tier := range e.tiers {
		if profit < tier.Profit {
			continue
		}
		if e.takeProfitFar(pos, price, tier.MinDistance) {
			return true
		}
		// 止盈目标已在门控距离之内，让行情跑向真实目标。
		return false
	}
	return false
}

// takeProfitFar 判断止盈目标距当前价是否仍超过最小距离；未设止盈视为无限远。
func (e *Evaluator) takeProfitFar(pos *position.Position, price, minDistance float64) bool {
	tp := pos.TakeProfit()
	if tp <= 0 {
		return true
	}
	var remaining float64
	if pos.Side() == position.SideLong {
		remaining = (tp - price) / price
	} else {
		remaining = (price - tp) / price
	}
	return remaining > minDistance
}

func (e *Evaluator) retracementHit(pos *position.Position, price float64) bool {
	peak := float64(pos.MaxFavorableExcursion())
	if peak < e.cfg.MinPeakForRetrace {
		return false
	}
	current := float64(pos.LeveragedPnL(price))
	return current <= peak*(1-e.cfg.RetracementFraction)
}

func (e *Evaluator) stalledCheck(pos *position.Position, snap market.Snapshot, profit float64) (Decision, bool) {
	if snap.TimeInTrade < e.cfg.StallHours || profit >= e.cfg.StallProfitThreshold {
		return Decision{}, false
	}

	var stop float64
	if pos.Side() == position.SideLong {
		stop = pos.EntryPrice() * (1 - e.cfg.StallStopDistance)
		if snap.Price <= stop {
			return Decision{Action: ActionClose, Reason: ReasonStalledStopHit}, true
		}
	} else {
		stop = pos.EntryPrice() * (1 + e.cfg.StallStopDistance)
		if snap.Price >= stop {
			return Decision{Action: ActionClose, Reason: ReasonStalledStopHit}, true
		}
	}

	e.logger.Info("仓位滞涨，收紧止损",
		zap.String("symbol", pos.Symbol()),
		zap.Float64("hours", snap.TimeInTrade),
		zap.Float64("stalled_stop", stop),
	)
	return Decision{Action: ActionHold, StalledStop: stop}, true
}

func (e *Evaluator) scaleTierHit(pos *position.Position, profit float64) (Decision, bool) {
	for _, tier := range e.cfg.ScaleTiers {
		if profit < tier.Profit || pos.TierTaken(tier.Name) {
			continue
		}
		return Decision{
			Action:   ActionScaleOut,
			Tier:     tier.Name,
			Fraction: tier.Fraction,
		}, true
	}
	return Decision{}, false
}
