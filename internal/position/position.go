package position

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid 判断方向取值是否合法。
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// UnleveragedReturn 为未加杠杆的价格变动比例（按方向取符号）。
// LeveragedReturn 为保证金收益率（ROI），等于前者乘以杠杆倍数。
// 两者刻意定义为不同类型：任何阈值比较都必须显式声明自己工作在哪种单位上，
// 混用会在编译期暴露。
type UnleveragedReturn float64

// LeveragedReturn 见 UnleveragedReturn 的说明。
type LeveragedReturn float64

// ErrInvalidParameter 表示开仓参数非法（entry_price/amount/leverage 非正）。
var ErrInvalidParameter = errors.New("position: 开仓参数非法")

// Position 表示一笔带杠杆的合约持仓。
// 自身不做并发保护，由 manager 持有的互斥锁保证独占访问。
type Position struct {
	symbol     string
	side       Side
	entryPrice float64
	amount     float64
	leverage   int
	openedAt   time.Time

	stopLoss   float64 // 0 表示未设置
	takeProfit float64 // 0 表示未设置

	trailingActive bool
	maxFavorable   LeveragedReturn
	maxAdverse     LeveragedReturn

	tiersTaken map[string]struct{}
}

// New 创建持仓，entry_price/amount 必须为正、leverage 至少为1，否则返回 ErrInvalidParameter。
func New(symbol string, side Side, entryPrice, amount float64, leverage int) (*Position, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol 不能为空", ErrInvalidParameter)
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side=%q", ErrInvalidParameter, side)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("%w: entry_price=%v", ErrInvalidParameter, entryPrice)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount=%v", ErrInvalidParameter, amount)
	}
	if leverage < 1 {
		return nil, fmt.Errorf("%w: leverage=%d", ErrInvalidParameter, leverage)
	}

	return &Position{
		symbol:     symbol,
		side:       side,
		entryPrice: entryPrice,
		amount:     amount,
		leverage:   leverage,
		openedAt:   time.Now().UTC(),
		tiersTaken: make(map[string]struct{}),
	}, nil
}

// Symbol 返回交易对。
func (p *Position) Symbol() string { return p.symbol }

// Side 返回持仓方向。
func (p *Position) Side() Side { return p.side }

// EntryPrice 返回开仓均价。
func (p *Position) EntryPrice() float64 { return p.entryPrice }

// Amount 返回当前合约数量。
func (p *Position) Amount() float64 { return p.amount }

// Leverage 返回杠杆倍数。
func (p *Position) Leverage() int { return p.leverage }

// StopLoss 返回当前止损价，0 表示未设置。
func (p *Position) StopLoss() float64 { return p.stopLoss }

// TakeProfit 返回当前止盈价，0 表示未设置。
func (p *Position) TakeProfit() float64 { return p.takeProfit }

// OpenedAt 返回开仓时间。
func (p *Position) OpenedAt() time.Time { return p.openedAt }

// TrailingActive 返回追踪止损是否已激活。
func (p *Position) TrailingActive() bool { return p.trailingActive }

// MaxFavorableExcursion 返回开仓以来观察到的最高杠杆收益。
func (p *Position) MaxFavorableExcursion() LeveragedReturn { return p.maxFavorable }

// MaxAdverseExcursion 返回开仓以来观察到的最低杠杆收益。
func (p *Position) MaxAdverseExcursion() LeveragedReturn { return p.maxAdverse }

// PnL 返回未加杠杆的价格变动比例：多头为 (price-entry)/entry，空头取反。
// 该方法与 LeveragedPnL 是两种收益单位唯一允许的来源。
func (p *Position) PnL(price float64) UnleveragedReturn {
	if price <= 0 || p.entryPrice <= 0 {
		return 0
	}
	move := (price - p.entryPrice) / p.entryPrice
	if p.side == SideShort {
		move = -move
	}
	return UnleveragedReturn(move)
}

// LeveragedPnL 返回保证金收益率（ROI）。
func (p *Position) LeveragedPnL(price float64) LeveragedReturn {
	return LeveragedReturn(float64(p.PnL(price)) * float64(p.leverage))
}

// RecordExcursion 用当前价的杠杆收益更新双向极值。
// 单调：有利极值只增、不利极值只减，非极值输入为空操作。
func (p *Position) RecordExcursion(price float64) {
	lev := p.LeveragedPnL(price)
	if lev > p.maxFavorable {
		p.maxFavorable = lev
	}
	if lev < p.maxAdverse {
		p.maxAdverse = lev
	}
}

// ActivateTrailing 激活追踪止损；激活后在持仓存续期内不会回退。
func (p *Position) ActivateTrailing() {
	p.trailingActive = true
}

// TightenStopLoss 尝试将止损收紧到 candidate。
// 只允许朝降低风险的方向移动：多头只上移、空头只下移；
// 无论上层算出什么候选值，放松方向的修改一律被拒绝。
// 返回是否发生了修改。
func (p *Position) TightenStopLoss(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.stopLoss == 0 {
		p.stopLoss = candidate
		return true
	}
	switch p.side {
	case SideLong:
		if candidate > p.stopLoss {
			p.stopLoss = candidate
			return true
		}
	case SideShort:
		if candidate < p.stopLoss {
			p.stopLoss = candidate
			return true
		}
	}
	return false
}

// SetTakeProfit 设置止盈价。取值是否允许由 protect 的进度带规则决定，
// 实体只拒绝非正值。返回是否发生了修改。
func (p *Position) SetTakeProfit(price float64) bool {
	if price <= 0 || price == p.takeProfit {
		return false
	}
	p.takeProfit = price
	return true
}

// TierTaken 判断某个分批止盈档位是否已触发过。
func (p *Position) TierTaken(name string) bool {
	_, ok := p.tiersTaken[name]
	return ok
}

// MarkTierTaken 将档位记为已触发，保证同一档位至多成交一次。
func (p *Position) MarkTierTaken(name string) {
	p.tiersTaken[name] = struct{}{}
}

// ReduceAmount 部分平仓后减少合约数量。
func (p *Position) ReduceAmount(delta float64) error {
	if delta <= 0 {
		return fmt.Errorf("position: 减仓数量必须为正: %v", delta)
	}
	if delta >= p.amount {
		return fmt.Errorf("position: 减仓数量 %v 不能超过当前持仓 %v", delta, p.amount)
	}
	p.amount -= delta
	return nil
}

// AgeHours 返回持仓时长（小时）。
func (p *Position) AgeHours(now time.Time) float64 {
	if now.IsZero() || p.openedAt.IsZero() {
		return 0
	}
	return now.Sub(p.openedAt).Hours()
}

// Snapshot 导出只读副本，供监控与分析协作方使用。
func (p *Position) Snapshot() Snapshot {
	tiers := make([]string, 0, len(p.tiersTaken))
	for name := range p.tiersTaken {
		tiers = append(tiers, name)
	}
	sort.Strings(tiers)

	return Snapshot{
		Symbol:         p.symbol,
		Side:           p.side,
		EntryPrice:     p.entryPrice,
		Amount:         p.amount,
		Leverage:       p.leverage,
		StopLoss:       p.stopLoss,
		TakeProfit:     p.takeProfit,
		OpenedAt:       p.openedAt,
		TrailingActive: p.trailingActive,
		MaxFavorable:   float64(p.maxFavorable),
		MaxAdverse:     float64(p.maxAdverse),
		PartialExits:   tiers,
	}
}
