package exit

import (
	"testing"
	"time"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/market"
	"futures-sentinel/internal/position"
)

func testConfig() config.ExitConfig {
	return config.ExitConfig{
		ExceptionalProfit: 0.20,
		ProfitTiers: []config.ProfitTier{
			{Profit: 0.15, MinDistance: 0.01},
			{Profit: 0.10, MinDistance: 0.015},
			{Profit: 0.08, MinDistance: 0.02},
			{Profit: 0.05, MinDistance: 0.03},
		},
		MinPeakForRetrace:    0.10,
		RetracementFraction:  0.40,
		StallHours:           4,
		StallProfitThreshold: 0.02,
		StallStopDistance:    0.01,
		ScaleTiers: []config.ScaleTier{
			{Name: "tier_2pct", Profit: 0.02, Fraction: 0.25},
			{Name: "tier_4pct", Profit: 0.04, Fraction: 0.25},
			{Name: "tier_6pct", Profit: 0.06, Fraction: 0.50},
		},
	}
}

func makeSnapshot(price, hours float64) market.Snapshot {
	return market.Snapshot{
		Symbol:        "BTC/USDT:USDT",
		Price:         price,
		Volatility:    0.01,
		Momentum:      0.0,
		RSI:           50,
		TrendStrength: 0.5,
		TimeInTrade:   hours,
		RetrievedAt:   time.Now().UTC(),
	}
}

func TestEvaluate_HardStopLoss(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	long := mustPosition(t, position.SideLong, 100, 5)
	long.TightenStopLoss(98)
	decision := evaluator.Evaluate(long, makeSnapshot(97.5, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonStopLoss {
		t.Errorf("long stop: got %+v", decision)
	}

	short := mustPosition(t, position.SideShort, 100, 5)
	short.TightenStopLoss(102)
	decision = evaluator.Evaluate(short, makeSnapshot(102.5, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonStopLoss {
		t.Errorf("short stop: got %+v", decision)
	}
}

func TestEvaluate_HardTakeProfit(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	long := mustPosition(t, position.SideLong, 100, 5)
	long.SetTakeProfit(104)
	decision := evaluator.Evaluate(long, makeSnapshot(104.5, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonTakeProfit {
		t.Errorf("long take profit: got %+v", decision)
	}
}

func TestEvaluate_ExceptionalProfit(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	decision := evaluator.Evaluate(pos, makeSnapshot(121, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonExceptional {
		t.Errorf("exceptional profit: got %+v", decision)
	}
}

// 高杠杆下的小幅价格变动绝不能触发基于未加杠杆阈值的规则。
func TestEvaluate_ThresholdsAreUnleveraged(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 20)
	// 价格变动1%，杠杆后收益20%，但未加杠杆仅0.01。
	decision := evaluator.Evaluate(pos, makeSnapshot(101, 1))
	if decision.Action != ActionHold {
		t.Fatalf("1%% move with 20x leverage must hold: got %+v", decision)
	}
}

func TestEvaluate_GatedTierClosesWhenTargetFar(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	pos.SetTakeProfit(118)
	decision := evaluator.Evaluate(pos, makeSnapshot(110, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonProfitTier {
		t.Errorf("gated tier with far target: got %+v", decision)
	}
}

func TestEvaluate_GatedTierLetsRunWhenTargetNear(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	pos.SetTakeProfit(110.5)
	decision := evaluator.Evaluate(pos, makeSnapshot(110, 1))
	if decision.Action == ActionClose {
		t.Errorf("near target must not bank early: got %+v", decision)
	}
}

func TestEvaluate_GatedTierUnsetTargetIsFar(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	decision := evaluator.Evaluate(pos, makeSnapshot(106, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonProfitTier {
		t.Errorf("unset target counts as far: got %+v", decision)
	}
}

func TestEvaluate_RetracementUsesLeveragedUnits(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	// 峰值：价格103，杠杆后收益0.15，超过最小峰值0.10。
	pos.RecordExcursion(103)

	// 当前101.5：杠杆后0.075 ≤ 0.15*(1-0.40)=0.09，触发回撤退出。
	decision := evaluator.Evaluate(pos, makeSnapshot(101.5, 1))
	if decision.Action != ActionClose || decision.Reason != ReasonMomentumLoss {
		t.Errorf("retracement: got %+v", decision)
	}
}

func TestEvaluate_RetracementNeedsMinimumPeak(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	// 峰值仅0.05，未达最小峰值，完全回吐也不触发。
	pos.RecordExcursion(101)
	decision := evaluator.Evaluate(pos, makeSnapshot(100.05, 1))
	if decision.Action != ActionHold || decision.Reason == ReasonMomentumLoss {
		t.Errorf("sub-peak retracement must hold: got %+v", decision)
	}
}

func TestEvaluate_StalledPositionTightensStop(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	decision := evaluator.Evaluate(pos, makeSnapshot(100.5, 5))
	if decision.Action != ActionHold {
		t.Fatalf("stalled above tightened stop must hold: got %+v", decision)
	}
	if decision.StalledStop != 99 {
		t.Errorf("stalled stop: got %f want 99", decision.StalledStop)
	}
}

func TestEvaluate_StalledPositionClosesBeyondStop(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	decision := evaluator.Evaluate(pos, makeSnapshot(98.5, 5))
	if decision.Action != ActionClose || decision.Reason != ReasonStalledStopHit {
		t.Errorf("stalled beyond stop: got %+v", decision)
	}
}

func TestEvaluate_ProfitableStalledPositionUntouched(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	pos.MarkTierTaken("tier_2pct")
	decision := evaluator.Evaluate(pos, makeSnapshot(103, 10))
	if decision.StalledStop != 0 {
		t.Errorf("profitable stalled position must not be tightened: got %+v", decision)
	}
	if decision.Action != ActionHold {
		t.Errorf("expected hold, got %+v", decision)
	}
}

func TestEvaluate_ScaleTiersFireOnceEach(t *testing.T) {
	evaluator := NewEvaluator(testConfig(), nil)

	pos := mustPosition(t, position.SideLong, 100, 5)
	decision := evaluator.Evaluate(pos, makeSnapshot(102.5, 1))
	if decision.Action != ActionScaleOut || decision.Tier != "tier_2pct" || decision.Fraction != 0.25 {
		t.Fatalf("first tier: got %+v", decision)
	}

	pos.MarkTierTaken(decision.Tier)
	decision = evaluator.Evaluate(pos, makeSnapshot(102.5, 1))
	if decision.Action != ActionHold {
		t.Errorf("taken tier must not refire: got %+v", decision)
	}

	decision = evaluator.Evaluate(pos, makeSnapshot(104.5, 1))
	if decision.Action != ActionScaleOut || decision.Tier != "tier_4pct" {
		t.Errorf("next tier: got %+v", decision)
	}
}

func mustPosition(t *testing.T, side position.Side, entry float64, leverage int) *position.Position {
	t.Helper()
	pos, err := position.New("BTC/USDT:USDT", side, entry, 1.0, leverage)
	if err != nil {
		t.Fatalf("position.New returned error: %v", err)
	}
	return pos
}
