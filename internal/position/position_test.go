package position

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNew_RejectsInvalidParameters(t *testing.T) {
	cases := []struct {
		name     string
		symbol   string
		side     Side
		entry    float64
		amount   float64
		leverage int
	}{
		{"empty symbol", "", SideLong, 100, 1, 3},
		{"invalid side", "BTC/USDT:USDT", Side("UP"), 100, 1, 3},
		{"zero entry", "BTC/USDT:USDT", SideLong, 0, 1, 3},
		{"negative entry", "BTC/USDT:USDT", SideLong, -5, 1, 3},
		{"zero amount", "BTC/USDT:USDT", SideShort, 100, 0, 3},
		{"negative amount", "BTC/USDT:USDT", SideShort, 100, -1, 3},
		{"zero leverage", "BTC/USDT:USDT", SideLong, 100, 1, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.symbol, tc.side, tc.entry, tc.amount, tc.leverage)
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestPnL_SignedBySide(t *testing.T) {
	long := mustNew(t, SideLong, 100, 1)
	short := mustNew(t, SideShort, 100, 1)

	if got := float64(long.PnL(110)); math.Abs(got-0.10) > 1e-12 {
		t.Errorf("long pnl at 110: got %f want 0.10", got)
	}
	if got := float64(long.PnL(90)); math.Abs(got+0.10) > 1e-12 {
		t.Errorf("long pnl at 90: got %f want -0.10", got)
	}
	if got := float64(short.PnL(90)); math.Abs(got-0.10) > 1e-12 {
		t.Errorf("short pnl at 90: got %f want 0.10", got)
	}
	if got := float64(short.PnL(110)); math.Abs(got+0.10) > 1e-12 {
		t.Errorf("short pnl at 110: got %f want -0.10", got)
	}
}

func TestLeveragedPnL_ExactMultiple(t *testing.T) {
	prices := []float64{80, 95, 100, 104, 120}
	for _, leverage := range []int{1, 3, 5, 10, 20} {
		pos := mustNew(t, SideLong, 100, leverage)
		for _, price := range prices {
			unleveraged := float64(pos.PnL(price))
			leveraged := float64(pos.LeveragedPnL(price))
			want := unleveraged * float64(leverage)
			if math.Abs(leveraged-want) > 1e-12 {
				t.Errorf("leverage=%d price=%f: leveraged pnl %f, want %f",
					leverage, price, leveraged, want)
			}
		}
	}
}

func TestRecordExcursion_Monotonic(t *testing.T) {
	pos := mustNew(t, SideLong, 100, 5)

	pos.RecordExcursion(110)
	peak := pos.MaxFavorableExcursion()
	if math.Abs(float64(peak)-0.5) > 1e-12 {
		t.Fatalf("favorable excursion after 110: got %f want 0.5", float64(peak))
	}

	// 回落不应降低峰值。
	pos.RecordExcursion(104)
	if pos.MaxFavorableExcursion() != peak {
		t.Errorf("favorable excursion decreased: %f", float64(pos.MaxFavorableExcursion()))
	}

	pos.RecordExcursion(95)
	trough := pos.MaxAdverseExcursion()
	if math.Abs(float64(trough)+0.25) > 1e-12 {
		t.Fatalf("adverse excursion after 95: got %f want -0.25", float64(trough))
	}

	pos.RecordExcursion(100)
	if pos.MaxAdverseExcursion() != trough {
		t.Errorf("adverse excursion increased: %f", float64(pos.MaxAdverseExcursion()))
	}
}

func TestTightenStopLoss_MonotonicLong(t *testing.T) {
	pos := mustNew(t, SideLong, 100, 3)

	if !pos.TightenStopLoss(95) {
		t.Fatalf("initial stop should be accepted")
	}
	if !pos.TightenStopLoss(97) {
		t.Fatalf("tighter stop should be accepted")
	}
	if pos.TightenStopLoss(94) {
		t.Fatalf("looser stop must be rejected")
	}
	if pos.StopLoss() != 97 {
		t.Errorf("stop loss: got %f want 97", pos.StopLoss())
	}
}

func TestTightenStopLoss_MonotonicShort(t *testing.T) {
	pos := mustNew(t, SideShort, 100, 3)

	if !pos.TightenStopLoss(105) {
		t.Fatalf("initial stop should be accepted")
	}
	if !pos.TightenStopLoss(103) {
		t.Fatalf("tighter stop should be accepted")
	}
	if pos.TightenStopLoss(106) {
		t.Fatalf("looser stop must be rejected")
	}
	if pos.StopLoss() != 103 {
		t.Errorf("stop loss: got %f want 103", pos.StopLoss())
	}
}

func TestActivateTrailing_NeverReverts(t *testing.T) {
	pos := mustNew(t, SideLong, 100, 3)
	if pos.TrailingActive() {
		t.Fatalf("trailing must start inactive")
	}
	pos.ActivateTrailing()
	pos.ActivateTrailing()
	if !pos.TrailingActive() {
		t.Fatalf("trailing must stay active")
	}
}

func TestTierTaken_Idempotent(t *testing.T) {
	pos := mustNew(t, SideLong, 100, 3)
	if pos.TierTaken("tier_2pct") {
		t.Fatalf("tier should start untaken")
	}
	pos.MarkTierTaken("tier_2pct")
	pos.MarkTierTaken("tier_2pct")
	if !pos.TierTaken("tier_2pct") {
		t.Fatalf("tier should be recorded")
	}
	if pos.TierTaken("tier_4pct") {
		t.Fatalf("other tiers must be unaffected")
	}
}

func TestReduceAmount(t *testing.T) {
	pos := mustNew(t, SideLong, 100, 3)

	if err := pos.ReduceAmount(0.25); err != nil {
		t.Fatalf("ReduceAmount returned error: %v", err)
	}
	if math.Abs(pos.Amount()-0.75) > 1e-12 {
		t.Errorf("amount after reduce: got %f want 0.75", pos.Amount())
	}
	if err := pos.ReduceAmount(0); err == nil {
		t.Errorf("zero delta must be rejected")
	}
	if err := pos.ReduceAmount(0.75); err == nil {
		t.Errorf("full-amount reduce must be rejected")
	}
}

func TestAgeHours(t *testing.T) {
	pos := mustNew(t, SideLong, 100, 3)
	now := pos.OpenedAt().Add(90 * time.Minute)
	if got := pos.AgeHours(now); math.Abs(got-1.5) > 1e-9 {
		t.Errorf("age: got %f want 1.5", got)
	}
}

func mustNew(t *testing.T, side Side, entry float64, leverage int) *Position {
	t.Helper()
	pos, err := New("BTC/USDT:USDT", side, entry, 1.0, leverage)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return pos
}
