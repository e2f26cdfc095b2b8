package signal

import (
	"strings"
	"testing"

	"futures-sentinel/internal/market"
)

func TestParseEntries_ExtractsJSONFromNoise(t *testing.T) {
	content := "以下是我的建议：\n```json\n" + `{
  "entries": [
    {"symbol": "BTC/USDT:USDT", "side": "LONG", "confidence": 0.82, "leverage": 3, "reasoning": "上升趋势延续"}
  ]
}` + "\n```"

	entries, err := parseEntries(content)
	if err != nil {
		t.Fatalf("parseEntries returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d want 1", len(entries))
	}
	if entries[0].Symbol != "BTC/USDT:USDT" || entries[0].Confidence != 0.82 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestParseEntries_EmptyList(t *testing.T) {
	entries, err := parseEntries(`{"entries": []}`)
	if err != nil {
		t.Fatalf("parseEntries returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty list, got %d", len(entries))
	}
}

func TestParseEntries_NoJSON(t *testing.T) {
	if _, err := parseEntries("抱歉，我无法给出建议。"); err == nil {
		t.Fatalf("expected error for content without JSON")
	}
}

func TestEntryValidate(t *testing.T) {
	valid := Entry{
		Symbol:     "BTC/USDT:USDT",
		Side:       "long",
		Confidence: 0.75,
		Leverage:   3,
		Reasoning:  "breakout",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Entry)
		want   string
	}{
		{"empty symbol", func(e *Entry) { e.Symbol = " " }, "symbol"},
		{"bad side", func(e *Entry) { e.Side = "UP" }, "side"},
		{"confidence range", func(e *Entry) { e.Confidence = 1.2 }, "confidence"},
		{"leverage range", func(e *Entry) { e.Leverage = 0 }, "leverage"},
		{"empty reasoning", func(e *Entry) { e.Reasoning = "" }, "reasoning"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := valid
			tc.mutate(&entry)
			err := entry.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestBuildPrompt_ListsCandidates(t *testing.T) {
	snapshots := []market.Snapshot{
		{Symbol: "BTC/USDT:USDT", Price: 65000, Volatility: 0.01, Momentum: 0.02, RSI: 58, TrendStrength: 0.7},
		{Symbol: "ETH/USDT:USDT", Price: 3200, Volatility: 0.015, Momentum: -0.01, RSI: 42, TrendStrength: 0.4},
	}

	prompt, err := BuildPrompt(snapshots)
	if err != nil {
		t.Fatalf("BuildPrompt returned error: %v", err)
	}
	for _, snap := range snapshots {
		if !strings.Contains(prompt, snap.Symbol) {
			t.Errorf("prompt missing candidate %s", snap.Symbol)
		}
	}
	if !strings.Contains(prompt, `"entries"`) {
		t.Errorf("prompt must describe the expected output envelope")
	}
}
