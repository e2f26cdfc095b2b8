package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/store"
)

func testAppConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Exchange: config.ExchangeConfig{
			Name:    "binanceusdm",
			Markets: []string{"BTC/USDT:USDT"},
			Retry: config.RetryConfig{
				MaxAttempts: 1,
				Schedule:    []time.Duration{time.Millisecond},
			},
		},
		Manager: config.ManagerConfig{
			MonitorInterval: 10 * time.Millisecond,
			PriceRetry: config.RetryConfig{
				MaxAttempts: 1,
				Schedule:    []time.Duration{time.Millisecond},
			},
		},
		Database: config.DatabaseConfig{InMemory: true, MaxOpenConns: 1},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRun_ScannerInitFailureReturnsBeforeWorkersStart(t *testing.T) {
	cfg := testAppConfig()
	cfg.Scanner = config.ScannerConfig{Enabled: true, Interval: time.Minute}
	// api_key 缺失时信号客户端构造失败，Run 必须在启动任何
	// 工作循环之前返回，而不是留下监控循环在后台空转。
	cfg.OpenAI = config.OpenAIConfig{Model: "gpt-4.1", Timeout: time.Second}

	a := New(cfg, zap.NewNop(), newTestStore(t))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "初始化信号客户端失败") {
			t.Fatalf("expected signal client init error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run must fail fast when assembly fails")
	}
}

func TestRun_CancelShutsDownCleanly(t *testing.T) {
	a := New(testAppConfig(), zap.NewNop(), newTestStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Run(ctx); err != nil {
		t.Fatalf("cancelled run must exit cleanly, got %v", err)
	}
}
