package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-sentinel/internal/config"
	"futures-sentinel/internal/exchange"
	"futures-sentinel/internal/exit"
	"futures-sentinel/internal/indicator"
	"futures-sentinel/internal/manager"
	"futures-sentinel/internal/monitor"
	"futures-sentinel/internal/protect"
	"futures-sentinel/internal/scanner"
	"futures-sentinel/internal/signal"
	"futures-sentinel/internal/store"
)

const shutdownCloseTimeout = 30 * time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 装配全部组件并驱动监控与扫描两个工作循环。
// 监控循环先行启动，扫描器按配置延迟入场，保证仓位保护调用
// 不会排在非关键的扫描请求之后。停机时对全部在场仓位各尝试一次平仓。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("仓位哨兵已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("markets", a.cfg.Exchange.Markets),
	)

	client, err := exchange.NewClient(a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	marketData := exchange.NewMarketDataService(client, indicator.NewCalculator(), a.logger)
	updater := protect.NewUpdater(a.cfg.Protect, a.logger)
	evaluator := exit.NewEvaluator(a.cfg.Exit, a.logger)
	mgr := manager.New(a.cfg.Manager, updater, evaluator, client, marketData, client, a.logger)

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}
	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, monitorSvc, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	// 所有组件装配完成后才启动工作循环：装配失败直接返回，
	// 不会留下已经起跑、无人回收的后台任务。
	var sc *scanner.Scanner
	if a.cfg.Scanner.Enabled {
		provider, err := signal.NewClient(a.cfg.OpenAI, a.logger)
		if err != nil {
			return fmt.Errorf("初始化信号客户端失败: %w", err)
		}
		sc = scanner.New(
			a.cfg.Scanner,
			a.cfg.Exchange.Markets,
			marketData,
			provider,
			client,
			mgr,
			monitorSvc,
			a.logger,
		)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.runMonitorLoop(groupCtx, mgr, monitorSvc)
	})
	if sc != nil {
		group.Go(func() error {
			return sc.Run(groupCtx)
		})
	}

	runErr := group.Wait()

	a.logger.Info("系统收到退出信号，尝试平掉全部在场仓位",
		zap.Int("open_positions", mgr.OpenPositionCount()),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCloseTimeout)
	defer cancel()
	mgr.CloseAll(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", runErr)
	}
	return nil
}

// runMonitorLoop 按配置间隔驱动仓位监控循环并落档结果。
func (a *App) runMonitorLoop(ctx context.Context, mgr *manager.Manager, monitorSvc *monitor.Service) error {
	ticker := time.NewTicker(a.cfg.Manager.MonitorInterval)
	defer ticker.Stop()

	a.logger.Info("监控循环已启动", zap.Duration("interval", a.cfg.Manager.MonitorInterval))

	for {
		results := mgr.RunCycle(ctx)
		monitorSvc.RecordCycle(ctx, results)
		for _, result := range results {
			if result.Err != "" {
				monitorSvc.RecordError(ctx, "仓位处置异常", errors.New(result.Err), map[string]interface{}{
					"symbol": result.Symbol,
					"action": result.Action,
				})
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
