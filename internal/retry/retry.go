package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"futures-sentinel/internal/config"
)

// Policy 描述一次有界重试：最多 MaxAttempts 次，按 Schedule 退避，
// 每次等待叠加 ±Jitter 比例的随机抖动，避免多个持仓同步风暴式重试。
// 同一个 Policy 会被多个 goroutine 并发使用，抖动因此取自
// math/rand 的全局生成器（自带锁保护）。
type Policy struct {
	MaxAttempts int
	Schedule    []time.Duration
	Jitter      float64
}

// FromConfig 由配置构造 Policy。
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Schedule:    cfg.Schedule,
		Jitter:      cfg.Jitter,
	}
}

// Wait 返回第 attempt 次失败后的等待时长（attempt 从1开始计）。
// 超出调度表末尾时停留在最后一档。
func (p Policy) Wait(attempt int) time.Duration {
	if len(p.Schedule) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	base := p.Schedule[idx]
	if p.Jitter <= 0 {
		return base
	}

	// 抖动区间 [1-jitter, 1+jitter]
	factor := 1 + p.Jitter*(2*rand.Float64()-1)
	wait := time.Duration(float64(base) * factor)
	if wait <= 0 {
		wait = base
	}
	return wait
}

// Do 执行 fn 直至成功、不可重试、尝试次数耗尽或 ctx 取消。
// retryable 为 nil 时所有错误都视为可重试。
func (p Policy) Do(ctx context.Context, operation string, logger *zap.Logger, retryable func(error) bool, fn func() error) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		start := time.Now()
		err = fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("重试后调用成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", time.Since(start)),
				)
			}
			return nil
		}

		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := p.Wait(attempt)
		logger.Warn("调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}
