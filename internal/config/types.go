package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Protect  ProtectConfig  `mapstructure:"protect"`
	Exit     ExitConfig     `mapstructure:"exit"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Markets    []string    `mapstructure:"markets"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制有界重试：按调度表退避并叠加随机抖动。
type RetryConfig struct {
	MaxAttempts int             `mapstructure:"max_attempts"`
	Schedule    []time.Duration `mapstructure:"schedule"`
	Jitter      float64         `mapstructure:"jitter"`
}

// ManagerConfig 控制持仓监控循环。
type ManagerConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	PriceRetry      RetryConfig   `mapstructure:"price_retry"`
}

// ProtectConfig 管理止损/止盈的动态重算参数。
// 所有阈值都以未加杠杆的价格变动比例表示，与杠杆倍数无关。
type ProtectConfig struct {
	StopVolatilityMult float64 `mapstructure:"stop_volatility_mult"`
	MinStopDistance    float64 `mapstructure:"min_stop_distance"`
	MaxStopDistance    float64 `mapstructure:"max_stop_distance"`
	ProfitTightenRate  float64 `mapstructure:"profit_tighten_rate"`
	MaxTighten         float64 `mapstructure:"max_tighten"`
	TrailingActivation float64 `mapstructure:"trailing_activation"`
	InitialStop        float64 `mapstructure:"initial_stop"`

	BaseTakeProfit     float64 `mapstructure:"base_take_profit"`
	MomentumExtendMult float64 `mapstructure:"momentum_extend_mult"`
	TrendExtendMult    float64 `mapstructure:"trend_extend_mult"`
	MaxExtension       float64 `mapstructure:"max_extension"`
	RSIOverbought      float64 `mapstructure:"rsi_overbought"`
	RSIOversold        float64 `mapstructure:"rsi_oversold"`
	ExtensionMaxHours  float64 `mapstructure:"extension_max_hours"`
}

// ProfitTier 描述距离门控的止盈档位：未加杠杆利润达到 Profit，
// 且配置止盈距当前价仍超过 MinDistance 时平仓。
type ProfitTier struct {
	Profit      float64 `mapstructure:"profit"`
	MinDistance float64 `mapstructure:"min_distance"`
}

// ScaleTier 描述分批止盈档位，每个档位至多触发一次。
type ScaleTier struct {
	Name     string  `mapstructure:"name"`
	Profit   float64 `mapstructure:"profit"`
	Fraction float64 `mapstructure:"fraction"`
}

// ExitConfig 管理全部退出规则的阈值。
type ExitConfig struct {
	ExceptionalProfit    float64      `mapstructure:"exceptional_profit"`
	ProfitTiers          []ProfitTier `mapstructure:"profit_tiers"`
	MinPeakForRetrace    float64      `mapstructure:"min_peak_for_retrace"`
	RetracementFraction  float64      `mapstructure:"retracement_fraction"`
	StallHours           float64      `mapstructure:"stall_hours"`
	StallProfitThreshold float64      `mapstructure:"stall_profit_threshold"`
	StallStopDistance    float64      `mapstructure:"stall_stop_distance"`
	ScaleTiers           []ScaleTier  `mapstructure:"scale_tiers"`
}

// ScannerConfig 控制开仓扫描器。
type ScannerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	MaxOpenPositions int           `mapstructure:"max_open_positions"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	DefaultAmount    float64       `mapstructure:"default_amount"`
	MaxLeverage      int           `mapstructure:"max_leverage"`
}

// OpenAIConfig 描述信号生成模型的调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制事件查询接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func (r RetryConfig) validate(prefix string) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", prefix))
	}
	if len(r.Schedule) == 0 {
		err = multierr.Append(err, fmt.Errorf("%s.schedule 至少包含一个等待时长", prefix))
	}
	for _, d := range r.Schedule {
		if d <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s.schedule 中的等待时长必须为正", prefix))
			break
		}
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		err = multierr.Append(err, fmt.Errorf("%s.jitter 必须位于[0,1]", prefix))
	}
	return err
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if len(c.Exchange.Markets) == 0 {
		err = multierr.Append(err, errors.New("exchange.markets 至少包含一个交易对"))
	}
	err = multierr.Append(err, c.Exchange.Retry.validate("exchange.retry"))

	if c.Manager.MonitorInterval <= 0 {
		err = multierr.Append(err, errors.New("manager.monitor_interval 必须大于0"))
	}
	err = multierr.Append(err, c.Manager.PriceRetry.validate("manager.price_retry"))

	if c.Protect.MinStopDistance <= 0 {
		err = multierr.Append(err, errors.New("protect.min_stop_distance 必须大于0"))
	}
	if c.Protect.MaxStopDistance < c.Protect.MinStopDistance {
		err = multierr.Append(err, errors.New("protect.max_stop_distance 不能小于 min_stop_distance"))
	}
	if c.Protect.TrailingActivation <= 0 {
		err = multierr.Append(err, errors.New("protect.trailing_activation 必须大于0"))
	}
	if c.Protect.InitialStop <= 0 {
		err = multierr.Append(err, errors.New("protect.initial_stop 必须大于0"))
	}
	if c.Protect.BaseTakeProfit <= 0 {
		err = multierr.Append(err, errors.New("protect.base_take_profit 必须大于0"))
	}
	if c.Protect.MaxTighten < 0 || c.Protect.MaxTighten >= 1 {
		err = multierr.Append(err, errors.New("protect.max_tighten 必须位于[0,1)"))
	}
	if c.Protect.MaxExtension < 1 {
		err = multierr.Append(err, errors.New("protect.max_extension 不能小于1"))
	}
	if c.Protect.RSIOversold >= c.Protect.RSIOverbought {
		err = multierr.Append(err, errors.New("protect.rsi_oversold 必须小于 rsi_overbought"))
	}

	if c.Exit.ExceptionalProfit <= 0 {
		err = multierr.Append(err, errors.New("exit.exceptional_profit 必须大于0"))
	}
	for i, tier := range c.Exit.ProfitTiers {
		if tier.Profit <= 0 || tier.MinDistance < 0 {
			err = multierr.Append(err, fmt.Errorf("exit.profit_tiers[%d] 阈值非法", i))
		}
	}
	if c.Exit.RetracementFraction <= 0 || c.Exit.RetracementFraction >= 1 {
		err = multierr.Append(err, errors.New("exit.retracement_fraction 必须位于(0,1)"))
	}
	if c.Exit.MinPeakForRetrace <= 0 {
		err = multierr.Append(err, errors.New("exit.min_peak_for_retrace 必须大于0"))
	}
	if c.Exit.StallHours <= 0 {
		err = multierr.Append(err, errors.New("exit.stall_hours 必须大于0"))
	}
	if c.Exit.StallStopDistance <= 0 {
		err = multierr.Append(err, errors.New("exit.stall_stop_distance 必须大于0"))
	}
	seen := make(map[string]struct{}, len(c.Exit.ScaleTiers))
	for i, tier := range c.Exit.ScaleTiers {
		if tier.Name == "" {
			err = multierr.Append(err, fmt.Errorf("exit.scale_tiers[%d].name 不能为空", i))
		}
		if _, dup := seen[tier.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("exit.scale_tiers[%d].name 重复: %s", i, tier.Name))
		}
		seen[tier.Name] = struct{}{}
		if tier.Profit <= 0 {
			err = multierr.Append(err, fmt.Errorf("exit.scale_tiers[%d].profit 必须大于0", i))
		}
		// 全量减仓等价于平仓，应该用止盈规则表达，档位只做部分减仓。
		if tier.Fraction <= 0 || tier.Fraction >= 1 {
			err = multierr.Append(err, fmt.Errorf("exit.scale_tiers[%d].fraction 必须位于(0,1)", i))
		}
	}

	if c.Scanner.Enabled {
		if c.Scanner.Interval <= 0 {
			err = multierr.Append(err, errors.New("scanner.interval 必须大于0"))
		}
		if c.Scanner.StartupDelay < 0 {
			err = multierr.Append(err, errors.New("scanner.startup_delay 不能为负"))
		}
		if c.Scanner.MaxOpenPositions <= 0 {
			err = multierr.Append(err, errors.New("scanner.max_open_positions 必须大于0"))
		}
		if c.Scanner.MinConfidence < 0 || c.Scanner.MinConfidence > 1 {
			err = multierr.Append(err, errors.New("scanner.min_confidence 必须位于[0,1]"))
		}
		if c.Scanner.DefaultAmount <= 0 {
			err = multierr.Append(err, errors.New("scanner.default_amount 必须大于0"))
		}
		if c.Scanner.MaxLeverage < 1 {
			err = multierr.Append(err, errors.New("scanner.max_leverage 不能小于1"))
		}
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
