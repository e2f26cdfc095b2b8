package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "sentinel"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.markets", []string{"BTC/USDT:USDT"})
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.schedule", []string{"500ms", "1s", "2s", "3s", "5s"})
	v.SetDefault("exchange.retry.jitter", 0.2)

	v.SetDefault("manager.monitor_interval", "30s")
	v.SetDefault("manager.price_retry.max_attempts", 10)
	v.SetDefault("manager.price_retry.schedule",
		[]string{"1s", "2s", "3s", "5s", "8s", "10s", "15s", "20s", "25s", "30s"})
	v.SetDefault("manager.price_retry.jitter", 0.2)

	v.SetDefault("protect.stop_volatility_mult", 2.0)
	v.SetDefault("protect.min_stop_distance", 0.005)
	v.SetDefault("protect.max_stop_distance", 0.05)
	v.SetDefault("protect.profit_tighten_rate", 8.0)
	v.SetDefault("protect.max_tighten", 0.6)
	v.SetDefault("protect.trailing_activation", 0.015)
	v.SetDefault("protect.initial_stop", 0.02)
	v.SetDefault("protect.base_take_profit", 0.04)
	v.SetDefault("protect.momentum_extend_mult", 5.0)
	v.SetDefault("protect.trend_extend_mult", 0.5)
	v.SetDefault("protect.max_extension", 2.0)
	v.SetDefault("protect.rsi_overbought", 70.0)
	v.SetDefault("protect.rsi_oversold", 30.0)
	v.SetDefault("protect.extension_max_hours", 8.0)

	v.SetDefault("exit.exceptional_profit", 0.20)
	v.SetDefault("exit.profit_tiers", []map[string]interface{}{
		{"profit": 0.15, "min_distance": 0.01},
		{"profit": 0.10, "min_distance": 0.015},
		{"profit": 0.08, "min_distance": 0.02},
		{"profit": 0.05, "min_distance": 0.03},
	})
	v.SetDefault("exit.min_peak_for_retrace", 0.10)
	v.SetDefault("exit.retracement_fraction", 0.40)
	v.SetDefault("exit.stall_hours", 4.0)
	v.SetDefault("exit.stall_profit_threshold", 0.02)
	v.SetDefault("exit.stall_stop_distance", 0.01)
	v.SetDefault("exit.scale_tiers", []map[string]interface{}{
		{"name": "tier_2pct", "profit": 0.02, "fraction": 0.25},
		{"name": "tier_4pct", "profit": 0.04, "fraction": 0.25},
		{"name": "tier_6pct", "profit": 0.06, "fraction": 0.50},
	})

	v.SetDefault("scanner.enabled", false)
	v.SetDefault("scanner.interval", "5m")
	v.SetDefault("scanner.startup_delay", "45s")
	v.SetDefault("scanner.cooldown", "30m")
	v.SetDefault("scanner.max_open_positions", 3)
	v.SetDefault("scanner.min_confidence", 0.70)
	v.SetDefault("scanner.default_amount", 0.01)
	v.SetDefault("scanner.max_leverage", 3)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("database.path", "data/sentinel.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8787)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
