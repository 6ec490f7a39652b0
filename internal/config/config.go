// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nutriflow/nutrition-core/internal/model"
	"github.com/nutriflow/nutrition-core/internal/ratelimit"
	"github.com/nutriflow/nutrition-core/internal/resolver"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	OpenFood  OpenFoodConfig  `yaml:"openfood" mapstructure:"openfood"`
	Fineli    FineliConfig    `yaml:"fineli" mapstructure:"fineli"`
	Vision    VisionConfig    `yaml:"vision" mapstructure:"vision"`
	Balance   BalanceConfig   `yaml:"balance" mapstructure:"balance"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ResolverConfig configures the fallback resolution chain.
type ResolverConfig struct {
	ConfidenceThreshold float64            `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	FanOut              int                `yaml:"fan_out" mapstructure:"fan_out"`
	PerSourceTimeoutSec int                `yaml:"per_source_timeout_secs" mapstructure:"per_source_timeout_secs"`
	Priorities          map[string]float64 `yaml:"priorities" mapstructure:"priorities"`
}

// RateLimitConfig configures per-API fixed-window quotas.
type RateLimitConfig struct {
	Windows map[string]WindowConfig `yaml:"windows" mapstructure:"windows"`
}

// WindowConfig is one fixed-window quota.
type WindowConfig struct {
	WindowMinutes int `yaml:"window_minutes" mapstructure:"window_minutes"`
	MaxRequests   int `yaml:"max_requests" mapstructure:"max_requests"`
}

// LimiterWindows converts the configured quotas into the limiter's form.
func (c RateLimitConfig) LimiterWindows() map[string]ratelimit.WindowConfig {
	out := make(map[string]ratelimit.WindowConfig, len(c.Windows))
	for api, w := range c.Windows {
		out[api] = ratelimit.WindowConfig{
			Window:      time.Duration(w.WindowMinutes) * time.Minute,
			MaxRequests: w.MaxRequests,
		}
	}
	return out
}

// ChainConfig converts the loaded resolver settings into the resolver's
// injected config, falling back to defaults for unset knobs.
func (c ResolverConfig) ChainConfig() *resolver.Config {
	cfg := resolver.DefaultConfig()
	if c.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = c.ConfidenceThreshold
	}
	if c.FanOut > 0 {
		cfg.FanOut = c.FanOut
	}
	if c.PerSourceTimeoutSec > 0 {
		cfg.PerSourceTimeout = time.Duration(c.PerSourceTimeoutSec) * time.Second
	}
	if len(c.Priorities) > 0 {
		cfg.Priorities = make(map[model.DataSource]float64, len(c.Priorities))
		for src, p := range c.Priorities {
			cfg.Priorities[model.DataSource(src)] = p
		}
	}
	return cfg
}

// OpenFoodConfig holds Open Food Facts API settings.
type OpenFoodConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// FineliConfig holds Fineli API settings.
type FineliConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// VisionConfig holds the AI estimation settings.
type VisionConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	Model         string  `yaml:"model" mapstructure:"model"`
	MaxConfidence float64 `yaml:"max_confidence" mapstructure:"max_confidence"`
}

// BalanceConfig configures calorie-balance tracking.
type BalanceConfig struct {
	DefaultGoalCalories float64 `yaml:"default_goal_calories" mapstructure:"default_goal_calories"`
	OutboxPollLimit     int     `yaml:"outbox_poll_limit" mapstructure:"outbox_poll_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NUTRITION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "nutrition.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("resolver.confidence_threshold", 0.7)
	v.SetDefault("resolver.fan_out", 1)
	v.SetDefault("resolver.per_source_timeout_secs", 5)
	v.SetDefault("resolver.priorities", map[string]float64{
		"manual":             1.0,
		"regional_database":  0.9,
		"community_database": 0.8,
		"ai_estimate":        0.6,
		"generic":            0.3,
	})
	v.SetDefault("rate_limit.windows", map[string]WindowConfig{
		"openfood": {WindowMinutes: 1, MaxRequests: 100},
		"fineli":   {WindowMinutes: 1, MaxRequests: 120},
		"vision":   {WindowMinutes: 1, MaxRequests: 20},
	})
	v.SetDefault("openfood.base_url", "https://world.openfoodfacts.org/api/v2")
	v.SetDefault("openfood.rps", 100.0/60.0)
	v.SetDefault("fineli.base_url", "https://fineli.fi/fineli/api/v1")
	v.SetDefault("fineli.rps", 2.0)
	v.SetDefault("vision.model", "claude-haiku-4-5-20251001")
	v.SetDefault("vision.max_confidence", 0.75)
	v.SetDefault("balance.default_goal_calories", 2000)
	v.SetDefault("balance.outbox_poll_limit", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
