package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Marketplace MarketplaceConfig `yaml:"marketplace" mapstructure:"marketplace"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MarketplaceConfig configures the listing source adapter.
type MarketplaceConfig struct {
	Adapter        string  `yaml:"adapter" mapstructure:"adapter"` // "http" or "mock"
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxPages       int     `yaml:"max_pages" mapstructure:"max_pages"`

	BackoffMs        int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// PipelineConfig configures stage execution and reconciliation.
type PipelineConfig struct {
	ReconcileVersion   string `yaml:"reconcile_version" mapstructure:"reconcile_version"`
	CleanupPolicy      string `yaml:"cleanup_policy" mapstructure:"cleanup_policy"`
	ValidationBatch    int    `yaml:"validation_batch" mapstructure:"validation_batch"`
	ProgressEvery      int    `yaml:"progress_every" mapstructure:"progress_every"`
	ProgressWindowSecs int    `yaml:"progress_window_secs" mapstructure:"progress_window_secs"`
	JobTimeoutMins     int    `yaml:"job_timeout_mins" mapstructure:"job_timeout_mins"`
	SweepIntervalMins  int    `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// ProgressWindow returns the time-based progress throttle.
func (c PipelineConfig) ProgressWindow() time.Duration {
	return time.Duration(c.ProgressWindowSecs) * time.Second
}

// JobTimeout returns how long a job may run before the stale sweep fails it.
func (c PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMins) * time.Minute
}

// SweepInterval returns how often the serve loop sweeps stale jobs.
func (c PipelineConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMins) * time.Minute
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("BRICKTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("marketplace.adapter", "mock")
	v.SetDefault("marketplace.user_agent", "bricktrack/1.0")
	v.SetDefault("marketplace.timeout_secs", 20)
	v.SetDefault("marketplace.requests_per_sec", 1)
	v.SetDefault("marketplace.max_attempts", 3)
	v.SetDefault("marketplace.max_pages", 10)
	v.SetDefault("marketplace.backoff_ms", 500)
	v.SetDefault("marketplace.backoff_max_ms", 10000)
	v.SetDefault("marketplace.breaker_threshold", 5)
	v.SetDefault("marketplace.breaker_reset_secs", 30)
	v.SetDefault("pipeline.reconcile_version", "2.0")
	v.SetDefault("pipeline.cleanup_policy", "supersede")
	v.SetDefault("pipeline.validation_batch", 50)
	v.SetDefault("pipeline.progress_every", 10)
	v.SetDefault("pipeline.progress_window_secs", 5)
	v.SetDefault("pipeline.job_timeout_mins", 60)
	v.SetDefault("pipeline.sweep_interval_mins", 5)

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

// Validate checks that the configuration required for the given command
// scope is present. Scope is one of "pipeline", "serve", or "capture".
func (c *Config) Validate(scope string) error {
	var missing []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		missing = append(missing, "store.driver must be postgres or sqlite")
	}

	switch scope {
	case "pipeline":
		switch c.Pipeline.CleanupPolicy {
		case "delete", "supersede", "keep":
		default:
			missing = append(missing, "pipeline.cleanup_policy must be delete, supersede, or keep")
		}
		if c.Pipeline.ValidationBatch <= 0 {
			missing = append(missing, "pipeline.validation_batch must be positive")
		}
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			missing = append(missing, "server.port must be between 1 and 65535")
		}
	case "capture":
		if c.Marketplace.Adapter == "http" && c.Marketplace.BaseURL == "" {
			missing = append(missing, "marketplace.base_url is required for the http adapter")
		}
		if c.Marketplace.MaxPages <= 0 {
			missing = append(missing, "marketplace.max_pages must be positive")
		}
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
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
