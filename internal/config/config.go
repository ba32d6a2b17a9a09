package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"required|in:postgres,sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns" validate:"min:1|max:200"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns" validate:"max:200"`
}

// CatalogConfig configures the marketplace search client.
type CatalogConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url" validate:"required"`
	Dest             string  `yaml:"dest" mapstructure:"dest" validate:"required"`
	MaxPages         int     `yaml:"max_pages" mapstructure:"max_pages" validate:"required|min:1|max:60"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"required|min:1"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	CacheTTLSecs     int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheSizeMB      int     `yaml:"cache_size_mb" mapstructure:"cache_size_mb" validate:"max:1024"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// HistoryConfig configures the history store.
type HistoryConfig struct {
	ThrottleSecs int `yaml:"throttle_secs" mapstructure:"throttle_secs" validate:"required|min:1"`
	WindowDays   int `yaml:"window_days" mapstructure:"window_days" validate:"required|min:1|max:365"`
}

// SchedulerConfig configures the tracking driver.
type SchedulerConfig struct {
	TickMillis       int `yaml:"tick_millis" mapstructure:"tick_millis" validate:"required|min:10"`
	CycleTimeoutSecs int `yaml:"cycle_timeout_secs" mapstructure:"cycle_timeout_secs"`
}

// NotifyConfig configures event delivery.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InboxSize   int    `yaml:"inbox_size" mapstructure:"inbox_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port" validate:"max:65535"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"required|in:debug,info,warn,error"`
	Format string `yaml:"format" mapstructure:"format" validate:"in:json,console"`
}

// MetricsConfig toggles the Prometheus collectors and /metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("catalog.base_url", "https://search.wb.ru/exactmatch/ru/common/v9/search")
	v.SetDefault("catalog.dest", "123585528")
	v.SetDefault("catalog.max_pages", 60)
	v.SetDefault("catalog.timeout_secs", 15)
	v.SetDefault("catalog.rate_per_second", 5.0)
	v.SetDefault("catalog.rate_burst", 5)
	v.SetDefault("catalog.user_agent", "position-tracker/1.0")
	v.SetDefault("catalog.cache_ttl_secs", 60)
	v.SetDefault("catalog.cache_size_mb", 32)
	v.SetDefault("catalog.breaker_threshold", 5)
	v.SetDefault("catalog.breaker_reset_secs", 60)
	v.SetDefault("history.throttle_secs", 3598)
	v.SetDefault("history.window_days", 7)
	v.SetDefault("scheduler.tick_millis", 1000)
	v.SetDefault("scheduler.cycle_timeout_secs", 300)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.inbox_size", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)

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
