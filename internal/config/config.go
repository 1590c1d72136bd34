package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"isin-monitor/internal/logging"
)

// Backend names accepted for data.backend.
const (
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Data       DataConfig       `mapstructure:"data"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	API        APIConfig        `mapstructure:"api"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DataConfig selects the persistence backend and its file paths.
type DataConfig struct {
	Backend          string `mapstructure:"backend"`
	MetadataFile     string `mapstructure:"metadata_file"`
	PriceHistoryFile string `mapstructure:"price_history_file"`
	StateFile        string `mapstructure:"state_file"`
	MaxHistoryDays   int    `mapstructure:"max_history_days"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// TelegramConfig describes the notification channel.
type TelegramConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	APIBase    string `mapstructure:"api_base"`
	SendCharts bool   `mapstructure:"send_charts"`
}

// MonitoringConfig governs discount evaluation and notification gating.
type MonitoringConfig struct {
	NotificationCooldownHours float64 `mapstructure:"notification_cooldown_hours"`
	MarketHoursOnly           bool    `mapstructure:"market_hours_only"`
	MarketOpenTime            string  `mapstructure:"market_open_time"`
	MarketCloseTime           string  `mapstructure:"market_close_time"`
	PriceComparisonDays       []int   `mapstructure:"price_comparison_days"`
	DiscountBucketStep        float64 `mapstructure:"discount_bucket_step"`
	PriceEpsilon              float64 `mapstructure:"price_epsilon"`
}

// Cooldown returns the notification cooldown as a duration.
func (m MonitoringConfig) Cooldown() time.Duration {
	return time.Duration(m.NotificationCooldownHours * float64(time.Hour))
}

// APIConfig covers upstream quote requests.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs pass cadence for the run command.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ISINMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "isinmonitor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("data.backend", BackendFile)
	v.SetDefault("data.metadata_file", "isin_metadata.csv")
	v.SetDefault("data.price_history_file", "price_history_wide.csv")
	v.SetDefault("data.state_file", "notification_state.json")
	v.SetDefault("data.max_history_days", 365)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.send_charts", true)

	v.SetDefault("monitoring.notification_cooldown_hours", 4.0)
	v.SetDefault("monitoring.market_hours_only", true)
	v.SetDefault("monitoring.market_open_time", "08:55")
	v.SetDefault("monitoring.market_close_time", "18:05")
	v.SetDefault("monitoring.price_comparison_days", []int{30, 7})
	v.SetDefault("monitoring.discount_bucket_step", 0.01)
	v.SetDefault("monitoring.price_epsilon", 0.0001)

	v.SetDefault("api.base_url", "https://www.borsaitaliana.it")
	v.SetDefault("api.rate_limit_delay", "500ms")
	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("export.max_data_points", 100000)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Data.Backend {
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when data.backend is %q", BackendPostgres)
		}
	case BackendFile:
		if c.Data.MetadataFile == "" {
			return fmt.Errorf("data.metadata_file is required when data.backend is %q", BackendFile)
		}
		if c.Data.PriceHistoryFile == "" {
			return fmt.Errorf("data.price_history_file is required when data.backend is %q", BackendFile)
		}
	default:
		return fmt.Errorf("data.backend must be %q or %q", BackendPostgres, BackendFile)
	}

	if c.Data.MaxHistoryDays <= 0 {
		return fmt.Errorf("data.max_history_days must be greater than zero")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram.enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram.enabled")
		}
	}

	if c.Monitoring.NotificationCooldownHours < 0 {
		return fmt.Errorf("monitoring.notification_cooldown_hours cannot be negative")
	}
	if len(c.Monitoring.PriceComparisonDays) == 0 {
		return fmt.Errorf("monitoring.price_comparison_days must name at least one lookback window")
	}
	for _, days := range c.Monitoring.PriceComparisonDays {
		if days <= 0 {
			return fmt.Errorf("monitoring.price_comparison_days entries must be positive, got %d", days)
		}
	}
	if c.Monitoring.DiscountBucketStep <= 0 {
		return fmt.Errorf("monitoring.discount_bucket_step must be greater than zero")
	}
	if c.Monitoring.PriceEpsilon < 0 {
		return fmt.Errorf("monitoring.price_epsilon cannot be negative")
	}
	if c.Monitoring.MarketHoursOnly {
		if _, err := ParseClock(c.Monitoring.MarketOpenTime); err != nil {
			return fmt.Errorf("monitoring.market_open_time: %w", err)
		}
		if _, err := ParseClock(c.Monitoring.MarketCloseTime); err != nil {
			return fmt.Errorf("monitoring.market_close_time: %w", err)
		}
	}

	if c.API.RateLimitDelay < 0 {
		return fmt.Errorf("api.rate_limit_delay cannot be negative")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be greater than zero")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	return nil
}

// ParseClock parses an HH:MM wall-clock string into minutes since midnight.
func ParseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM time %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
