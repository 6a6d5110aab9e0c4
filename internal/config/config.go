package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"arbwatch/internal/model"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	LogLevel      string `mapstructure:"log_level"`
	OverridesPath string `mapstructure:"overrides_path"`
	Monitor       MonitorConfig
	AlertRule     AlertRuleConfig `mapstructure:"alert_rule"`
	Fees          map[string]FeeConfig
	Notify        NotifyConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Server        ServerConfig
}

// MonitorConfig defines the cadence and scope of the monitor loop.
type MonitorConfig struct {
	Interval       time.Duration   `mapstructure:"interval"`
	FetchTimeout   time.Duration   `mapstructure:"fetch_timeout"`
	StaleAfter     time.Duration   `mapstructure:"stale_after"`
	MaxVolume      decimal.Decimal `mapstructure:"max_volume"`
	MaxNotional    decimal.Decimal `mapstructure:"max_notional"`
	Workers        int             `mapstructure:"workers"`
	HistorySize    int             `mapstructure:"history_size"`
	BookDepth      int             `mapstructure:"book_depth"`
	EvictionFactor int             `mapstructure:"eviction_factor"`
	Exchanges      []string        `mapstructure:"exchanges"`
	Instruments    []string        `mapstructure:"instruments"`
	// Endpoints overrides the public REST base URL per exchange.
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// AlertRuleConfig is the startup value of the alert rule. Money thresholds are
// decoded straight into decimals so quoted values keep every digit.
type AlertRuleConfig struct {
	MinNetSpread    decimal.Decimal `mapstructure:"min_net_spread"`
	MinVolume       decimal.Decimal `mapstructure:"min_volume"`
	CooldownSeconds int             `mapstructure:"cooldown_seconds"`
}

// FeeConfig defines the cost model for a specific exchange.
type FeeConfig struct {
	TakerPercent  decimal.Decimal   `mapstructure:"taker_percent"`
	WithdrawalFee decimal.Decimal   `mapstructure:"withdrawal_fee"`
	Metadata      map[string]string `mapstructure:"metadata"`
}

// NotifyConfig selects and configures notification sinks.
type NotifyConfig struct {
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	Console         bool          `mapstructure:"console"`
	Slack           SlackConfig
	Webhook         WebhookConfig
	Redis           RedisSinkConfig
	Websocket       WebsocketConfig
}

type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Retries int               `mapstructure:"retries"`
	Headers map[string]string `mapstructure:"headers"`
}

type RedisSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type WebsocketConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StorageConfig defines where append-only record files live.
type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

// RedisConfig defines the redis connection used by the redis sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ServerConfig defines the query API listener.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("overrides_path", "config.overrides.yaml")

	v.SetDefault("monitor.interval", 5*time.Second)
	v.SetDefault("monitor.fetch_timeout", 3*time.Second)
	v.SetDefault("monitor.stale_after", 30*time.Second)
	v.SetDefault("monitor.max_volume", "1")
	v.SetDefault("monitor.max_notional", "0")
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.history_size", 1000)
	v.SetDefault("monitor.book_depth", 5)
	v.SetDefault("monitor.eviction_factor", 4)
	v.SetDefault("monitor.exchanges", []string{"bitflyer", "coincheck", "bitbank"})
	v.SetDefault("monitor.instruments", []string{"BTC_JPY"})

	v.SetDefault("alert_rule.min_net_spread", "1000")
	v.SetDefault("alert_rule.min_volume", "0.01")
	v.SetDefault("alert_rule.cooldown_seconds", 180)

	v.SetDefault("fees", map[string]any{
		"bitflyer":  map[string]any{"taker_percent": "0.0003", "withdrawal_fee": "100"},
		"coincheck": map[string]any{"taker_percent": "0.001", "withdrawal_fee": "250"},
		"bitbank":   map[string]any{"taker_percent": "0.002", "withdrawal_fee": "120"},
	})

	v.SetDefault("notify.delivery_timeout", 5*time.Second)
	v.SetDefault("notify.console", true)
	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.channel", "#alerts")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.timeout", 10*time.Second)
	v.SetDefault("notify.webhook.retries", 2)
	v.SetDefault("notify.redis.enabled", false)
	v.SetDefault("notify.redis.channel", "arbwatch:alerts")
	v.SetDefault("notify.websocket.enabled", true)

	v.SetDefault("storage.dir", "storage_snapshots")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arbwatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "arbwatch")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.addr", ":8080")
}

// LoadConfig reads configuration from file or environment variables. A
// missing config file is not an error; defaults and environment apply. A .env
// file in the working directory, if present, is loaded into the environment
// first.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ARBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config, viper.DecodeHook(decodeHook())); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

// Validate rejects configurations the monitor cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Monitor.FetchTimeout <= 0 {
		errs = append(errs, errors.New("monitor.fetch_timeout must be positive"))
	}
	if c.Monitor.StaleAfter < 0 {
		errs = append(errs, errors.New("monitor.stale_after must not be negative"))
	}
	if c.Monitor.MaxVolume.IsNegative() || c.Monitor.MaxNotional.IsNegative() {
		errs = append(errs, errors.New("monitor volume caps must not be negative"))
	}
	if c.Monitor.HistorySize <= 0 {
		errs = append(errs, errors.New("monitor.history_size must be positive"))
	}
	if len(c.Monitor.Exchanges) < 2 {
		errs = append(errs, errors.New("monitor.exchanges needs at least two exchanges"))
	}
	if len(c.Monitor.Instruments) == 0 {
		errs = append(errs, errors.New("monitor.instruments must not be empty"))
	}
	if c.Notify.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("notify.delivery_timeout must be positive"))
	}
	if c.Notify.Webhook.Retries < 0 {
		errs = append(errs, errors.New("notify.webhook.retries must not be negative"))
	}
	if err := ValidateAlertRule(c.AlertRuleValue()); err != nil {
		errs = append(errs, err)
	}
	for name, fee := range c.FeeProfiles() {
		if err := ValidateFeeProfile(name, fee); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertRuleValue converts the configured rule to its model form.
func (c Config) AlertRuleValue() model.AlertRule {
	return model.AlertRule{
		MinNetSpread:    c.AlertRule.MinNetSpread,
		MinVolume:       c.AlertRule.MinVolume,
		CooldownSeconds: c.AlertRule.CooldownSeconds,
	}
}

// FeeProfiles converts the configured fees to their model form.
func (c Config) FeeProfiles() map[string]model.FeeProfile {
	out := make(map[string]model.FeeProfile, len(c.Fees))
	for name, fee := range c.Fees {
		out[strings.ToLower(name)] = model.FeeProfile{
			TakerPercent:  fee.TakerPercent,
			WithdrawalFee: fee.WithdrawalFee,
			Metadata:      fee.Metadata,
		}
	}
	return out
}
