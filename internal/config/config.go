package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"exrate-watch/internal/logging"
)

// DefaultComptrollerAddress is the Compound v2 Comptroller on Ethereum mainnet.
const DefaultComptrollerAddress = "0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity used for replica coordination.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs block polling.
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartBlock      uint64        `mapstructure:"start_block"`
	Confirmations   uint64        `mapstructure:"confirmations"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	ComptrollerAddress string        `mapstructure:"comptroller_address"`
	RateMethod         string        `mapstructure:"rate_method"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst"`
}

// MonitorConfig tunes block evaluation.
type MonitorConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// CacheSize bounds the exchange-rate cache; zero keeps every entry.
	CacheSize int `mapstructure:"cache_size"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXRATEWATCH")
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
	v.SetDefault("app.name", "exrate-watch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("scheduler.poll_interval", "12s")
	v.SetDefault("scheduler.start_block", 0)
	v.SetDefault("scheduler.confirmations", 0)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63544b4e))

	v.SetDefault("ethereum.rpc_url", "")
	v.SetDefault("ethereum.comptroller_address", DefaultComptrollerAddress)
	v.SetDefault("ethereum.rate_method", "exchangeRateCurrent")
	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.rate_limit", 25.0)
	v.SetDefault("ethereum.rate_burst", 10)

	v.SetDefault("monitor.concurrency", 8)
	v.SetDefault("monitor.cache_size", 0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("export.max_data_points", 2000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be greater than zero")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be greater than zero")
	}
	if !common.IsHexAddress(c.Ethereum.ComptrollerAddress) {
		return fmt.Errorf("ethereum.comptroller_address %q is not a valid address", c.Ethereum.ComptrollerAddress)
	}
	switch c.Ethereum.RateMethod {
	case "exchangeRateCurrent", "exchangeRateStored":
	default:
		return fmt.Errorf("ethereum.rate_method must be exchangeRateCurrent or exchangeRateStored")
	}
	if c.Ethereum.RateLimit < 0 {
		return fmt.Errorf("ethereum.rate_limit cannot be negative")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be greater than zero")
	}
	if c.Monitor.CacheSize < 0 {
		return fmt.Errorf("monitor.cache_size cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// RequireRPC reports an error when no RPC endpoint is configured.
func (c *Config) RequireRPC() error {
	if c.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required (set EXRATEWATCH_ETHEREUM_RPC_URL)")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
