package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Halyard-Systems/halyard-finance/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Lending   LendingConfig   `mapstructure:"lending"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs sampling cadence for the monitor loop.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain data access and transaction submission.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	DepositManager string        `mapstructure:"deposit_manager"`
	BorrowManager  string        `mapstructure:"borrow_manager"`
	Account        string        `mapstructure:"account"`
	PrivateKey     string        `mapstructure:"private_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// OracleConfig captures Pyth/Hermes connectivity and staleness policy.
type OracleConfig struct {
	HermesBaseURL  string            `mapstructure:"hermes_base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	MaxAge         time.Duration     `mapstructure:"max_age"`
	AllowSynthetic bool              `mapstructure:"allow_synthetic"`
	PythAddress    string            `mapstructure:"pyth_address"`
	Feeds          map[string]string `mapstructure:"feeds"`
	UserAgent      string            `mapstructure:"user_agent"`

	// SyntheticPrices maps feed id to a quoted price, used by the synthetic
	// source when allow_synthetic is set.
	SyntheticPrices map[string]float64 `mapstructure:"synthetic_prices"`
}

// LendingConfig carries client-side risk parameters mirroring the protocol's.
type LendingConfig struct {
	LoanToValuePct          float64 `mapstructure:"loan_to_value_pct"`
	LiquidationThresholdPct float64 `mapstructure:"liquidation_threshold_pct"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HALYARD")
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
	v.SetDefault("app.name", "halyard")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x68616C79))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.chain_id", int64(1))

	v.SetDefault("oracle.hermes_base_url", "https://hermes.pyth.network")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.max_age", "60s")
	v.SetDefault("oracle.allow_synthetic", false)
	v.SetDefault("oracle.user_agent", "halyard/1.0")

	v.SetDefault("lending.loan_to_value_pct", 75.0)
	v.SetDefault("lending.liquidation_threshold_pct", 80.0)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Lending.LoanToValuePct <= 0 || c.Lending.LoanToValuePct > 100 {
		return fmt.Errorf("lending.loan_to_value_pct must be in (0, 100]")
	}
	if c.Lending.LiquidationThresholdPct < c.Lending.LoanToValuePct {
		return fmt.Errorf("lending.liquidation_threshold_pct cannot be below loan_to_value_pct")
	}
	if c.Oracle.MaxAge <= 0 {
		return fmt.Errorf("oracle.max_age must be greater than zero")
	}
	if c.Oracle.AllowSynthetic && c.IsProduction() {
		return fmt.Errorf("oracle.allow_synthetic is not permitted in production")
	}
	return nil
}

// IsProduction reports whether the environment is a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
