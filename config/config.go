package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Escrow    EscrowConfig    `mapstructure:"escrow"`
	CardPay   CardPayConfig   `mapstructure:"cardpay"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Fiscal    FiscalConfig    `mapstructure:"fiscal"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
	// PublicURL is where providers reach our webhooks.
	PublicURL string `mapstructure:"public_url"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type EscrowConfig struct {
	CommissionRate string        `mapstructure:"commission_rate"`
	HoldPeriod     time.Duration `mapstructure:"hold_period"`
	PendingTTL     time.Duration `mapstructure:"pending_ttl"`
	MinWithdrawal  string        `mapstructure:"min_withdrawal"`
}

// Rate returns the commission rate as a decimal.
func (e EscrowConfig) Rate() (decimal.Decimal, error) {
	return decimal.NewFromString(e.CommissionRate)
}

// MinWithdrawalAmount returns the minimum payout amount as a decimal.
func (e EscrowConfig) MinWithdrawalAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(e.MinWithdrawal)
}

type CardPayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	TerminalKey string        `mapstructure:"terminal_key"`
	Password    string        `mapstructure:"password"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PayoutConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	ClientKey string        `mapstructure:"client_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type FiscalConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Login          string        `mapstructure:"login"`
	Password       string        `mapstructure:"password"`
	GroupCode      string        `mapstructure:"group_code"`
	CompanyINN     string        `mapstructure:"company_inn"`
	CompanyEmail   string        `mapstructure:"company_email"`
	PaymentAddress string        `mapstructure:"payment_address"`
	TaxSystem      string        `mapstructure:"tax_system"`
	AgentType      string        `mapstructure:"agent_type"` // empty = no agent_info on items
	Timeout        time.Duration `mapstructure:"timeout"`
}

// CatalogConfig points at the marketplace item catalogue. An empty BaseURL
// is only accepted with the memory storage driver.
type CatalogConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ReleaseSpec string        `mapstructure:"release_spec"`
	ExpireSpec  string        `mapstructure:"expire_spec"`
	PayoutSpec  string        `mapstructure:"payout_spec"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	PollOnStart bool          `mapstructure:"poll_on_start"`
}

type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"` // comma-separated, empty = log-only alerts
	AlertTopic string `mapstructure:"alert_topic"`
}

// BrokerList splits Brokers into addresses.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: ESC_.
// Nested keys use underscore: ESC_DATABASE_HOST, ESC_CARDPAY_PASSWORD, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "escrow_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "escrow-ledger")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("escrow.commission_rate", "0.20")
	v.SetDefault("escrow.hold_period", "336h")
	v.SetDefault("escrow.pending_ttl", "1h")
	v.SetDefault("escrow.min_withdrawal", "1000")
	v.SetDefault("cardpay.base_url", "https://securepay.tinkoff.ru/v2")
	v.SetDefault("cardpay.terminal_key", "")
	v.SetDefault("cardpay.password", "")
	v.SetDefault("cardpay.timeout", "10s")
	v.SetDefault("payout.base_url", "https://api.jump.finance")
	v.SetDefault("payout.client_key", "")
	v.SetDefault("payout.timeout", "10s")
	v.SetDefault("fiscal.base_url", "https://online.atol.ru/possystem/v4")
	v.SetDefault("fiscal.login", "")
	v.SetDefault("fiscal.password", "")
	v.SetDefault("fiscal.group_code", "")
	v.SetDefault("fiscal.company_inn", "")
	v.SetDefault("fiscal.company_email", "")
	v.SetDefault("fiscal.payment_address", "")
	v.SetDefault("fiscal.tax_system", "usn_income_outcome")
	v.SetDefault("fiscal.agent_type", "another")
	v.SetDefault("fiscal.timeout", "10s")
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.timeout", "5s")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.release_spec", "@hourly")
	v.SetDefault("scheduler.expire_spec", "@daily")
	v.SetDefault("scheduler.payout_spec", "@daily")
	v.SetDefault("scheduler.lock_ttl", "30m")
	v.SetDefault("scheduler.batch_size", 500)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.poll_on_start", true)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.alert_topic", "escrow.alerts")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: ESC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("ESC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	rate, err := c.Escrow.Rate()
	if err != nil {
		return fmt.Errorf("escrow.commission_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("escrow.commission_rate must be in [0, 1), got %s", rate)
	}
	if _, err := c.Escrow.MinWithdrawalAmount(); err != nil {
		return fmt.Errorf("escrow.min_withdrawal: %w", err)
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	return nil
}
