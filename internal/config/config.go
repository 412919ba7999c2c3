package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("tipbot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Load reads the configuration through viper and returns the validated typed view.
func Load() (*Config, error) {
	if err := LoadConfig(); err != nil {
		return nil, err
	}
	return FromViper(viper.GetViper())
}

// FromViper decodes and validates a typed Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	env := viper.GetString("env")
	if env == "" {
		env = "development"
		viper.SetDefault("env", env)
	}

	if env == "production" {
		viper.SetDefault("database.path", "/var/lib/tipbot/tipbot.db")
		viper.SetDefault("log.level", "info")
		viper.SetDefault("log.file", "/var/log/tipbot/tipbot.log")
	} else {
		viper.SetDefault("database.path", "./dev_tipbot.db")
		viper.SetDefault("log.level", "debug")
		viper.SetDefault("log.file", "./tipbot.log")
		viper.SetDefault("log.console", true)
	}

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "")

	viper.SetDefault("rpc.meta_ttl", 60)
	viper.SetDefault("rpc.timeout", "30s")

	viper.SetDefault("transfer.batch_size", 10)
	viper.SetDefault("transfer.member_window", 10)
	viper.SetDefault("transfer.lookup_concurrency", 4)

	viper.SetDefault("pending.store", "sql")
	viper.SetDefault("pending.redis.addr", "127.0.0.1:6379")
	viper.SetDefault("pending.redis.db", 0)
	viper.SetDefault("pending.redis.prefix", "tipbot:pending:")

	viper.SetDefault("api.port", 9004)
	viper.SetDefault("api.jwt_secret", "")
	viper.SetDefault("api.metrics_path", "/metrics")

	viper.SetDefault("ipc.socket_path", "/tmp/tipbot.sock")

	viper.SetDefault("coins", map[string]interface{}{
		"xla": map[string]interface{}{
			"decimals":       2,
			"fee_rate":       0.02,
			"balance_source": "rpc",
			"rpc": map[string]interface{}{
				"url":      "http://127.0.0.1:19091/json_rpc",
				"username": "",
				"password": "",
			},
			"tip":  map[string]interface{}{"min": "1", "max": "100000", "default": "10"},
			"rain": map[string]interface{}{"min": "1", "max": "10000", "default": "5"},
		},
	})
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	err := viper.SafeWriteConfig()
	if err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return fmt.Errorf("error creating config file: %w", err)
		}
		if err := viper.WriteConfig(); err != nil {
			return fmt.Errorf("error writing config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}

// Config is the typed view of config.json.
type Config struct {
	Env      string                `mapstructure:"env"`
	Coins    map[string]CoinConfig `mapstructure:"coins"`
	RPC      RPCConfig             `mapstructure:"rpc"`
	Transfer TransferConfig        `mapstructure:"transfer"`
	Database DatabaseConfig        `mapstructure:"database"`
	Pending  PendingConfig         `mapstructure:"pending"`
	API      APIConfig             `mapstructure:"api"`
	IPC      IPCConfig             `mapstructure:"ipc"`
	Log      LogConfig             `mapstructure:"log"`
}

type CoinConfig struct {
	Decimals      int32          `mapstructure:"decimals"`
	FeeRate       float64        `mapstructure:"fee_rate"`
	BalanceSource string         `mapstructure:"balance_source"`
	RPC           WalletRPC      `mapstructure:"rpc"`
	Electrum      ElectrumConfig `mapstructure:"electrum"`
	Tip           AmountRule     `mapstructure:"tip"`
	Rain          AmountRule     `mapstructure:"rain"`
}

type WalletRPC struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ElectrumConfig struct {
	Server  string `mapstructure:"server"`
	SSL     bool   `mapstructure:"ssl"`
	Network string `mapstructure:"network"`
}

// AmountRule bounds an amount setting. Values are human amounts ("1.5").
type AmountRule struct {
	Min     string `mapstructure:"min"`
	Max     string `mapstructure:"max"`
	Default string `mapstructure:"default"`
}

type RPCConfig struct {
	// MetaTTL is how long a staged transaction stays confirmable, in seconds.
	MetaTTL int           `mapstructure:"meta_ttl"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TransferConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	MemberWindow      int `mapstructure:"member_window"`
	LookupConcurrency int `mapstructure:"lookup_concurrency"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`
}

type PendingConfig struct {
	Store string      `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type APIConfig struct {
	Port        int    `mapstructure:"port"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type IPCConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

type LogConfig struct {
	File    string `mapstructure:"file"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// MetaTTL returns the staged transaction lifetime as a duration.
func (c *Config) MetaTTL() time.Duration {
	return time.Duration(c.RPC.MetaTTL) * time.Second
}

func (c *Config) Validate() error {
	if len(c.Coins) == 0 {
		return errors.New("config: no coins configured")
	}
	if c.RPC.MetaTTL <= 0 {
		return fmt.Errorf("config: rpc.meta_ttl must be positive, got %d", c.RPC.MetaTTL)
	}
	if c.Transfer.BatchSize < 1 || c.Transfer.BatchSize > 10 {
		return fmt.Errorf("config: transfer.batch_size must be between 1 and 10, got %d", c.Transfer.BatchSize)
	}
	if c.Transfer.MemberWindow < 1 {
		return fmt.Errorf("config: transfer.member_window must be positive, got %d", c.Transfer.MemberWindow)
	}
	if c.Transfer.LookupConcurrency < 1 {
		return fmt.Errorf("config: transfer.lookup_concurrency must be positive, got %d", c.Transfer.LookupConcurrency)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return errors.New("config: database.path is required for sqlite")
		}
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database.dsn is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}

	switch c.Pending.Store {
	case "memory", "sql":
	case "redis":
		if c.Pending.Redis.Addr == "" {
			return errors.New("config: pending.redis.addr is required")
		}
	default:
		return fmt.Errorf("config: unknown pending.store %q", c.Pending.Store)
	}

	for ticker, coin := range c.Coins {
		if err := coin.validate(ticker); err != nil {
			return fmt.Errorf("config: coin %s: %w", ticker, err)
		}
	}
	return nil
}

// Coin returns the amount codec for this coin.
func (c CoinConfig) Coin(ticker string) ledger.Coin {
	return ledger.Coin{
		Ticker:   strings.ToLower(ticker),
		Decimals: c.Decimals,
		FeeRate:  decimal.NewFromFloat(c.FeeRate),
	}
}

// Bounds parses the rule into atomic units.
func (r AmountRule) Bounds(coin ledger.Coin) (min, max, def int64, err error) {
	if min, err = coin.Parse(r.Min); err != nil {
		return 0, 0, 0, fmt.Errorf("min: %w", err)
	}
	if max, err = coin.Parse(r.Max); err != nil {
		return 0, 0, 0, fmt.Errorf("max: %w", err)
	}
	if def, err = coin.Parse(r.Default); err != nil {
		return 0, 0, 0, fmt.Errorf("default: %w", err)
	}
	if min > def || def > max {
		return 0, 0, 0, fmt.Errorf("expected min <= default <= max, got %s / %s / %s", r.Min, r.Default, r.Max)
	}
	return min, max, def, nil
}

func (c CoinConfig) validate(ticker string) error {
	if c.Decimals < 0 || c.Decimals > 18 {
		return fmt.Errorf("decimals out of range: %d", c.Decimals)
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("fee_rate must not be negative: %v", c.FeeRate)
	}
	switch c.BalanceSource {
	case "", "rpc":
	case "electrum":
		if c.Electrum.Server == "" {
			return errors.New("electrum.server is required")
		}
	default:
		return fmt.Errorf("unknown balance_source %q", c.BalanceSource)
	}
	if c.RPC.URL == "" {
		return errors.New("rpc.url is required")
	}

	coin := c.Coin(ticker)
	if _, _, _, err := c.Tip.Bounds(coin); err != nil {
		return fmt.Errorf("tip: %w", err)
	}
	if _, _, _, err := c.Rain.Bounds(coin); err != nil {
		return fmt.Errorf("rain: %w", err)
	}
	return nil
}
