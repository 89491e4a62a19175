// Package config loads the coordinator configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Shop     ShopConfig     `yaml:"shop" envPrefix:"SHOP_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	OTel     OTelConfig     `yaml:"otel" envPrefix:"OTEL_"`
}

type ServerConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// RateLimit uses the ulule/limiter formatted rate, e.g. "300-M".
	RateLimit      string `yaml:"rate_limit" env:"RATE_LIMIT"`
	NotifierBuffer int    `yaml:"notifier_buffer" env:"NOTIFIER_BUFFER"`
}

type DatabaseConfig struct {
	Driver    string        `yaml:"driver" env:"DRIVER"` // postgres | sqlite
	Host      string        `yaml:"host" env:"HOST"`
	Port      int           `yaml:"port" env:"PORT"`
	User      string        `yaml:"user" env:"USER"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	Database  string        `yaml:"database" env:"NAME"`
	SSLMode   string        `yaml:"sslmode" env:"SSLMODE"`
	MaxConns  int           `yaml:"max_conns" env:"MAX_CONNS"`
	Path      string        `yaml:"path" env:"PATH"` // sqlite file
	TxTimeout time.Duration `yaml:"tx_timeout" env:"TX_TIMEOUT"`
}

type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	VHost    string `yaml:"vhost" env:"VHOST"`
	UseTLS   bool   `yaml:"use_tls" env:"USE_TLS"`
}

type ShopConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	Address  string `yaml:"address" env:"ADDRESS"`
	Currency string `yaml:"currency" env:"CURRENCY"`
	Locale   string `yaml:"locale" env:"LOCALE"`
	// MinorUnitDecimals is the number of decimals in one currency unit (2 for cents).
	MinorUnitDecimals int `yaml:"minor_unit_decimals" env:"MINOR_UNIT_DECIMALS"`
	// RoundingIncrement is the cash rounding step in minor units (1 = exact cents, 5 = nickel).
	RoundingIncrement        int64           `yaml:"rounding_increment" env:"ROUNDING_INCREMENT"`
	DefaultServiceChargeRate decimal.Decimal `yaml:"default_service_charge_rate" env:"DEFAULT_SERVICE_CHARGE_RATE"`
	Taxes                    []TaxConfig     `yaml:"taxes"`
}

// TaxConfig seeds the taxes table at startup.
type TaxConfig struct {
	Name      string          `yaml:"name"`
	Rate      decimal.Decimal `yaml:"rate"`
	Inclusive bool            `yaml:"inclusive"`
	Active    bool            `yaml:"active"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type OTelConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3000,
			RequestTimeout: 10 * time.Second,
			RateLimit:      "600-M",
			NotifierBuffer: 256,
		},
		Database: DatabaseConfig{
			Driver:    "postgres",
			Port:      5432,
			SSLMode:   "disable",
			MaxConns:  10,
			TxTimeout: 5 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
		},
		Shop: ShopConfig{
			Name:                     "Restaurant",
			Currency:                 "USD",
			Locale:                   "en",
			MinorUnitDecimals:        2,
			RoundingIncrement:        1,
			DefaultServiceChargeRate: decimal.Zero,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load applies defaults, the YAML file at path (optional), a .env file (optional)
// and environment variables, in that order, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	// taxes are configured from the file only
	taxes := cfg.Shop.Taxes
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Shop.Taxes = taxes
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.NotifierBuffer <= 0 {
		return fmt.Errorf("server.notifier_buffer must be positive")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
			return fmt.Errorf("database config incomplete: host, user and database are required")
		}
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.TxTimeout <= 0 {
		return fmt.Errorf("database.tx_timeout must be positive")
	}
	if c.RabbitMQ.Enabled && (c.RabbitMQ.Host == "" || c.RabbitMQ.User == "") {
		return fmt.Errorf("rabbitmq config incomplete: host and user are required")
	}
	return c.Shop.validate()
}

func (s ShopConfig) validate() error {
	if len(s.Currency) != 3 {
		return fmt.Errorf("shop.currency must be an ISO 4217 code")
	}
	if s.MinorUnitDecimals < 0 || s.MinorUnitDecimals > 4 {
		return fmt.Errorf("shop.minor_unit_decimals must be between 0 and 4")
	}
	if s.RoundingIncrement < 1 {
		return fmt.Errorf("shop.rounding_increment must be at least 1")
	}
	if !validPercent(s.DefaultServiceChargeRate) {
		return fmt.Errorf("shop.default_service_charge_rate must be between 0 and 100")
	}
	seen := make(map[string]bool, len(s.Taxes))
	for _, t := range s.Taxes {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("shop.taxes: name is required")
		}
		if seen[name] {
			return fmt.Errorf("shop.taxes: duplicate tax %q", name)
		}
		seen[name] = true
		if !validPercent(t.Rate) {
			return fmt.Errorf("shop.taxes: rate of %q must be between 0 and 100", name)
		}
	}
	return nil
}

func validPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(100))
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}
