package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	ListenAddr       string        `env:"STATION_LISTEN_ADDR" envDefault:":8080"`
	StoreDriver      string        `env:"STATION_STORE_DRIVER" envDefault:"sqlite"`
	DatabaseURL      string        `env:"STATION_DATABASE_URL"`
	SQLitePath       string        `env:"STATION_SQLITE_PATH" envDefault:"station_billing.db"`
	LedgerURL        string        `env:"STATION_LEDGER_URL"`
	LedgerTimeout    time.Duration `env:"STATION_LEDGER_TIMEOUT" envDefault:"10s"`
	StationCount     int           `env:"STATION_COUNT" envDefault:"9"`
	UTCOffsetMinutes int           `env:"STATION_UTC_OFFSET_MINUTES" envDefault:"240"`
	BaseHourlyRate   float64       `env:"STATION_BASE_HOURLY_RATE" envDefault:"16"`
	FitPassAmount    float64       `env:"STATION_FITPASS_AMOUNT" envDefault:"6"`
	FitPassWindow    time.Duration `env:"STATION_FITPASS_WINDOW" envDefault:"30m"`
	FlatRatesRaw     string        `env:"STATION_FLAT_RATES"`
	TickInterval     time.Duration `env:"STATION_TICK_INTERVAL" envDefault:"1s"`
	PruneInterval    time.Duration `env:"STATION_PRUNE_INTERVAL" envDefault:"1h"`

	// FlatRates maps a game type to its hourly rate.
	FlatRates map[string]decimal.Decimal
}

// LoadFromEnv reads an optional .env file, then the process environment.
func LoadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("event=dotenv_skipped err=%v", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	rates, err := parseRates(cfg.FlatRatesRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.FlatRates = rates
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("STATION_SQLITE_PATH is required for sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STATION_DATABASE_URL is required for postgres store")
		}
	default:
		return fmt.Errorf("STATION_STORE_DRIVER must be one of sqlite|postgres")
	}
	if c.StationCount <= 0 {
		return fmt.Errorf("STATION_COUNT must be positive")
	}
	if c.UTCOffsetMinutes < -14*60 || c.UTCOffsetMinutes > 14*60 {
		return fmt.Errorf("STATION_UTC_OFFSET_MINUTES out of range")
	}
	if c.BaseHourlyRate < 0 || c.FitPassAmount < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if c.FitPassWindow <= 0 || c.TickInterval <= 0 || c.PruneInterval <= 0 || c.LedgerTimeout <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	return nil
}

func (c Config) BaseRate() decimal.Decimal {
	return decimal.NewFromFloat(c.BaseHourlyRate)
}

func (c Config) FitPassRate() decimal.Decimal {
	return decimal.NewFromFloat(c.FitPassAmount)
}

func parseRates(raw string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for k, v := range parseKVMap(raw) {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("STATION_FLAT_RATES: invalid rate %q for %s", v, k)
		}
		out[k] = d
	}
	return out, nil
}

func parseKVMap(v string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(v) == "" {
		return out
	}
	pairs := strings.Split(v, ",")
	for _, p := range pairs {
		parts := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if k != "" && val != "" {
			out[k] = val
		}
	}
	return out
}
