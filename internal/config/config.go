// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/telebill/internal/tariff"
	"github.com/bher20/telebill/pkg/tariffplans"
)

// Config holds the runtime configuration of the service. Every field maps to
// a TELEBILL_* environment variable.
type Config struct {
	Port        int
	Timezone    string
	DBDriver    string
	DBDSN       string
	AutoMigrate bool

	// TariffPlan selects a registered plan; the fee/rate overrides, when
	// set, replace the plan's monetary values.
	TariffPlan            string
	ConnectionFeeOverride string
	PerMinuteRateOverride string
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset.
func FromEnv() Config {
	cfg := Config{
		Port:                  8000,
		Timezone:              "America/Sao_Paulo",
		DBDriver:              "memory",
		DBDSN:                 "",
		AutoMigrate:           true,
		TariffPlan:            "standard",
		ConnectionFeeOverride: os.Getenv("TELEBILL_CONNECTION_FEE"),
		PerMinuteRateOverride: os.Getenv("TELEBILL_PER_MINUTE_RATE"),
	}
	if v := os.Getenv("TELEBILL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("TELEBILL_TZ"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("TELEBILL_DB_DRIVER"); v != "" {
		cfg.DBDriver = v
	}
	if v := os.Getenv("TELEBILL_DB_DSN"); v != "" {
		cfg.DBDSN = v
	}
	if v := os.Getenv("TELEBILL_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoMigrate = b
		}
	}
	if v := os.Getenv("TELEBILL_TARIFF_PLAN"); v != "" {
		cfg.TariffPlan = v
	}
	return cfg
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Rate resolves the configured tariff plan into a tariff.Rate, applying any
// monetary overrides.
func (c Config) Rate() (tariff.Rate, error) {
	plan, ok := tariffplans.Get(c.TariffPlan)
	if !ok {
		return tariff.Rate{}, fmt.Errorf("unknown tariff plan %q (have %v)", c.TariffPlan, tariffplans.List())
	}
	rate, err := plan.Rate()
	if err != nil {
		return tariff.Rate{}, err
	}
	if c.ConnectionFeeOverride != "" {
		fee, err := decimal.NewFromString(c.ConnectionFeeOverride)
		if err != nil {
			return tariff.Rate{}, fmt.Errorf("bad connection fee override %q: %w", c.ConnectionFeeOverride, err)
		}
		rate.ConnectionFee = fee
	}
	if c.PerMinuteRateOverride != "" {
		perMin, err := decimal.NewFromString(c.PerMinuteRateOverride)
		if err != nil {
			return tariff.Rate{}, fmt.Errorf("bad per-minute rate override %q: %w", c.PerMinuteRateOverride, err)
		}
		rate.PerMinuteRate = perMin
	}
	return rate, nil
}
