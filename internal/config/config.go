// Package config loads the service configuration.
//
// Configuration comes from one YAML file named by the --config flag or the
// TIMECHART_CONFIG environment variable. Without a file the built-in
// defaults are used. A small set of environment variables (DATABASE_URL,
// ADMIN_IDS, PORT and the DB_* connection fields) override the file, so
// secrets can stay out of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // booking.timezone must resolve in minimal images

	"gopkg.in/yaml.v3"

	"github.com/dyezepchik/time-chart-bot/internal/database"
	"github.com/dyezepchik/time-chart-bot/internal/logging"
	"github.com/dyezepchik/time-chart-bot/internal/policy"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "TIMECHART_CONFIG"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the master configuration.
type Config struct {
	Port string `yaml:"port"`

	Storage StorageConfig `yaml:"storage"`

	Booking BookingConfig `yaml:"booking"`

	Log logging.Config `yaml:"log"`

	// SessionTTL bounds how long an idle booking conversation is kept.
	SessionTTL time.Duration `yaml:"session_ttl"`

	Autogenerate AutogenerateConfig `yaml:"autogenerate"`
}

// StorageConfig selects and configures the repository backend.
type StorageConfig struct {
	Driver     string          `yaml:"driver"`
	SQLitePath string          `yaml:"sqlite_path"`
	Postgres   database.Config `yaml:"postgres"`
}

// BookingConfig mirrors policy.Policy in file form.
type BookingConfig struct {
	Places            []string `yaml:"places"`
	TimeSlots         []string `yaml:"time_slots"`
	Capacity          int      `yaml:"capacity"`
	WeeklyCap         int      `yaml:"weekly_cap"`
	MaxRangeDays      int      `yaml:"max_range_days"`
	LeadDays          int      `yaml:"lead_days"`
	WeekStart         string   `yaml:"week_start"`
	Timezone          string   `yaml:"timezone"`
	Admins            []int64  `yaml:"admins"`
	RetryInvalidInput bool     `yaml:"retry_invalid_input"`
}

// AutogenerateConfig controls the periodic generation of next week's
// calendar.
type AutogenerateConfig struct {
	Enabled bool `yaml:"enabled"`
	// Spec is a cron expression, evaluated in the booking timezone.
	Spec string `yaml:"spec"`
}

// Default returns the configuration the bot has always run with.
func Default() *Config {
	pol := policy.Default()
	return &Config{
		Port: "8080",
		Storage: StorageConfig{
			Driver:     DriverPostgres,
			SQLitePath: "timechart.db",
			Postgres:   database.DefaultConfig(),
		},
		Booking: BookingConfig{
			Places:       []string{"МГАК", "Мотокафе"},
			TimeSlots:    pol.TimeSlots,
			Capacity:     pol.Capacity,
			WeeklyCap:    pol.WeeklyCap,
			MaxRangeDays: pol.MaxRangeDays,
			WeekStart:    string(pol.WeekStart),
			Timezone:     "UTC",
		},
		Log:        logging.DefaultConfig(),
		SessionTTL: 30 * time.Minute,
		Autogenerate: AutogenerateConfig{
			// Sundays at 18:00.
			Spec: "0 18 * * 0",
		},
	}
}

// Load reads the file at path, or the one named by TIMECHART_CONFIG when
// path is empty, and applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Port, "PORT")
	set(&c.Storage.Driver, "STORAGE_DRIVER")
	set(&c.Storage.SQLitePath, "SQLITE_PATH")
	set(&c.Storage.Postgres.URL, "DATABASE_URL")
	set(&c.Storage.Postgres.Host, "DB_HOST")
	set(&c.Storage.Postgres.Port, "DB_PORT")
	set(&c.Storage.Postgres.User, "DB_USER")
	set(&c.Storage.Postgres.Password, "DB_PASSWORD")
	set(&c.Storage.Postgres.DBName, "DB_NAME")
	set(&c.Storage.Postgres.SSLMode, "DB_SSLMODE")

	if v := getenv("ADMIN_IDS"); v != "" {
		ids, err := ParseIDs(v)
		if err != nil {
			return fmt.Errorf("ADMIN_IDS: %w", err)
		}
		c.Booking.Admins = ids
	}
	return nil
}

// ParseIDs parses a comma separated list of user ids.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Policy converts the booking section into a validated policy.
func (c *Config) Policy() (policy.Policy, error) {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("booking.timezone: %w", err)
	}
	p := policy.Policy{
		Places:            slices.Clone(c.Booking.Places),
		TimeSlots:         slices.Clone(c.Booking.TimeSlots),
		Capacity:          c.Booking.Capacity,
		WeeklyCap:         c.Booking.WeeklyCap,
		MaxRangeDays:      c.Booking.MaxRangeDays,
		LeadDays:          c.Booking.LeadDays,
		WeekStart:         policy.WeekStart(c.Booking.WeekStart),
		Admins:            slices.Clone(c.Booking.Admins),
		RetryInvalidInput: c.Booking.RetryInvalidInput,
		Location:          loc,
	}
	if err := p.Validate(); err != nil {
		return policy.Policy{}, fmt.Errorf("booking: %w", err)
	}
	return p, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Autogenerate.Enabled && strings.TrimSpace(c.Autogenerate.Spec) == "" {
		errs = append(errs, errors.New("autogenerate.spec is required when autogenerate is enabled"))
	}
	return errors.Join(errs...)
}
