package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ehr/labshadow/internal/platform/db"
)

// Lock backends.
const (
	LockPostgres = "postgres"
	LockRedis    = "redis"
	LockNone     = "none"
)

type Config struct {
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	SourceDatabaseURL  string        `mapstructure:"SOURCE_DATABASE_URL"`
	ShadowDatabaseURL  string        `mapstructure:"SHADOW_DATABASE_URL"`
	SourceSchema       string        `mapstructure:"SOURCE_SCHEMA"`
	ShadowSchema       string        `mapstructure:"SHADOW_SCHEMA"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	BarrierDaily       int64         `mapstructure:"BARRIER_DAILY"`
	BarrierJitter      int64         `mapstructure:"BARRIER_JITTER"`
	BusinessHoursStart int           `mapstructure:"BUSINESS_HOURS_START"`
	BusinessHoursEnd   int           `mapstructure:"BUSINESS_HOURS_END"`
	TailInterval       time.Duration `mapstructure:"TAIL_INTERVAL"`
	Timezone           string        `mapstructure:"TIMEZONE"`
	LockBackend        string        `mapstructure:"LOCK_BACKEND"`
	LockKey            string        `mapstructure:"LOCK_KEY"`
	LockTTL            time.Duration `mapstructure:"LOCK_TTL"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	HealthAddr         string        `mapstructure:"HEALTH_ADDR"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
}

// Pipeline holds the values the replication orchestrator consumes.
type Pipeline struct {
	Barrier            decimal.Decimal
	BarrierJitter      int64
	BusinessHoursStart int
	BusinessHoursEnd   int
	TailInterval       time.Duration
}

var keys = []string{
	"ENV", "LOG_LEVEL",
	"SOURCE_DATABASE_URL", "SHADOW_DATABASE_URL", "SOURCE_SCHEMA", "SHADOW_SCHEMA",
	"DB_MAX_CONNS", "DB_MIN_CONNS",
	"BARRIER_DAILY", "BARRIER_JITTER", "BUSINESS_HOURS_START", "BUSINESS_HOURS_END",
	"TAIL_INTERVAL", "TIMEZONE",
	"LOCK_BACKEND", "LOCK_KEY", "LOCK_TTL", "REDIS_URL",
	"HEALTH_ADDR", "MIGRATIONS_DIR",
}

// Load reads configuration from path (".env" when empty; a missing file is not
// an error) overlaid by environment variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = ".env"
	}
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") {
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SOURCE_SCHEMA", "public")
	v.SetDefault("SHADOW_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("BARRIER_DAILY", 250000)
	v.SetDefault("BARRIER_JITTER", 25000)
	v.SetDefault("BUSINESS_HOURS_START", 8)
	v.SetDefault("BUSINESS_HOURS_END", 22)
	v.SetDefault("TAIL_INTERVAL", "60s")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("LOCK_BACKEND", LockPostgres)
	v.SetDefault("LOCK_KEY", "labshadow")
	v.SetDefault("LOCK_TTL", "2m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves TIMEZONE, used to decide which calendar day is "today".
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Pipeline projects the orchestrator settings.
func (c *Config) Pipeline() Pipeline {
	return Pipeline{
		Barrier:            decimal.NewFromInt(c.BarrierDaily),
		BarrierJitter:      c.BarrierJitter,
		BusinessHoursStart: c.BusinessHoursStart,
		BusinessHoursEnd:   c.BusinessHoursEnd,
		TailInterval:       c.TailInterval,
	}
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.SourceDatabaseURL == "" {
		return fmt.Errorf("SOURCE_DATABASE_URL is required")
	}
	if c.ShadowDatabaseURL == "" {
		return fmt.Errorf("SHADOW_DATABASE_URL is required")
	}
	if c.SourceDatabaseURL == c.ShadowDatabaseURL && c.SourceSchema == c.ShadowSchema {
		return fmt.Errorf("source and shadow must differ (same URL and schema %q)", c.ShadowSchema)
	}
	if !db.ValidSchema(c.SourceSchema) {
		return fmt.Errorf("SOURCE_SCHEMA %q is not a valid identifier", c.SourceSchema)
	}
	if !db.ValidSchema(c.ShadowSchema) {
		return fmt.Errorf("SHADOW_SCHEMA %q is not a valid identifier", c.ShadowSchema)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS/DB_MAX_CONNS out of range: %d/%d", c.DBMinConns, c.DBMaxConns)
	}
	if c.BarrierDaily <= 0 {
		return fmt.Errorf("BARRIER_DAILY must be positive, got %d", c.BarrierDaily)
	}
	if c.BarrierJitter < 0 || c.BarrierJitter >= c.BarrierDaily {
		return fmt.Errorf("BARRIER_JITTER must be in [0, BARRIER_DAILY), got %d", c.BarrierJitter)
	}
	if c.BusinessHoursStart < 0 || c.BusinessHoursEnd > 24 || c.BusinessHoursStart >= c.BusinessHoursEnd {
		return fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got %d-%d",
			c.BusinessHoursStart, c.BusinessHoursEnd)
	}
	if c.TailInterval <= 0 {
		return fmt.Errorf("TAIL_INTERVAL must be positive, got %s", c.TailInterval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.LockBackend {
	case LockPostgres:
		// The advisory lease pins one shadow connection for the whole run.
		if c.DBMaxConns < 2 {
			return fmt.Errorf("DB_MAX_CONNS must be at least 2 when LOCK_BACKEND is %q, got %d", LockPostgres, c.DBMaxConns)
		}
	case LockNone:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND is %q", LockRedis)
		}
		if c.LockTTL <= 0 {
			return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q, %q, or %q, got %q", LockPostgres, LockRedis, LockNone, c.LockBackend)
	}

	return nil
}
