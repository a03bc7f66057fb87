package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/labshadow/internal/config"
	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/domain/workshift"
	"github.com/ehr/labshadow/internal/platform/clock"
	"github.com/ehr/labshadow/internal/platform/db"
	"github.com/ehr/labshadow/internal/platform/lock"
	"github.com/ehr/labshadow/internal/platform/middleware"
	"github.com/ehr/labshadow/internal/replication"
	"github.com/ehr/labshadow/migrations"
)

const (
	targetSource = "source"
	targetShadow = "shadow"
)

// app holds the process-wide collaborators shared by the replication commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	clock  clock.Clock
	source *pgxpool.Pool
	shadow *pgxpool.Pool
	rdb    *redis.Client
	orch   *replication.Orchestrator
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, clock: clock.NewSystem(loc)}

	a.source, err = db.NewPool(ctx, cfg.SourceDatabaseURL, cfg.SourceSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect source database: %w", err)
	}
	a.shadow, err = db.NewPool(ctx, cfg.ShadowDatabaseURL, cfg.ShadowSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect shadow database: %w", err)
	}
	logger.Info().
		Str("source_schema", cfg.SourceSchema).
		Str("shadow_schema", cfg.ShadowSchema).
		Msg("connected to databases")

	locker, err := a.locker()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orch = replication.New(replication.Deps{
		Scanner: laborder.NewScanner(laborder.NewSourceRepo(a.source), laborder.NewCatalogRepo(a.source), logger),
		Shadow:  laborder.NewShadowRepo(a.shadow),
		Shifts:  workshift.NewRepo(a.shadow),
		Locker:  locker,
		LockKey: cfg.LockKey,
		Clock:   a.clock,
		Random:  clock.NewRandom(),
	}, cfg.Pipeline(), logger)
	return a, nil
}

func (a *app) locker() (lock.Locker, error) {
	switch a.cfg.LockBackend {
	case config.LockRedis:
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		return lock.NewRedis(a.rdb, a.cfg.LockTTL), nil
	case config.LockNone:
		a.logger.Warn().Msg("run lock disabled")
		return lock.NewNoop(), nil
	default:
		return lock.NewAdvisory(a.shadow), nil
	}
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.shadow != nil {
		a.shadow.Close()
	}
	if a.source != nil {
		a.source.Close()
	}
}

func (a *app) healthServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	log := a.logger.With().Str("component", "health").Logger()
	e.Use(middleware.Recovery(log))
	e.Use(middleware.ProbeLog(log))

	e.GET("/health", db.HealthHandler([]db.HealthTarget{
		db.PoolTarget(targetSource, a.source),
		db.PoolTarget(targetShadow, a.shadow),
	}, func() interface{} {
		return a.orch.LastTail()
	}))
	return e
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(parseLevel(cfg.LogLevel))
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// targetDatabase resolves the connection URL and schema of a migrate target.
func targetDatabase(cfg *config.Config, target string) (string, string, error) {
	switch target {
	case targetSource:
		return cfg.SourceDatabaseURL, cfg.SourceSchema, nil
	case targetShadow:
		return cfg.ShadowDatabaseURL, cfg.ShadowSchema, nil
	default:
		return "", "", fmt.Errorf("--target must be %q or %q, got %q", targetSource, targetShadow, target)
	}
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "First day (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last day, inclusive (YYYY-MM-DD, defaults to --from)")
	_ = cmd.MarkFlagRequired("from")
}

func rangeFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	return parseRange(from, to)
}

// parseRange parses --from/--to; an empty to means a single day.
func parseRange(from, to string) (time.Time, time.Time, error) {
	if from == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--from is required")
	}
	start, err := replication.ParseDay(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to == "" {
		return start, start, nil
	}
	end, err := replication.ParseDay(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return start, end, nil
}

// dayOrToday parses date, or returns the calendar day of now when empty.
func dayOrToday(date string, now time.Time) (time.Time, error) {
	if date == "" {
		return clock.Day(now), nil
	}
	return replication.ParseDay(date)
}
