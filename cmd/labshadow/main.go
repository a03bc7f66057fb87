package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/labshadow/internal/config"
	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/platform/clock"
	"github.com/ehr/labshadow/internal/platform/db"
	"github.com/ehr/labshadow/internal/replication"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "labshadow",
		Short:         "Replicate lab orders into a shadow database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (defaults to .env; environment variables override)")

	rootCmd.AddCommand(backfillCmd(&configPath))
	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(tailCmd(&configPath))
	rootCmd.AddCommand(purgeCmd(&configPath))
	rootCmd.AddCommand(shiftsCmd(&configPath))
	rootCmd.AddCommand(respreadCmd(&configPath))
	rootCmd.AddCommand(checkCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func backfillCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Purge and replicate every day in a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := rangeFlags(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.orch.Backfill(ctx, from, to)
			if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func runCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replicate a single day (today by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			purge, _ := cmd.Flags().GetBool("purge")

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			day, err := dayOrToday(date, a.clock.Now())
			if err != nil {
				return err
			}
			rep, err := a.orch.RunDay(ctx, day, purge)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().String("date", "", "Day to replicate (YYYY-MM-DD, default today)")
	cmd.Flags().Bool("purge", false, "Purge the shadow day before replicating")
	return cmd
}

func tailCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Continuously replicate today's new orders until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.HealthAddr != "" {
				e := a.healthServer()
				go func() {
					a.logger.Info().Str("addr", a.cfg.HealthAddr).Msg("starting health server")
					if err := e.Start(a.cfg.HealthAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error().Err(err).Msg("health server error")
					}
				}()
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := e.Shutdown(sctx); err != nil {
						a.logger.Warn().Err(err).Msg("health server shutdown failed")
					}
				}()
			}

			err = a.orch.Tail(ctx)
			if errors.Is(err, context.Canceled) {
				a.logger.Info().Msg("tail stopped")
				return nil
			}
			return err
		},
	}
}

func purgeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every shadow order and shift of a day (today by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			day, err := dayOrToday(date, a.clock.Now())
			if err != nil {
				return err
			}
			res, err := a.orch.PurgeDay(ctx, day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("date", "", "Day to purge (YYYY-MM-DD, default today)")
	return cmd
}

func shiftsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shifts",
		Short: "Manage shadow work shifts",
	}

	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-attach shadow orders to their operator's shift and reconcile totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := rangeFlags(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.orch.RepairShifts(ctx, from, to)
			if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	addRangeFlags(repairCmd)
	cmd.AddCommand(repairCmd)
	return cmd
}

func respreadCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "respread",
		Short: "Redistribute shadow order times across fresh business-hour windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := rangeFlags(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.orch.Respread(ctx, from, to)
			if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	addRangeFlags(cmd)
	return cmd
}

// checkReport is printed by the check command.
type checkReport struct {
	Source         *db.PoolStats `json:"source"`
	Shadow         *db.PoolStats `json:"shadow"`
	ActiveLabTests int           `json:"active_lab_tests"`
	ActiveStaff    int           `json:"active_staff"`
	Today          string        `json:"today"`
	LastSourceID   int64         `json:"last_source_id"`
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify both databases and report catalog sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			catalog := laborder.NewCatalogRepo(a.source)
			tests, err := catalog.ActiveLabTests(ctx)
			if err != nil {
				return fmt.Errorf("load lab test catalog: %w", err)
			}
			staff, err := catalog.ActiveStaff(ctx)
			if err != nil {
				return fmt.Errorf("load staff catalog: %w", err)
			}

			today := clock.Day(a.clock.Now())
			last, err := laborder.NewShadowRepo(a.shadow).LastSourceID(ctx, today)
			if err != nil {
				return fmt.Errorf("read shadow watermark: %w", err)
			}

			return printJSON(cmd.OutOrStdout(), checkReport{
				Source:         db.GetPoolStats(a.source),
				Shadow:         db.GetPoolStats(a.shadow),
				ActiveLabTests: len(tests),
				ActiveStaff:    len(staff),
				Today:          today.Format(replication.DateLayout),
				LastSourceID:   last,
			})
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")

			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			url, schema, err := targetDatabase(cfg, target)
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, url, schema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(cfg.MigrationsDir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on %s schema: %s\n", target, schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("target", targetShadow, "Database to migrate (source or shadow)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")

			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			url, schema, err := targetDatabase(cfg, target)
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, url, schema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(cfg.MigrationsDir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			writeMigrationStatus(cmd.OutOrStdout(), target, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("target", targetShadow, "Database to inspect (source or shadow)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func writeMigrationStatus(w io.Writer, target, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for %s schema: %s\n", target, schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
