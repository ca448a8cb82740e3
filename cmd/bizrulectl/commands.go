package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/execution-hub/bizrules/internal/bootstrap"
	"github.com/execution-hub/bizrules/internal/config"
	"github.com/execution-hub/bizrules/internal/infrastructure/postgres"
)

const dateLayout = "2006-01-02"

func newSweepCmd(logger zerolog.Logger) *cobra.Command {
	var (
		limit int
		at    string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every due SLA check point once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				now = t.UTC()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.SchedulerBatch
			}
			app, err := bootstrap.New(cmd.Context(), cfg, false, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.SLA.ProcessDueChecks(cmd.Context(), now, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum check points to process (defaults to SCHEDULER_BATCH)")
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 time instead of now")
	return cmd
}

func newReportCmd(logger zerolog.Logger) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the SLA report for a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := parsePeriod(from, to, time.Now().UTC())
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			app, err := bootstrap.New(cmd.Context(), cfg, false, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Report.GenerateSLAReport(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "period start, YYYY-MM-DD (defaults to 30 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "period end, exclusive, YYYY-MM-DD (defaults to tomorrow)")
	return cmd
}

func newMigrateCmd(logger zerolog.Logger) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.RunMigrations(cmd.Context(), pool, dir)
			if err != nil {
				return err
			}
			logger.Info().Strs("migrations", applied).Msg("migrations applied")
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"applied": applied})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	return cmd
}

// parsePeriod turns optional YYYY-MM-DD bounds into a half-open UTC period.
func parsePeriod(from, to string, now time.Time) (time.Time, time.Time, error) {
	today := now.Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -30)
	end := today.AddDate(0, 0, 1)
	var err error
	if from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to must be YYYY-MM-DD: %w", err)
		}
	}
	return start, end, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
