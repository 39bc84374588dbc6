// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/consequence-pipeline/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule",
	Long: `Schedule runs the pipeline on schedule.cron (default "0 6 * * *") in
schedule.timezone. A tick that fires while the previous run is still going
is skipped. Stop with SIGINT or SIGTERM; a run in progress finishes first.`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().Bool("dry-run", false, "do not write to the production store")
	scheduleCmd.Flags().StringSlice("topics", nil, "topics to search (overrides config)")

	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, dryRun, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	r, closeStore, err := buildRunner(cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	s, err := schedule.New(cfg.Schedule, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx, func(ctx context.Context) error {
		rep, err := r.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info(rep.Message())
		return nil
	})
}
