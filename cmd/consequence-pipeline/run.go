// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/consequence-pipeline/internal/ingest"
	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long: `Run ingests articles for every topic, advances them through the title,
content, summary and aspect stages, and publishes the classified records.
The staging database is created for the run and removed when it ends,
whether the run succeeds or not.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "do not write to the production store")
	runCmd.Flags().StringSlice("topics", nil, "topics to search (overrides config)")
	runCmd.Flags().Int("window-days", 0, "publication window in days (default 7)")
	runCmd.Flags().String("store", "", "production store: postgres, rest or dry-run")
	runCmd.Flags().Bool("json", false, "print the run report as JSON")

	viper.BindPFlag("sources.window_days", runCmd.Flags().Lookup("window-days"))
	viper.BindPFlag("publish.kind", runCmd.Flags().Lookup("store"))

	rootCmd.AddCommand(runCmd)
}

// commandConfig loads config and applies the flags shared by run, serve
// and schedule.
func commandConfig(cmd *cobra.Command) (types.PipelineConfig, bool, error) {
	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return cfg, false, err
	}
	if topics, _ := cmd.Flags().GetStringSlice("topics"); len(topics) > 0 {
		cfg.Sources.Topics = ingest.CleanTopics(topics)
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	return cfg, dryRun, nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, dryRun, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	r, closeStore, err := buildRunner(cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Printf("Success: %s\n", rep.Message())
	return nil
}
