// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the consequence-pipeline CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/consequence-pipeline/internal/logging"
	"github.com/pdiddy/consequence-pipeline/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets secrets.Secrets

// logger is built from the logging section once config is read.
var logger = slog.Default()

// rootCmd is the base command for the consequence-pipeline CLI.
var rootCmd = &cobra.Command{
	Use:   "consequence-pipeline",
	Short: "Collect and classify articles about undesirable consequences of technology",
	Long: `consequence-pipeline searches arXiv, The Guardian and The New York Times
for recent articles on a list of technology topics, stages them in a
temporary SQLite database, asks a language model which ones describe an
undesirable consequence of the technology, summarizes and classifies those,
and publishes the results to the production store.

Use run for a single pass, serve to expose the HTTP cron trigger and
schedule to run on a cron expression.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, nil)
		if err != nil {
			return err
		}
		loadedSecrets = s

		l, err := logging.New(logConfig(viper.GetViper()), os.Stderr)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)

		if len(s) > 0 {
			logger.Debug("loaded secrets", "keys", s.Keys())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./consequence-pipeline.yaml or ~/.config/consequence-pipeline/config.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of one-file-per-key secrets")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("consequence-pipeline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "consequence-pipeline"))
		}
	}

	viper.SetEnvPrefix("CONSEQUENCE_PIPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := registerDefaults(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "warning: registering config defaults:", err)
	}
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
