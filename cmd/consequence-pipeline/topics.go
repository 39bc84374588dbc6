// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/consequence-pipeline/internal/ingest"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the configured topics or write them to a file",
	Long: `Topics prints the topic queries the next run will search, one per line.
With --write, the list is saved as a YAML topic file that can be edited and
referenced from sources.topics_file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("write"); path != "" {
			if err := ingest.WriteTopics(path, cfg.Sources.Topics); err != nil {
				return err
			}
			fmt.Printf("Wrote %d topics to %s\n", len(cfg.Sources.Topics), path)
			return nil
		}
		for _, t := range cfg.Sources.Topics {
			fmt.Println(t)
		}
		return nil
	},
}

func init() {
	topicsCmd.Flags().String("write", "", "write the topic list to this YAML file")
	rootCmd.AddCommand(topicsCmd)
}
