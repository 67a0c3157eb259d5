package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferencemesh/modelmesh/internal/config"
)

func newValidateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := config.NewFileSource(path)
			cfg, err := src.Load(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("config OK: %d model entries, %d pipeline entries, poll interval %ds\n",
				len(cfg.Models), len(cfg.Pipelines), cfg.PollIntervalSeconds)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "config.yaml", "path to the config YAML file")
	return cmd
}
