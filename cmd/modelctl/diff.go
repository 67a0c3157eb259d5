package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inferencemesh/modelmesh/internal/config"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

// newDiffCommand resolves a config file's model versions and pipeline
// DAGs without applying them to any Engine -- an operator's dry run
// before pointing a running modelctl serve at the same file.
func newDiffCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the resolved model/pipeline apply-diff without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := config.NewFileSource(path)
			cfg, err := src.Load(context.Background())
			if err != nil {
				return err
			}

			normalized, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("modelctl: re-marshal config: %w", err)
			}
			fmt.Println("# normalized config")
			fmt.Print(string(normalized))

			fs := storage.NewLocalAdapter()
			models, modelErrs := config.ResolveModels(context.Background(), cfg, fs)
			fmt.Println("\n# resolved model versions")
			for _, name := range sortedKeys(models) {
				versions := make([]int64, 0, len(models[name]))
				for v := range models[name] {
					versions = append(versions, v)
				}
				sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
				fmt.Printf("  %s: %v\n", name, versions)
			}
			for name, rerr := range modelErrs {
				fmt.Printf("  %s: ERROR %v\n", name, rerr)
			}

			pipelines := config.ResolvePipelines(cfg)
			fmt.Println("\n# resolved pipelines")
			for _, name := range sortedKeys(pipelines) {
				desc := pipelines[name]
				fmt.Printf("  %s: %d nodes, %d connections\n", name, len(desc.Nodes), len(desc.Connections))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "config.yaml", "path to the config YAML file")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
