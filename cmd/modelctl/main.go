// Command modelctl is the operator-facing entrypoint: validate and diff a
// config file offline, or serve it -- polling the file, applying it to a
// live Engine, and exposing the transport HTTP/WebSocket shell. Grounded
// on the teacher's migrations.CLI cobra structure (root command plus one
// subcommand per operation) and cmd/server/main.go's flag/lifecycle
// conventions for serve.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferencemesh/modelmesh/internal/obs"
)

var version = "dev"

func main() {
	logLevel := os.Getenv("MODELCTL_LOG_LEVEL")
	logger := obs.NewLogger(obs.Config{Level: logLevel, Format: "json", Output: "stdout"})

	root := &cobra.Command{
		Use:     "modelctl",
		Short:   "Operate a model-serving engine instance",
		Version: version,
	}
	root.AddCommand(newValidateCommand(), newDiffCommand(), newServeCommand(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
