package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/inferencemesh/modelmesh/internal/config"
	"github.com/inferencemesh/modelmesh/internal/core/backend/memory"
	"github.com/inferencemesh/modelmesh/internal/core/registry"
	"github.com/inferencemesh/modelmesh/internal/core/subscription"
	"github.com/inferencemesh/modelmesh/internal/metrics"
	"github.com/inferencemesh/modelmesh/internal/storage"
	"github.com/inferencemesh/modelmesh/internal/transport"
	"github.com/inferencemesh/modelmesh/pkg/engine"
)

// newServeCommand wires a config source, an Engine, and the transport
// server together and runs until SIGINT/SIGTERM, following the teacher's
// cmd/server/main.go lifecycle: signal.NotifyContext, a goroutine running
// ListenAndServe, and a bounded-timeout Shutdown on signal. The Postgres
// connection pool and schema-migration steps the teacher ran at this same
// point have no analog here: this engine's state is the in-memory
// registry a Poller keeps in sync with the config file, not a database.
func newServeCommand(logger *slog.Logger) *cobra.Command {
	var (
		configPath   string
		addr         string
		slotTimeout  time.Duration
		pipelineDL   time.Duration
		shutdownWait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll a config file and serve predictions over HTTP/WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fs := storage.NewLocalAdapter()
			// memory.Runtime is the reference backend.Runtime shipped with
			// this engine; a real deployment swaps in a native runtime
			// behind the same interface without touching anything above it.
			reg := registry.New(memory.NewRuntime(), fs, subscription.New())

			collectors := metrics.New(prometheus.DefaultRegisterer, "modelmesh")
			eng := engine.New(reg, engine.Options{
				SlotTimeout:      slotTimeout,
				PipelineDeadline: pipelineDL,
				Metrics:          collectors,
			})

			srv := transport.NewServer(addr, eng, logger)

			poller := config.NewPoller(config.NewFileSource(configPath), fs, eng)
			poller.SetEventPublisher(srv.Hub())

			if _, _, err := poller.ApplyOnce(ctx); err != nil {
				return err
			}
			eng.CollectRegistryGauges()

			go poller.Run(ctx, 10*time.Second)
			go func() {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						eng.CollectRegistryGauges()
					}
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Serve(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("modelctl: shutting down")
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config YAML file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().DurationVar(&slotTimeout, "slot-timeout", 5*time.Second, "max wait for an available inference slot")
	cmd.Flags().DurationVar(&pipelineDL, "pipeline-deadline", 10*time.Second, "max total pipeline execution time")
	cmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 30*time.Second, "max time to wait for in-flight requests on shutdown")
	return cmd
}
