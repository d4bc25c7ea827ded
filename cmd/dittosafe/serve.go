package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/engine"
)

var metricsPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the engine running and expose Prometheus metrics",
	Long: `Starts the engine, finishes interrupted writes of every known safe and
serves /metrics and /healthz until interrupted.

Examples:
  dittosafe serve --metrics-port 9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if metricsPort > 0 {
			cfg.Metrics.Enabled = true
			cfg.Metrics.Port = metricsPort
		}
		if cfg.Metrics.Port == 0 {
			return fmt.Errorf("no metrics port configured: set metrics.port or pass --metrics-port")
		}

		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			done(cmd.OutOrStdout(), "Serving metrics on %s", highlight(fmt.Sprintf(":%d/metrics", cfg.Metrics.Port)))
			logger.Info("Engine is running. Press Ctrl+C to stop.")
			<-ctx.Done()
			logger.Info("Shutting down...")
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "metrics port (overrides metrics.port)")
}
