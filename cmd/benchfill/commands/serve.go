package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchfill/pkg/config"
	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
)

// NewServeCommand creates the serve command: a standalone index over a seed
// directory that runs until interrupted.
func NewServeCommand() *cobra.Command {
	var seedDir, addr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve --seed-dir DIR",
		Short: "Serve a seed directory as a PEP 503 package index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("seed-dir") {
				cfg.Index.SeedDir = seedDir
			}

			if cmd.Flags().Changed("addr") {
				cfg.Index.Addr = addr
			}

			if cmd.Flags().Changed("metrics-addr") {
				cfg.Telemetry.MetricsAddr = metricsAddr
			}

			if cfg.Index.SeedDir == "" {
				return fmt.Errorf("%w: --seed-dir", errMissingFlag)
			}

			return serve(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&seedDir, "seed-dir", "", "Directory of distribution files to serve")
	cmd.Flags().StringVar(&addr, "addr", config.DefaultIndexAddr, "Listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	providers, err := initObservability(cfg, observability.ModeServe)
	if err != nil {
		return err
	}
	defer shutdownObservability(providers)

	ctx := cmd.Context()

	stopMetrics, err := serveMetrics(ctx, cfg.Telemetry.MetricsAddr, providers.MetricsHandler, providers.Logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	sess, err := startSession(ctx, cfg.Index.SeedDir, cfg.Index.Addr, providers)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", sess.URL())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	return sess.Close(shutdownCtx)
}
