// Package commands implements CLI command handlers for benchfill.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchfill/pkg/config"
	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
	"github.com/Sumatoshi-tech/benchfill/pkg/version"
)

// Persistent flag names shared by every command.
const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagLogJSON  = "log-json"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	shutdownGrace            = 10 * time.Second
)

// RegisterGlobalFlags adds the flags every subcommand understands.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String(flagConfig, "", "Config file (default: .benchfill.yaml in . or $HOME)")
	root.PersistentFlags().String(flagLogLevel, "", "Log level: debug, info, warn, error")
	root.PersistentFlags().Bool(flagLogJSON, false, "Log as JSON")
}

// loadConfig reads the config file named by --config and applies the global
// logging flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(flagConfig)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString(flagLogLevel); level != "" {
		cfg.Logging.Level = level
	}

	if cmd.Flags().Changed(flagLogJSON) {
		cfg.Logging.JSON, _ = cmd.Flags().GetBool(flagLogJSON)
	}

	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level

	err := level.UnmarshalText([]byte(strings.ToUpper(s)))
	if err != nil {
		return slog.LevelInfo
	}

	return level
}

// initObservability builds providers for one command invocation.
func initObservability(cfg *config.Config, mode observability.AppMode) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Get().Version
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.Prometheus = cfg.Telemetry.MetricsAddr != ""
	obsCfg.LogLevel = parseLevel(cfg.Logging.Level)
	obsCfg.LogJSON = cfg.Logging.JSON

	return observability.Init(obsCfg)
}

func shutdownObservability(providers observability.Providers) {
	shutdownErr := providers.Shutdown(context.Background())
	if shutdownErr != nil {
		providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
	}
}

// serveMetrics exposes the Prometheus handler on its own listener so the
// scrape path never collides with a package name on the index. The returned
// function stops it.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) (func(), error) {
	if addr == "" || handler == nil {
		return func() {}, nil
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

	go func() {
		serveErr := srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", serveErr)
		}
	}()

	logger.InfoContext(ctx, "serving metrics", "url", "http://"+ln.Addr().String()+"/metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
