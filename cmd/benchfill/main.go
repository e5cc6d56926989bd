// Package main provides the entry point for the benchfill CLI tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchfill/cmd/benchfill/commands"
	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/version"
)

// Exit codes.
const (
	exitFailure         = 1
	exitRevisionFailure = 2
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	rootCmd := &cobra.Command{
		Use:   "benchfill",
		Short: "Backfill benchmark history across past revisions",
		Long: `benchfill measures today's benchmark suite against historical revisions.

Commands:
  run       Build and benchmark every revision in a commit range
  serve     Serve a seed directory as a PEP 503 package index
  seed      Download distributions into a seed directory
  render    Re-render a saved report`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	commands.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewSeedCommand())
	rootCmd.AddCommand(commands.NewRenderCommand())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if errors.Is(err, backfill.ErrEnvironmentFailures) {
			os.Exit(exitRevisionFailure)
		}

		os.Exit(exitFailure)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "benchfill %s\n", version.Get())
		},
	}
}
