package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
	"github.com/Sumatoshi-tech/benchfill/pkg/pypi"
)

var errMissingFlag = errors.New("required flag not set")

// NewSeedCommand creates the seed command.
func NewSeedCommand() *cobra.Command {
	return newSeedCommandWithDownloader(nil)
}

// newSeedCommandWithDownloader uses dl instead of pip when non-nil.
func newSeedCommandWithDownloader(dl pypi.Downloader) *cobra.Command {
	var seedDir, indexURL, python string

	cmd := &cobra.Command{
		Use:   "seed --seed-dir DIR REQUIREMENT...",
		Short: "Download distributions into a seed directory",
		Long: `Download each requirement without its dependencies and file it under
DIR/<normalized project>/, the layout "serve" and "run --seed-dir" read.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("seed-dir") {
				cfg.Index.SeedDir = seedDir
			}

			if cfg.Index.SeedDir == "" {
				return fmt.Errorf("%w: --seed-dir", errMissingFlag)
			}

			if cmd.Flags().Changed("python") {
				cfg.Run.Python = python
			}

			providers, err := initObservability(cfg, observability.ModeTool)
			if err != nil {
				return err
			}
			defer shutdownObservability(providers)

			downloader := dl
			if downloader == nil {
				downloader = pypi.PipDownloader{Python: cfg.Run.Python, Runner: command.ExecRunner{}, IndexURL: indexURL}
			}

			return pypi.Seed(cmd.Context(), cfg.Index.SeedDir, args, downloader, providers.Logger)
		},
	}

	cmd.Flags().StringVar(&seedDir, "seed-dir", "", "Directory to populate")
	cmd.Flags().StringVar(&indexURL, "index-url", "", "Index to download from (default: pip's)")
	cmd.Flags().StringVar(&python, "python", "", "Python interpreter running pip")

	return cmd
}
