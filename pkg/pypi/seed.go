package pypi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
)

// ErrNothingDownloaded is returned when a requirement produced no artifact.
var ErrNothingDownloaded = errors.New("download produced no artifacts")

// Downloader fetches the distribution files of one requirement into dest.
type Downloader interface {
	Download(ctx context.Context, requirement, dest string) error
}

// PipDownloader runs "pip download --no-deps".
type PipDownloader struct {
	// Python is the interpreter used as "python -m pip"; empty means "python3".
	Python string
	Runner command.Runner
	// IndexURL optionally overrides pip's index for the download.
	IndexURL string
}

// Download implements Downloader.
func (d PipDownloader) Download(ctx context.Context, requirement, dest string) error {
	python := d.Python
	if python == "" {
		python = "python3"
	}

	runner := d.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	args := []string{"-m", "pip", "download", "--no-deps", "--disable-pip-version-check", "-d", dest}
	if d.IndexURL != "" {
		args = append(args, "--index-url", d.IndexURL)
	}

	args = append(args, requirement)

	if _, err := runner.Run(ctx, command.Cmd{Name: python, Args: args}); err != nil {
		return fmt.Errorf("pip download %s: %w", requirement, err)
	}

	return nil
}

// Seed downloads each requirement and files the result under
// dir/<normalized project>/, the layout LoadIndex reads. It is an offline
// preparation step and never runs while a Session is serving dir.
func Seed(ctx context.Context, dir string, requirements []string, dl Downloader, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create seed dir: %w", err)
	}

	for _, req := range requirements {
		if err := seedOne(ctx, dir, req, dl, logger); err != nil {
			return err
		}
	}

	return nil
}

func seedOne(ctx context.Context, dir, req string, dl Downloader, logger *slog.Logger) error {
	tmp, err := os.MkdirTemp(dir, ".download-")
	if err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if dlErr := dl.Download(ctx, req, tmp); dlErr != nil {
		return dlErr
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return fmt.Errorf("read download dir: %w", err)
	}

	moved := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		project, nameErr := ProjectFromFilename(entry.Name())
		if nameErr != nil {
			logger.WarnContext(ctx, "ignoring downloaded file", "requirement", req, "file", entry.Name())

			continue
		}

		projectDir := filepath.Join(dir, NormalizeName(project))
		if mkErr := os.MkdirAll(projectDir, 0o755); mkErr != nil {
			return fmt.Errorf("create project dir: %w", mkErr)
		}

		target := filepath.Join(projectDir, entry.Name())
		if mvErr := os.Rename(filepath.Join(tmp, entry.Name()), target); mvErr != nil {
			return fmt.Errorf("move %s: %w", entry.Name(), mvErr)
		}

		logger.InfoContext(ctx, "seeded artifact", "requirement", req, "path", target)

		moved++
	}

	if moved == 0 {
		return fmt.Errorf("%w: %s", ErrNothingDownloaded, req)
	}

	return nil
}
