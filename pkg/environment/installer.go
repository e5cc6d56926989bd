package environment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
)

// InstallRequest is everything an installer needs for one revision.
type InstallRequest struct {
	// Runtime holds the revision's own declared dependencies.
	Runtime []string
	// Benchmark holds the reconciled benchmark dependencies.
	Benchmark []string
	// ProjectDir is the checked out source tree installed last, without deps.
	ProjectDir string
	VenvDir    string
	// IndexURL is the primary index, normally the local seed index.
	IndexURL       string
	ExtraIndexURLs []string
}

// Installer populates VenvDir.
type Installer interface {
	Install(ctx context.Context, req InstallRequest) error
}

// PipInstaller installs with a fresh virtualenv and pip.
type PipInstaller struct {
	// Python creates the virtualenv; empty means "python3".
	Python string
	Runner command.Runner
	Logger *slog.Logger
}

// Install creates the venv, installs runtime and benchmark requirements in one
// resolver pass, then installs the project itself with --no-deps.
func (p *PipInstaller) Install(ctx context.Context, req InstallRequest) error {
	python := p.Python
	if python == "" {
		python = "python3"
	}

	runner := p.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := runner.Run(ctx, command.Cmd{Name: python, Args: []string{"-m", "venv", req.VenvDir}}); err != nil {
		return fmt.Errorf("create venv: %w", err)
	}

	venvPython := VenvPython(req.VenvDir)
	base := []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input"}

	if req.IndexURL != "" {
		base = append(base, "--index-url", req.IndexURL)
	}

	for _, extra := range req.ExtraIndexURLs {
		base = append(base, "--extra-index-url", extra)
	}

	reqs := make([]string, 0, len(req.Runtime)+len(req.Benchmark))
	reqs = append(reqs, req.Runtime...)
	reqs = append(reqs, req.Benchmark...)

	if len(reqs) > 0 {
		logger.DebugContext(ctx, "installing requirements", "count", len(reqs))

		args := append(append([]string{}, base...), reqs...)
		if _, err := runner.Run(ctx, command.Cmd{Name: venvPython, Args: args}); err != nil {
			return fmt.Errorf("install requirements: %w", err)
		}
	}

	args := append(append([]string{}, base...), "--no-deps", req.ProjectDir)
	if _, err := runner.Run(ctx, command.Cmd{Name: venvPython, Args: args}); err != nil {
		return fmt.Errorf("install project: %w", err)
	}

	return nil
}

// VenvPython returns the interpreter path inside a virtualenv.
func VenvPython(venvDir string) string {
	return filepath.Join(venvDir, "bin", "python")
}
