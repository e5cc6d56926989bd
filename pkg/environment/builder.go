package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchfill/pkg/manifest"
	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
	"github.com/Sumatoshi-tech/benchfill/pkg/snapshot"
)

// Configuration errors returned by NewBuilder.
var (
	ErrNoRoot       = errors.New("environment root is required")
	ErrMissingInput = errors.New("builder input missing")
)

const (
	sourceDirName = "src"
	venvDirName   = "venv"
)

// Transition is one state change with the time it happened.
type Transition struct {
	State State     `json:"state" yaml:"state"`
	At    time.Time `json:"at"    yaml:"at"`
}

// Environment is the result of one build. It owns Root until Dispose.
type Environment struct {
	Revision  gitlib.Revision
	Root      string
	SourceDir string
	VenvDir   string

	State       State
	FailedState State
	Err         error

	Overlay snapshot.OverlayStats
	// Runtime is the revision's own dependency list read from its manifest.
	Runtime     []string
	Transitions []Transition

	release func()
	once    sync.Once
}

// Ready reports whether the build reached StateReady.
func (e *Environment) Ready() bool { return e.State == StateReady }

// Dispose removes Root and frees the builder for the next revision.
func (e *Environment) Dispose() error {
	var err error

	e.once.Do(func() {
		if rmErr := os.RemoveAll(e.Root); rmErr != nil {
			err = fmt.Errorf("dispose environment: %w", rmErr)
		}

		if e.release != nil {
			e.release()
		}
	})

	return err
}

// BuilderConfig wires a Builder.
type BuilderConfig struct {
	Repo *gitlib.Repository
	// Root is the working directory reused by every build. It is wiped
	// before each checkout.
	Root           string
	Snapshot       *snapshot.Snapshot
	Dependencies   Dependencies
	Installer      Installer
	ManifestPath   string
	IndexURL       string
	ExtraIndexURLs []string
	Logger         *slog.Logger
}

// Builder runs the checkout, overlay, install state machine. Only one
// environment per builder exists at a time: Build blocks until the previous
// Environment is disposed.
type Builder struct {
	cfg    BuilderConfig
	logger *slog.Logger
	mu     sync.Mutex
}

// NewBuilder validates cfg.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Root == "" {
		return nil, ErrNoRoot
	}

	switch {
	case cfg.Repo == nil:
		return nil, fmt.Errorf("%w: repository", ErrMissingInput)
	case cfg.Snapshot == nil:
		return nil, fmt.Errorf("%w: benchmark snapshot", ErrMissingInput)
	case cfg.Installer == nil:
		return nil, fmt.Errorf("%w: installer", ErrMissingInput)
	}

	if cfg.ManifestPath == "" {
		cfg.ManifestPath = "pyproject.toml"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{cfg: cfg, logger: logger}, nil
}

// Build produces the environment for rev. It never returns an error: a failed
// build is an Environment in StateFailed with FailedState and Err set.
func (b *Builder) Build(ctx context.Context, rev gitlib.Revision) *Environment {
	b.mu.Lock()

	ctx = observability.WithRevision(ctx, rev.Hash.Short())

	root := filepath.Join(b.cfg.Root, "env")
	env := &Environment{
		Revision:  rev,
		Root:      root,
		SourceDir: filepath.Join(root, sourceDirName),
		VenvDir:   filepath.Join(root, venvDirName),
		release:   b.mu.Unlock,
	}

	steps := []struct {
		state State
		run   func(context.Context, *Environment) error
	}{
		{StateCheckout, b.checkout},
		{StateOverlay, b.overlay},
		{StateInstall, b.install},
	}

	for _, step := range steps {
		b.enter(ctx, env, step.state)

		if err := step.run(ctx, env); err != nil {
			b.fail(ctx, env, step.state, err)

			return env
		}
	}

	b.enter(ctx, env, StateReady)

	return env
}

func (b *Builder) enter(ctx context.Context, env *Environment, state State) {
	env.State = state
	env.Transitions = append(env.Transitions, Transition{State: state, At: time.Now()})

	b.logger.InfoContext(ctx, "environment transition",
		"state", string(state),
	)
}

func (b *Builder) fail(ctx context.Context, env *Environment, state State, err error) {
	env.FailedState = state
	env.Err = &StateError{State: state, Err: err}
	env.State = StateFailed
	env.Transitions = append(env.Transitions, Transition{State: StateFailed, At: time.Now()})

	b.logger.WarnContext(ctx, "environment transition",
		"state", string(StateFailed),
		"failed_state", string(state),
		"err", err,
	)
}

func (b *Builder) checkout(_ context.Context, env *Environment) error {
	if err := os.RemoveAll(env.Root); err != nil {
		return fmt.Errorf("clear stale root: %w", err)
	}

	return b.cfg.Repo.CheckoutTo(env.Revision.Hash, env.SourceDir)
}

func (b *Builder) overlay(_ context.Context, env *Environment) error {
	stats, err := b.cfg.Snapshot.Overlay(env.SourceDir)
	if err != nil {
		return err
	}

	env.Overlay = stats

	return nil
}

func (b *Builder) install(ctx context.Context, env *Environment) error {
	data, err := os.ReadFile(filepath.Join(env.SourceDir, filepath.FromSlash(b.cfg.ManifestPath)))
	if err != nil {
		return fmt.Errorf("read revision manifest: %w", err)
	}

	mf, err := manifest.Parse(data)
	if err != nil {
		return err
	}

	env.Runtime = mf.RuntimeDependencies()

	return b.cfg.Installer.Install(ctx, InstallRequest{
		Runtime:        env.Runtime,
		Benchmark:      b.cfg.Dependencies.Benchmark,
		ProjectDir:     env.SourceDir,
		VenvDir:        env.VenvDir,
		IndexURL:       b.cfg.IndexURL,
		ExtraIndexURLs: b.cfg.ExtraIndexURLs,
	})
}
