package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/checkpoint"
	"github.com/Sumatoshi-tech/benchfill/pkg/command"
	"github.com/Sumatoshi-tech/benchfill/pkg/config"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
	"github.com/Sumatoshi-tech/benchfill/pkg/pypi"
	"github.com/Sumatoshi-tech/benchfill/pkg/report"
	"github.com/Sumatoshi-tech/benchfill/pkg/sink"
)

const outputPerm = 0o644

// runDeps builds the collaborators that touch Python. Tests replace them.
type runDeps struct {
	installer func(cfg *config.Config, logger *slog.Logger) environment.Installer
	harness   func(cfg *config.Config, indexURL string, logger *slog.Logger) harness.Harness
}

func defaultRunDeps() runDeps {
	return runDeps{
		installer: func(cfg *config.Config, logger *slog.Logger) environment.Installer {
			return &environment.PipInstaller{Python: cfg.Run.Python, Runner: command.ExecRunner{}, Logger: logger}
		},
		harness: func(cfg *config.Config, indexURL string, logger *slog.Logger) harness.Harness {
			return &harness.Pytest{
				BenchDir: cfg.Repository.BenchmarkDir,
				IndexURL: indexURL,
				Runner:   command.ExecRunner{},
				Logger:   logger,
			}
		},
	}
}

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	from        string
	to          string
	repo        string
	branch      string
	subset      string
	benchDir    string
	manifest    string
	group       string
	seedDir     string
	indexAddr   string
	indexURL    string
	extraIndex  []string
	workDir     string
	journalDir  string
	format      string
	output      string
	sqlitePath  string
	files       []string
	influx      config.InfluxConfig
	metricsAddr string
	resume      bool
	firstParent bool
	offline     bool

	deps runDeps
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(defaultRunDeps())
}

func newRunCommandWithDeps(deps runDeps) *cobra.Command {
	rc := &RunCommand{deps: deps}

	cmd := &cobra.Command{
		Use:   "run --from REV --to REV",
		Short: "Benchmark every revision in a commit range",
		Long: `Resolve the range once, freeze the benchmark suite and its dependency group
from --branch, then build an isolated environment per revision, overlay the
suite, install, and measure. Revisions that fail to build are recorded and the
run moves on. The exit status is 2 when any revision failed.

With --seed-dir the seed index is primary and, unless --offline is given or
--extra-index-url names other indexes, ` + config.DefaultPublicIndex + `
serves runtime requirements that were never seeded.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&rc.from, "from", "", "First revision of the range (inclusive)")
	flags.StringVar(&rc.to, "to", "", "Last revision of the range (inclusive)")
	flags.StringVar(&rc.repo, "repo", config.DefaultRepositoryPath, "Repository path")
	flags.StringVar(&rc.branch, "branch", config.DefaultBranch, "Branch the benchmark suite is taken from")
	flags.StringVar(&rc.subset, "subset", config.DefaultSubset, "Benchmark subset: fast, full")
	flags.StringVar(&rc.benchDir, "benchmark-dir", config.DefaultBenchmarkDir, "Benchmark directory inside the repository")
	flags.StringVar(&rc.manifest, "manifest", config.DefaultManifest, "Manifest path inside the repository")
	flags.StringVar(&rc.group, "group", config.DefaultGroup, "Dependency group with benchmark tooling")
	flags.StringVar(&rc.seedDir, "seed-dir", "", "Serve this directory as a package index for the run")
	flags.StringVar(&rc.indexAddr, "index-addr", config.DefaultIndexAddr, "Listen address of the run's package index")
	flags.StringVar(&rc.indexURL, "index-url", "", "Primary package index (ignored with --seed-dir)")
	flags.StringSliceVar(&rc.extraIndex, "extra-index-url", nil,
		"Additional package indexes (default with --seed-dir: "+config.DefaultPublicIndex+")")
	flags.BoolVar(&rc.offline, "offline", false, "With --seed-dir, resolve only against the seed index")
	flags.StringVar(&rc.workDir, "work-dir", "", "Scratch directory for environments (default: a temp dir)")
	flags.StringVar(&rc.journalDir, "journal-dir", "", "Run journal directory (default: ~/.benchfill/journals)")
	flags.StringVar(&rc.format, "format", config.DefaultFormat, "Report format: json, yaml, text, plot")
	flags.StringVarP(&rc.output, "output", "o", "", "Write the report here instead of stdout")
	flags.StringVar(&rc.sqlitePath, "sqlite", "", "Also store results in this sqlite database")
	flags.StringSliceVar(&rc.files, "archive", nil, "Also save the report to these files (.json, .yaml, optionally .lz4)")
	flags.StringVar(&rc.influx.URL, "influx-url", "", "Also write results to this InfluxDB server")
	flags.StringVar(&rc.influx.Token, "influx-token", "", "InfluxDB token")
	flags.StringVar(&rc.influx.Org, "influx-org", "", "InfluxDB organization")
	flags.StringVar(&rc.influx.Bucket, "influx-bucket", "", "InfluxDB bucket")
	flags.StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.BoolVar(&rc.resume, "resume", false, "Skip revisions finished by an interrupted run")
	flags.BoolVar(&rc.firstParent, "first-parent", false, "Follow only first parents when walking the range")

	return cmd
}

// applyFlags overrides config values with every flag the user set.
func (rc *RunCommand) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, dst *string, val string) {
		if cmd.Flags().Changed(name) {
			*dst = val
		}
	}

	set("repo", &cfg.Repository.Path, rc.repo)
	set("branch", &cfg.Repository.Branch, rc.branch)
	set("benchmark-dir", &cfg.Repository.BenchmarkDir, rc.benchDir)
	set("manifest", &cfg.Repository.Manifest, rc.manifest)
	set("group", &cfg.Repository.Group, rc.group)
	set("subset", &cfg.Run.Subset, rc.subset)
	set("work-dir", &cfg.Run.WorkDir, rc.workDir)
	set("journal-dir", &cfg.Run.JournalDir, rc.journalDir)
	set("format", &cfg.Run.Format, rc.format)
	set("output", &cfg.Run.Output, rc.output)
	set("seed-dir", &cfg.Index.SeedDir, rc.seedDir)
	set("index-addr", &cfg.Index.Addr, rc.indexAddr)
	set("index-url", &cfg.Index.URL, rc.indexURL)
	set("sqlite", &cfg.Sinks.SQLite, rc.sqlitePath)
	set("influx-url", &cfg.Sinks.Influx.URL, rc.influx.URL)
	set("influx-token", &cfg.Sinks.Influx.Token, rc.influx.Token)
	set("influx-org", &cfg.Sinks.Influx.Org, rc.influx.Org)
	set("influx-bucket", &cfg.Sinks.Influx.Bucket, rc.influx.Bucket)
	set("metrics-addr", &cfg.Telemetry.MetricsAddr, rc.metricsAddr)

	if cmd.Flags().Changed("extra-index-url") {
		cfg.Index.ExtraURLs = rc.extraIndex
	}

	if cmd.Flags().Changed("archive") {
		cfg.Sinks.Files = rc.files
	}

	if cmd.Flags().Changed("offline") {
		cfg.Index.Offline = rc.offline
	}

	if cmd.Flags().Changed("first-parent") {
		cfg.Run.FirstParent = rc.firstParent
	}
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rc.applyFlags(cmd, cfg)

	format, err := report.ParseFormat(cfg.Run.Format)
	if err != nil {
		return err
	}

	subset, err := harness.ParseSubset(cfg.Run.Subset)
	if err != nil {
		return err
	}

	providers, err := initObservability(cfg, observability.ModeRun)
	if err != nil {
		return err
	}
	defer shutdownObservability(providers)

	ctx := cmd.Context()
	logger := providers.Logger

	stopMetrics, err := serveMetrics(ctx, cfg.Telemetry.MetricsAddr, providers.MetricsHandler, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	indexURL, closeIndex, err := startRunIndex(ctx, cfg, providers)
	if err != nil {
		return err
	}
	defer closeIndex()

	workDir, cleanupWork, err := resolveWorkDir(cfg.Run.WorkDir)
	if err != nil {
		return err
	}
	defer cleanupWork()

	sinks, closeSinks, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	revMetrics, err := observability.NewRevisionMetrics(providers.Meter)
	if err != nil {
		return err
	}

	opts := backfill.DefaultOptions()
	opts.RepoPath = cfg.Repository.Path
	opts.From = rc.from
	opts.To = rc.to
	opts.Branch = cfg.Repository.Branch
	opts.Subset = subset
	opts.BenchmarkDir = cfg.Repository.BenchmarkDir
	opts.ManifestPath = cfg.Repository.Manifest
	opts.Group = cfg.Repository.Group
	opts.WorkDir = workDir
	opts.IndexURL = indexURL
	opts.ExtraIndexURLs = cfg.Index.ExtraIndexes()
	opts.FirstParent = cfg.Run.FirstParent
	opts.Resume = rc.resume
	opts.JournalDir = cfg.Run.JournalDir

	if opts.JournalDir == "" {
		opts.JournalDir = checkpoint.DefaultDir()
	}

	orch, err := backfill.New(backfill.Config{
		Options:   opts,
		Installer: rc.deps.installer(cfg, logger),
		Harness:   rc.deps.harness(cfg, indexURL, logger),
		Sinks:     sinks,
		Logger:    logger,
		Tracer:    providers.Tracer,
		Metrics:   revMetrics,
	})
	if err != nil {
		return err
	}

	rep, runErr := orch.Run(ctx)
	if rep == nil {
		return runErr
	}

	writeErr := writeReport(cmd.OutOrStdout(), cfg.Run.Output, rep, format)

	// Interrupted runs are partial; their failures do not decide the exit code.
	if runErr != nil && !errors.Is(runErr, backfill.ErrSink) {
		return errors.Join(runErr, writeErr)
	}

	return errors.Join(runErr, writeErr, revisionFailures(ctx, rep, logger))
}

// revisionFailures logs every revision that never became ready and returns
// ErrEnvironmentFailures when any revision failed to build or execute.
func revisionFailures(ctx context.Context, rep *backfill.Report, logger *slog.Logger) error {
	for _, rev := range rep.EnvironmentFailures() {
		logger.WarnContext(ctx, "revision did not build",
			"revision", rev.Revision,
			"failed_state", string(rev.FailedState),
			"reason", rev.Reason,
		)
	}

	if !rep.HasFailures() {
		return nil
	}

	return fmt.Errorf("%w: %d environment, %d execution",
		backfill.ErrEnvironmentFailures, rep.Summary.EnvironmentFailed, rep.Summary.ExecutionFailed)
}

// startRunIndex serves the seed directory for the duration of the run. Without
// a seed directory the configured index URL is used as is.
func startRunIndex(
	ctx context.Context, cfg *config.Config, providers observability.Providers,
) (url string, closeFn func(), err error) {
	if cfg.Index.SeedDir == "" {
		return cfg.Index.URL, func() {}, nil
	}

	sess, err := startSession(ctx, cfg.Index.SeedDir, cfg.Index.Addr, providers)
	if err != nil {
		return "", nil, err
	}

	return sess.URL(), func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if closeErr := sess.Close(shutdownCtx); closeErr != nil {
			providers.Logger.Warn("index shutdown failed", "error", closeErr)
		}
	}, nil
}

func startSession(
	ctx context.Context, seedDir, addr string, providers observability.Providers,
) (*pypi.Session, error) {
	idx, err := pypi.LoadIndex(ctx, seedDir, providers.Logger)
	if err != nil {
		return nil, err
	}

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return nil, err
	}

	return pypi.Start(ctx, idx, pypi.StartOptions{
		Addr: addr,
		Server: pypi.ServerOptions{
			Logger:         providers.Logger,
			Metrics:        red,
			TracerProvider: providers.TracerProvider,
		},
	})
}

func resolveWorkDir(dir string) (path string, cleanup func(), err error) {
	if dir != "" {
		return dir, func() {}, nil
	}

	tmp, err := os.MkdirTemp("", "benchfill-")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}

	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}

func openSinks(cfg *config.Config) (sinks []backfill.Sink, closeFn func(), err error) {
	var closers []func()

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, path := range cfg.Sinks.Files {
		sinks = append(sinks, &sink.File{Path: path})
	}

	if cfg.Sinks.SQLite != "" {
		db, openErr := sink.OpenSQLite(cfg.Sinks.SQLite)
		if openErr != nil {
			return nil, nil, openErr
		}

		sinks = append(sinks, db)
		closers = append(closers, func() { _ = db.Close() })
	}

	if cfg.Sinks.Influx.URL != "" {
		influx, influxErr := sink.NewInflux(sink.InfluxOptions{
			URL:    cfg.Sinks.Influx.URL,
			Token:  cfg.Sinks.Influx.Token,
			Org:    cfg.Sinks.Influx.Org,
			Bucket: cfg.Sinks.Influx.Bucket,
		})
		if influxErr != nil {
			closeAll()

			return nil, nil, influxErr
		}

		sinks = append(sinks, influx)
		closers = append(closers, influx.Close)
	}

	return sinks, closeAll, nil
}

func writeReport(stdout io.Writer, output string, rep *backfill.Report, format report.Format) error {
	if output == "" {
		return report.Render(stdout, rep, format)
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputPerm)
	if err != nil {
		return fmt.Errorf("open report output: %w", err)
	}

	renderErr := report.Render(f, rep, format)
	closeErr := f.Close()

	if renderErr != nil {
		return renderErr
	}

	if closeErr != nil {
		return fmt.Errorf("close report output: %w", closeErr)
	}

	return nil
}
