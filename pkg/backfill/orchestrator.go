// Package backfill drives a historical benchmark run: it resolves a commit
// range, freezes the current benchmark suite and its dependencies once, and
// builds and measures every revision in order.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/benchfill/pkg/checkpoint"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/manifest"
	"github.com/Sumatoshi-tech/benchfill/pkg/observability"
	"github.com/Sumatoshi-tech/benchfill/pkg/snapshot"
)

// Run-level errors. Each is fatal to the run.
var (
	ErrResolution  = errors.New("commit range resolution failed")
	ErrSnapshot    = errors.New("benchmark snapshot failed")
	ErrExtraction  = errors.New("benchmark dependency extraction failed")
	ErrJournal     = errors.New("run journal unusable")
	ErrInterrupted = errors.New("run interrupted")
	ErrSink        = errors.New("forwarding report failed")
	ErrMissingDep  = errors.New("orchestrator collaborator missing")
)

// ErrEnvironmentFailures signals a completed run in which some revisions
// failed to build or execute. Callers return it after the report is written.
var ErrEnvironmentFailures = errors.New("some revisions failed")

// Sink receives the finished report.
type Sink interface {
	Name() string
	Write(ctx context.Context, report *Report) error
}

// Config wires an Orchestrator.
type Config struct {
	Options   Options
	Installer environment.Installer
	Harness   harness.Harness
	Sinks     []Sink
	Logger    *slog.Logger
	Tracer    trace.Tracer
	// Metrics is optional.
	Metrics *observability.RevisionMetrics
}

// Orchestrator runs one backfill. It is not reusable across runs.
type Orchestrator struct {
	opts      Options
	installer environment.Installer
	harness   harness.Harness
	sinks     []Sink
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *observability.RevisionMetrics
}

// New validates cfg.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}

	if cfg.Installer == nil {
		return nil, fmt.Errorf("%w: installer", ErrMissingDep)
	}

	if cfg.Harness == nil {
		return nil, fmt.Errorf("%w: harness", ErrMissingDep)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("benchfill")
	}

	return &Orchestrator{
		opts:      cfg.Options,
		installer: cfg.Installer,
		harness:   cfg.Harness,
		sinks:     cfg.Sinks,
		logger:    logger,
		tracer:    tracer,
		metrics:   cfg.Metrics,
	}, nil
}

// runInputs is everything computed once before the first revision.
type runInputs struct {
	repo      *gitlib.Repository
	revisions []gitlib.Revision
	snap      *snapshot.Snapshot
	deps      environment.Dependencies
}

// Run processes the whole range. Cancelling ctx stops the run between
// revisions; the revision in progress always finishes. The returned report is
// non-nil whenever the range was resolved, even alongside an error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	ctx, span := o.tracer.Start(ctx, "backfill.run", trace.WithAttributes(
		attribute.String("backfill.from", o.opts.From),
		attribute.String("backfill.to", o.opts.To),
		attribute.String("backfill.subset", string(o.opts.Subset)),
	))
	defer span.End()

	in, err := o.prepare()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")

		return nil, err
	}
	defer in.repo.Free()

	report := &Report{
		RunID:                 uuid.NewString(),
		Repository:            o.opts.RepoPath,
		From:                  in.revisions[0].Hash.String(),
		To:                    in.revisions[len(in.revisions)-1].Hash.String(),
		Branch:                o.opts.Branch,
		Subset:                o.opts.Subset,
		SnapshotCommit:        in.snap.Commit.String(),
		SnapshotDigest:        in.snap.Digest,
		BenchmarkRequirements: in.deps.Benchmark,
		CreatedAt:             time.Now().UTC(),
	}

	journal, done, err := o.openJournal(report, in)
	if err != nil {
		return nil, err
	}

	builder, err := environment.NewBuilder(environment.BuilderConfig{
		Repo:           in.repo,
		Root:           o.opts.WorkDir,
		Snapshot:       in.snap,
		Dependencies:   in.deps,
		Installer:      o.installer,
		ManifestPath:   o.opts.ManifestPath,
		IndexURL:       o.opts.IndexURL,
		ExtraIndexURLs: o.opts.ExtraIndexURLs,
		Logger:         o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create environment builder: %w", err)
	}

	o.logger.InfoContext(ctx, "backfill started",
		"run_id", report.RunID,
		"revisions", len(in.revisions),
		"resumed", len(done),
		"snapshot", in.snap.Commit.Short(),
		"benchmark_requirements", len(in.deps.Benchmark),
	)

	interrupted := false

	for _, rev := range in.revisions {
		if prev, ok := done[rev.Hash.String()]; ok {
			report.Revisions = append(report.Revisions, prev)

			continue
		}

		if interrupted || ctx.Err() != nil {
			interrupted = true

			report.Revisions = append(report.Revisions, skippedRevision(rev, in.snap.Digest))

			continue
		}

		rr := o.processRevision(context.WithoutCancel(ctx), builder, rev, in.snap)
		report.Revisions = append(report.Revisions, rr)

		if journal != nil {
			o.saveJournal(ctx, journal, rr)
		}
	}

	report.Summarize()

	o.logger.InfoContext(ctx, "backfill finished",
		"run_id", report.RunID,
		"succeeded", report.Summary.Succeeded,
		"environment_failed", report.Summary.EnvironmentFailed,
		"execution_failed", report.Summary.ExecutionFailed,
		"skipped", report.Summary.Skipped,
	)

	if interrupted {
		span.SetStatus(codes.Error, "interrupted")

		return report, fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}

	if journal != nil {
		if clearErr := journal.manager.Clear(); clearErr != nil {
			o.logger.WarnContext(ctx, "could not clear run journal", "err", clearErr)
		}
	}

	return report, o.forward(context.WithoutCancel(ctx), report)
}

func (o *Orchestrator) prepare() (*runInputs, error) {
	repo, err := gitlib.OpenRepository(o.opts.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	revisions, err := repo.ResolveRange(o.opts.From, o.opts.To, gitlib.RangeOptions{FirstParent: o.opts.FirstParent})
	if err != nil {
		repo.Free()

		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	snap, err := snapshot.Take(repo, o.opts.Branch, o.opts.BenchmarkDir, o.opts.ManifestPath)
	if err != nil {
		repo.Free()

		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	bench, err := manifest.Extract(snap.Manifest, o.opts.Group)
	if err != nil {
		repo.Free()

		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	return &runInputs{
		repo:      repo,
		revisions: revisions,
		snap:      snap,
		deps:      environment.NewDependencies(o.opts.Group, bench),
	}, nil
}

func skippedRevision(rev gitlib.Revision, digest string) RevisionReport {
	return RevisionReport{
		Revision:       rev.Hash.String(),
		Summary:        rev.Summary,
		Author:         rev.Author.Name,
		CommittedAt:    rev.CommittedAt,
		Status:         StatusSkipped,
		Reason:         ReasonInterrupted,
		SnapshotDigest: digest,
	}
}

// processRevision builds, measures and disposes one environment. Failures are
// recorded in the returned report, never propagated.
func (o *Orchestrator) processRevision(
	ctx context.Context, builder *environment.Builder, rev gitlib.Revision, snap *snapshot.Snapshot,
) RevisionReport {
	ctx, span := o.tracer.Start(ctx, "backfill.revision", trace.WithAttributes(
		attribute.String("revision", rev.Hash.String()),
	))
	defer span.End()

	ctx = observability.WithRevision(ctx, rev.Hash.Short())
	start := time.Now()

	env := builder.Build(ctx, rev)

	defer func() {
		if err := env.Dispose(); err != nil {
			o.logger.WarnContext(ctx, "environment cleanup failed", "err", err)
		}
	}()

	rr := RevisionReport{
		Revision:            rev.Hash.String(),
		Summary:             rev.Summary,
		Author:              rev.Author.Name,
		CommittedAt:         rev.CommittedAt,
		SnapshotDigest:      snap.Digest,
		Overlay:             env.Overlay,
		RuntimeRequirements: env.Runtime,
		Transitions:         env.Transitions,
	}

	switch {
	case !env.Ready():
		rr.Status = StatusEnvironmentFailed
		rr.FailedState = env.FailedState
		rr.Reason = env.Err.Error()
	default:
		results, err := o.harness.Run(ctx, env, o.opts.Subset)
		if err != nil {
			rr.Status = StatusExecutionFailed
			rr.Reason = err.Error()

			break
		}

		rr.Status = StatusSucceeded
		rr.Results = results
	}

	elapsed := time.Since(start)
	rr.DurationSeconds = elapsed.Seconds()

	span.SetAttributes(attribute.String("status", string(rr.Status)))

	if rr.Failed() {
		span.SetStatus(codes.Error, rr.Reason)
		o.logger.WarnContext(ctx, "revision failed",
			"status", string(rr.Status),
			"reason", rr.Reason,
		)
	} else {
		o.logger.InfoContext(ctx, "revision measured",
			"results", len(rr.Results),
			"duration", elapsed.Round(time.Millisecond),
		)
	}

	if o.metrics != nil {
		o.metrics.RecordRevision(ctx, string(rr.Status), elapsed)
	}

	return rr
}

func (o *Orchestrator) forward(ctx context.Context, report *Report) error {
	var errs []error

	for _, sink := range o.sinks {
		if err := sink.Write(ctx, report); err != nil {
			o.logger.WarnContext(ctx, "sink failed", "sink", sink.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))

			continue
		}

		o.logger.InfoContext(ctx, "report forwarded", "sink", sink.Name())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSink, errors.Join(errs...))
	}

	return nil
}

type runJournal struct {
	manager *checkpoint.Manager
	state   checkpoint.Journal[RevisionReport]
}

func (o *Orchestrator) journalKey(report *Report, in *runInputs) checkpoint.Key {
	return checkpoint.Key{
		From:             report.From,
		To:               report.To,
		Branch:           o.opts.Branch,
		Subset:           string(o.opts.Subset),
		FirstParent:      o.opts.FirstParent,
		SnapshotDigest:   in.snap.Digest,
		DependencyDigest: in.deps.Digest,
	}
}

// openJournal returns a nil journal when journaling is off. When resuming, the
// finished revisions are returned keyed by hash.
func (o *Orchestrator) openJournal(report *Report, in *runInputs) (*runJournal, map[string]RevisionReport, error) {
	if o.opts.JournalDir == "" {
		return nil, nil, nil
	}

	manager := checkpoint.NewManager(o.opts.JournalDir, o.opts.RepoPath)
	key := o.journalKey(report, in)

	journal := &runJournal{
		manager: manager,
		state: checkpoint.Journal[RevisionReport]{
			Metadata: checkpoint.Metadata{RunID: report.RunID, Key: key, TotalRevisions: len(in.revisions)},
		},
	}

	done := map[string]RevisionReport{}

	if !o.opts.Resume {
		return journal, done, nil
	}

	prev, err := checkpoint.Load[RevisionReport](manager, key)
	if errors.Is(err, checkpoint.ErrNoJournal) {
		return journal, done, nil
	}

	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrJournal, err)
	}

	journal.state = *prev
	report.RunID = prev.Metadata.RunID

	for _, rr := range prev.Completed {
		done[rr.Revision] = rr
	}

	return journal, done, nil
}

func (o *Orchestrator) saveJournal(ctx context.Context, journal *runJournal, rr RevisionReport) {
	journal.state.Completed = append(journal.state.Completed, rr)

	if err := checkpoint.Save(journal.manager, journal.state); err != nil {
		o.logger.WarnContext(ctx, "could not save run journal", "err", err)
	}
}
