package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/config"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib/gittest"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/report"
	"github.com/Sumatoshi-tech/benchfill/pkg/sink"
)

const projectManifest = "[project]\nname = \"tool\"\ndependencies = [\"tool-dep\"]\n"

// listingInstaller fetches the index listing of every runtime requirement, so
// the test proves the run's index was reachable while installing.
type listingInstaller struct {
	mu       sync.Mutex
	urls     []string
	extras   [][]string
	listings []string
}

func (p *listingInstaller) Install(ctx context.Context, req environment.InstallRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.urls = append(p.urls, req.IndexURL)
	p.extras = append(p.extras, req.ExtraIndexURLs)

	for _, dep := range req.Runtime {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.IndexURL+dep+"/", http.NoBody)
		if err != nil {
			return err
		}

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			return err
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("index answered %d for %s", resp.StatusCode, dep)
		}

		p.listings = append(p.listings, string(body))
	}

	return nil
}

func testRunDeps(inst environment.Installer) runDeps {
	return runDeps{
		installer: func(*config.Config, *slog.Logger) environment.Installer { return inst },
		harness: func(*config.Config, string, *slog.Logger) harness.Harness {
			return &harness.FuncHarness{Rounds: 1, Cases: []harness.Case{
				{Name: "benchmarks.test_import", Fn: func(*environment.Environment) error { return nil }},
			}}
		},
	}
}

type history struct {
	path    string
	commits []gitlib.Hash
}

func newHistory(t *testing.T, breakMiddle bool) history {
	t.Helper()

	tr := gittest.NewRepo(t)

	tr.WriteFile("pyproject.toml", projectManifest)
	first := tr.Commit("initial")

	if breakMiddle {
		tr.WriteFile("pyproject.toml", "[project\n")
	} else {
		tr.WriteFile("README.md", "tool\n")
	}

	second := tr.Commit("second")

	tr.WriteFile("pyproject.toml", projectManifest)
	third := tr.Commit("third")

	tr.WriteFile("pyproject.toml", projectManifest+"\n[dependency-groups]\nbenchmark = [\"pytest-benchmark\"]\n")
	tr.WriteFile("benchmarks/test_import.py", "def test_import(benchmark): pass\n")
	tr.Branch("bench", tr.Commit("benchmarks"))

	return history{path: tr.Path, commits: []gitlib.Hash{first, second, third}}
}

func writeSeedDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tool-dep", "tool_dep-1.0-py3-none-any.whl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("wheel"), 0o644))

	return dir
}

func runArgs(t *testing.T, h history, extra ...string) []string {
	t.Helper()

	return append([]string{
		"--repo", h.path,
		"--from", h.commits[0].String(),
		"--to", h.commits[2].String(),
		"--branch", "bench",
		"--work-dir", t.TempDir(),
		"--journal-dir", t.TempDir(),
	}, extra...)
}

func TestRunCommand_ServesSeedIndexAndReportsFailures(t *testing.T) {
	t.Parallel()

	h := newHistory(t, true)
	inst := &listingInstaller{}
	out := filepath.Join(t.TempDir(), "report.json")
	db := filepath.Join(t.TempDir(), "results.db")

	_, err := execute(t, context.Background(), newRunCommandWithDeps(testRunDeps(inst)), runArgs(t, h,
		"--seed-dir", writeSeedDir(t),
		"--format", "json",
		"--output", out,
		"--sqlite", db,
	)...)
	require.ErrorIs(t, err, backfill.ErrEnvironmentFailures)

	rep, loadErr := report.Load(out)
	require.NoError(t, loadErr)
	require.Len(t, rep.Revisions, 3)
	assert.Equal(t, backfill.StatusSucceeded, rep.Revisions[0].Status)
	assert.Equal(t, backfill.StatusEnvironmentFailed, rep.Revisions[1].Status)
	assert.Equal(t, backfill.StatusSucceeded, rep.Revisions[2].Status)

	require.Len(t, inst.urls, 2)
	assert.True(t, strings.HasPrefix(inst.urls[0], "http://127.0.0.1:"))
	assert.Equal(t, []string{config.DefaultPublicIndex}, inst.extras[0])

	for _, listing := range inst.listings {
		assert.Contains(t, listing, "tool_dep-1.0-py3-none-any.whl")
	}

	store, openErr := sink.OpenSQLite(db)
	require.NoError(t, openErr)

	t.Cleanup(func() { _ = store.Close() })

	points, trendErr := store.Trend(context.Background(), "benchmarks.test_import")
	require.NoError(t, trendErr)
	assert.Len(t, points, 2)

	trend, renderErr := execute(t, context.Background(), NewRenderCommand(),
		"--trend", "benchmarks.test_import", "--sqlite", db)
	require.NoError(t, renderErr)
	assert.Contains(t, trend, h.commits[0].String()[:10])
	assert.Contains(t, trend, "benchmarks.test_import: 2 points")
}

func TestRunCommand_CleanRangeSucceeds(t *testing.T) {
	t.Parallel()

	h := newHistory(t, false)
	inst := &listingInstaller{}

	stdout, err := execute(t, context.Background(), newRunCommandWithDeps(testRunDeps(inst)), runArgs(t, h,
		"--seed-dir", writeSeedDir(t),
		"--format", "text",
		"--offline",
	)...)
	require.NoError(t, err)

	assert.Contains(t, stdout, "3 revisions")
	assert.Contains(t, stdout, "benchmarks.test_import")
	require.Len(t, inst.urls, 3)
	assert.Empty(t, inst.extras[0])
}

func TestRunCommand_SinkFailureKeepsRevisionExitCode(t *testing.T) {
	t.Parallel()

	h := newHistory(t, true)

	// A directory where the archive file should go makes the file sink fail.
	archive := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.MkdirAll(archive, 0o755))

	_, err := execute(t, context.Background(), newRunCommandWithDeps(testRunDeps(&listingInstaller{})), runArgs(t, h,
		"--seed-dir", writeSeedDir(t),
		"--format", "json",
		"--output", filepath.Join(t.TempDir(), "out.json"),
		"--archive", archive,
	)...)
	require.ErrorIs(t, err, backfill.ErrSink)
	require.ErrorIs(t, err, backfill.ErrEnvironmentFailures)
}

func TestRunCommand_RejectsBadFlags(t *testing.T) {
	t.Parallel()

	h := newHistory(t, false)

	_, err := execute(t, context.Background(), newRunCommandWithDeps(testRunDeps(&listingInstaller{})),
		runArgs(t, h, "--format", "csv")...)
	require.ErrorIs(t, err, report.ErrUnknownFormat)

	_, err = execute(t, context.Background(), newRunCommandWithDeps(testRunDeps(&listingInstaller{})),
		runArgs(t, h, "--subset", "some")...)
	require.ErrorIs(t, err, harness.ErrUnknownSubset)
}

func TestRunCommand_UnknownRevision(t *testing.T) {
	t.Parallel()

	h := newHistory(t, false)

	_, err := execute(t, context.Background(), newRunCommandWithDeps(testRunDeps(&listingInstaller{})),
		"--repo", h.path, "--from", "nope", "--to", h.commits[2].String(), "--branch", "bench",
		"--work-dir", t.TempDir(), "--journal-dir", t.TempDir())
	require.ErrorIs(t, err, backfill.ErrResolution)
}
