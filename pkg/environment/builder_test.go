package environment_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib/gittest"
	"github.com/Sumatoshi-tech/benchfill/pkg/snapshot"
)

type fakeInstaller struct {
	mu       sync.Mutex
	requests []environment.InstallRequest
	err      error
}

func (f *fakeInstaller) Install(_ context.Context, req environment.InstallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	return f.err
}

type fixture struct {
	repo    *gitlib.Repository
	good    gitlib.Hash
	broken  gitlib.Hash
	noBench gitlib.Hash
	snap    *snapshot.Snapshot
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	tr := gittest.NewRepo(t)
	tr.WriteFile("pyproject.toml", "[project]\nname = \"tool\"\ndependencies = [\"requests>=2\"]\n")
	tr.WriteFile("src/tool.py", "x = 1\n")
	tr.WriteFile("benchmarks/test_old.py", "old\n")
	good := tr.Commit("good")

	tr.WriteFile("pyproject.toml", "[project\n")
	broken := tr.Commit("broken manifest")

	tr.WriteFile("pyproject.toml", "[project]\nname = \"tool\"\ndependencies = [\"requests>=2\", \"packaging\"]\n")
	tr.RemoveAll("benchmarks")
	noBench := tr.Commit("drop benchmarks")

	snap := snapshot.New("main", noBench, "benchmarks",
		[]snapshot.File{{Path: "test_new.py", Content: []byte("new\n")}}, []byte("[dependency-groups]\n"))

	return fixture{repo: tr.Open(), good: good, broken: broken, noBench: noBench, snap: snap}
}

func newBuilder(t *testing.T, fx fixture, inst environment.Installer) *environment.Builder {
	t.Helper()

	b, err := environment.NewBuilder(environment.BuilderConfig{
		Repo:           fx.repo,
		Root:           t.TempDir(),
		Snapshot:       fx.snap,
		Dependencies:   environment.NewDependencies("benchmark", []string{"pytest-benchmark>=4"}),
		Installer:      inst,
		IndexURL:       "http://127.0.0.1:1/",
		ExtraIndexURLs: []string{"https://pypi.org/simple"},
	})
	require.NoError(t, err)

	return b
}

func states(env *environment.Environment) []environment.State {
	out := make([]environment.State, 0, len(env.Transitions))
	for _, tr := range env.Transitions {
		out = append(out, tr.State)
	}

	return out
}

func TestBuild_Ready(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	inst := &fakeInstaller{}
	b := newBuilder(t, fx, inst)

	env := b.Build(context.Background(), gitlib.Revision{Hash: fx.good})
	require.True(t, env.Ready(), "err: %v", env.Err)

	assert.Equal(t, []environment.State{
		environment.StateCheckout, environment.StateOverlay, environment.StateInstall, environment.StateReady,
	}, states(env))
	assert.Equal(t, []string{"requests>=2"}, env.Runtime)
	assert.Equal(t, 1, env.Overlay.Added)
	assert.Equal(t, 1, env.Overlay.Removed)

	assert.FileExists(t, filepath.Join(env.SourceDir, "benchmarks", "test_new.py"))
	assert.NoFileExists(t, filepath.Join(env.SourceDir, "benchmarks", "test_old.py"))
	assert.FileExists(t, filepath.Join(env.SourceDir, "src", "tool.py"))

	require.Len(t, inst.requests, 1)
	req := inst.requests[0]
	assert.Equal(t, []string{"requests>=2"}, req.Runtime)
	assert.Equal(t, []string{"pytest-benchmark>=4"}, req.Benchmark)
	assert.Equal(t, env.SourceDir, req.ProjectDir)
	assert.Equal(t, env.VenvDir, req.VenvDir)
	assert.Equal(t, "http://127.0.0.1:1/", req.IndexURL)

	require.NoError(t, env.Dispose())
	assert.NoDirExists(t, env.Root)
	require.NoError(t, env.Dispose())
}

func TestBuild_InstallFailsOnBrokenManifest(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	inst := &fakeInstaller{}
	b := newBuilder(t, fx, inst)

	env := b.Build(context.Background(), gitlib.Revision{Hash: fx.broken})
	t.Cleanup(func() { _ = env.Dispose() })

	assert.Equal(t, environment.StateFailed, env.State)
	assert.Equal(t, environment.StateInstall, env.FailedState)

	var stateErr *environment.StateError
	require.True(t, errors.As(env.Err, &stateErr))
	assert.Equal(t, environment.StateInstall, stateErr.State)
	assert.Empty(t, inst.requests)
}

func TestBuild_CheckoutFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	b := newBuilder(t, fx, &fakeInstaller{})

	missing, err := gitlib.ParseHash("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	env := b.Build(context.Background(), gitlib.Revision{Hash: missing})
	t.Cleanup(func() { _ = env.Dispose() })

	assert.Equal(t, environment.StateFailed, env.State)
	assert.Equal(t, environment.StateCheckout, env.FailedState)
	assert.Equal(t, []environment.State{environment.StateCheckout, environment.StateFailed}, states(env))
}

func TestBuild_InstallerError(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	boom := errors.New("resolution impossible")
	b := newBuilder(t, fx, &fakeInstaller{err: boom})

	env := b.Build(context.Background(), gitlib.Revision{Hash: fx.noBench})
	t.Cleanup(func() { _ = env.Dispose() })

	assert.Equal(t, environment.StateInstall, env.FailedState)
	require.ErrorIs(t, env.Err, boom)
	assert.Equal(t, []string{"requests>=2", "packaging"}, env.Runtime)
}

func TestBuild_StaleArtifactsRemoved(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	b := newBuilder(t, fx, &fakeInstaller{})

	first := b.Build(context.Background(), gitlib.Revision{Hash: fx.good})
	require.True(t, first.Ready())
	require.NoError(t, first.Dispose())

	// Leftovers of an interrupted earlier process.
	require.NoError(t, os.MkdirAll(first.SourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(first.SourceDir, "stale.so"), []byte("x"), 0o600))

	second := b.Build(context.Background(), gitlib.Revision{Hash: fx.noBench})
	t.Cleanup(func() { _ = second.Dispose() })

	require.True(t, second.Ready())
	assert.NoFileExists(t, filepath.Join(second.SourceDir, "stale.so"))
}

func TestBuild_SerializesOnRoot(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	b := newBuilder(t, fx, &fakeInstaller{})

	first := b.Build(context.Background(), gitlib.Revision{Hash: fx.good})

	done := make(chan *environment.Environment)

	go func() {
		done <- b.Build(context.Background(), gitlib.Revision{Hash: fx.noBench})
	}()

	select {
	case <-done:
		t.Fatal("second build started before the first environment was disposed")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Dispose())

	second := <-done
	require.True(t, second.Ready())
	require.NoError(t, second.Dispose())
}

func TestNewBuilder_Validation(t *testing.T) {
	t.Parallel()

	_, err := environment.NewBuilder(environment.BuilderConfig{})
	require.ErrorIs(t, err, environment.ErrNoRoot)

	_, err = environment.NewBuilder(environment.BuilderConfig{Root: t.TempDir()})
	require.ErrorIs(t, err, environment.ErrMissingInput)
}

func TestNewDependencies(t *testing.T) {
	t.Parallel()

	src := []string{"pytest-benchmark>=4", "requests"}
	deps := environment.NewDependencies("benchmark", src)
	src[0] = "mutated"

	assert.Equal(t, []string{"pytest-benchmark>=4", "requests"}, deps.Benchmark)
	assert.Len(t, deps.Digest, 64)
	assert.Equal(t, deps.Digest, environment.NewDependencies("benchmark", []string{"pytest-benchmark>=4", "requests"}).Digest)
	assert.NotEqual(t, deps.Digest, environment.NewDependencies("bench", []string{"pytest-benchmark>=4", "requests"}).Digest)
}
