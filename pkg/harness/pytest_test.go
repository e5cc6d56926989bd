package harness_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
)

const junitDoc = `<?xml version="1.0" encoding="utf-8"?>
<testsuites>
  <testsuite name="pytest" tests="4">
    <testcase classname="benchmarks.test_resolution" name="test_graph_from_dict" time="0.5"/>
    <testcase classname="benchmarks.test_resolution" name="test_constraint_add_and_check" time="0.2">
      <failure message="AssertionError: constraint not satisfied">trace</failure>
    </testcase>
    <testcase classname="benchmarks.test_resolver.TestCache" name="test_hot[3.12]" time="0.1"/>
    <testcase classname="benchmarks.test_integration" name="test_local_pypi" time="0.0">
      <skipped message="deselected"/>
    </testcase>
  </testsuite>
</testsuites>`

const benchDoc = `{
  "benchmarks": [
    {"name": "test_graph_from_dict", "fullname": "benchmarks/test_resolution.py::test_graph_from_dict",
     "stats": {"min": 0.001, "max": 0.003, "mean": 0.002, "median": 0.0019, "stddev": 0.0005, "rounds": 40}},
    {"name": "test_hot[3.12]", "fullname": "benchmarks/test_resolver.py::TestCache::test_hot[3.12]",
     "stats": {"min": 0.0001, "max": 0.0002, "mean": 0.00015, "stddev": 0.00001, "rounds": 1000}}
  ]
}`

func readyEnv(t *testing.T) *environment.Environment {
	t.Helper()

	root := t.TempDir()

	return &environment.Environment{
		Root:      root,
		SourceDir: filepath.Join(root, "src"),
		VenvDir:   filepath.Join(root, "venv"),
		State:     environment.StateReady,
	}
}

func argValue(args []string, prefix string) string {
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, prefix); ok {
			return v
		}
	}

	return ""
}

func pytestRunner(exitCode int, junit, bench string) *command.Recorder {
	return &command.Recorder{Handle: func(cmd command.Cmd) (command.Result, error) {
		if junit != "" {
			if err := os.WriteFile(argValue(cmd.Args, "--junitxml="), []byte(junit), 0o600); err != nil {
				return command.Result{}, err
			}
		}

		if bench != "" {
			if err := os.WriteFile(argValue(cmd.Args, "--benchmark-json="), []byte(bench), 0o600); err != nil {
				return command.Result{}, err
			}
		}

		if exitCode != 0 {
			return command.Result{ExitCode: exitCode}, &command.ExitError{Cmd: cmd.String(), Code: exitCode}
		}

		return command.Result{}, nil
	}}
}

func TestPytest_CollectsResults(t *testing.T) {
	t.Parallel()

	env := readyEnv(t)
	rec := pytestRunner(1, junitDoc, benchDoc)
	h := &harness.Pytest{BenchDir: "benchmarks", IndexURL: "http://127.0.0.1:5000/", Runner: rec}

	results, err := h.Run(context.Background(), env, harness.SubsetFast)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "benchmarks.test_resolution.test_constraint_add_and_check", results[0].Test)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "AssertionError: constraint not satisfied", results[0].Message)
	assert.Zero(t, results[0].Rounds)

	assert.Equal(t, "benchmarks.test_resolution.test_graph_from_dict", results[1].Test)
	assert.True(t, results[1].Passed)
	assert.InDelta(t, 0.002, results[1].Mean, 1e-9)
	assert.InDelta(t, 0.0019, results[1].Median, 1e-9)
	assert.Equal(t, 40, results[1].Rounds)

	assert.Equal(t, "benchmarks.test_resolver.TestCache.test_hot[3.12]", results[2].Test)
	assert.Equal(t, 1000, results[2].Rounds)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(env.VenvDir, "bin", "python"), calls[0].Name)
	assert.Equal(t, env.SourceDir, calls[0].Dir)
	assert.Contains(t, calls[0].Args, "not integration and not slow")
	assert.ElementsMatch(t, []string{
		"BENCHFILL_INDEX_URL=http://127.0.0.1:5000/",
		"PIP_INDEX_URL=http://127.0.0.1:5000/",
	}, calls[0].Env)
}

func TestPytest_FullSubsetHasNoMarker(t *testing.T) {
	t.Parallel()

	rec := pytestRunner(0, junitDoc, "")
	h := &harness.Pytest{BenchDir: "benchmarks", Runner: rec}

	results, err := h.Run(context.Background(), readyEnv(t), harness.SubsetFull)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, res := range results {
		assert.Zero(t, res.Mean)
	}

	args := rec.Calls()[0].Args
	assert.NotContains(t, args, "not integration and not slow")
	assert.Empty(t, rec.Calls()[0].Env)
}

func TestPytest_CrashExitCode(t *testing.T) {
	t.Parallel()

	h := &harness.Pytest{BenchDir: "benchmarks", Runner: pytestRunner(4, "", "")}

	_, err := h.Run(context.Background(), readyEnv(t), harness.SubsetFast)
	require.ErrorIs(t, err, harness.ErrHarnessCrashed)
	require.ErrorIs(t, err, command.ErrNonZeroExit)
}

func TestPytest_MissingJUnit(t *testing.T) {
	t.Parallel()

	h := &harness.Pytest{BenchDir: "benchmarks", Runner: pytestRunner(0, "", benchDoc)}

	_, err := h.Run(context.Background(), readyEnv(t), harness.SubsetFast)
	require.ErrorIs(t, err, harness.ErrHarnessCrashed)
}

func TestPytest_StartFailure(t *testing.T) {
	t.Parallel()

	rec := &command.Recorder{Handle: func(command.Cmd) (command.Result, error) {
		return command.Result{}, errors.New("exec: not found")
	}}
	h := &harness.Pytest{BenchDir: "benchmarks", Runner: rec}

	_, err := h.Run(context.Background(), readyEnv(t), harness.SubsetFast)
	require.ErrorIs(t, err, harness.ErrHarnessCrashed)
}

func TestPytest_RequiresReadyEnvironment(t *testing.T) {
	t.Parallel()

	env := readyEnv(t)
	env.State = environment.StateFailed

	h := &harness.Pytest{BenchDir: "benchmarks", Runner: &command.Recorder{}}

	_, err := h.Run(context.Background(), env, harness.SubsetFast)
	require.ErrorIs(t, err, harness.ErrNotReady)
}
