package environment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
)

func TestPipInstaller_Commands(t *testing.T) {
	t.Parallel()

	rec := &command.Recorder{}
	inst := &environment.PipInstaller{Python: "python3.12", Runner: rec}

	err := inst.Install(context.Background(), environment.InstallRequest{
		Runtime:        []string{"requests>=2"},
		Benchmark:      []string{"pytest-benchmark"},
		ProjectDir:     "/w/src",
		VenvDir:        "/w/venv",
		IndexURL:       "http://127.0.0.1:9/",
		ExtraIndexURLs: []string{"https://pypi.org/simple"},
	})
	require.NoError(t, err)

	calls := rec.Calls()
	require.Len(t, calls, 3)

	common := "-m pip install --disable-pip-version-check --no-input --index-url http://127.0.0.1:9/ --extra-index-url https://pypi.org/simple"

	assert.Equal(t, "python3.12 -m venv /w/venv", calls[0].String())
	assert.Equal(t, "/w/venv/bin/python "+common+" requests>=2 pytest-benchmark", calls[1].String())
	assert.Equal(t, "/w/venv/bin/python "+common+" --no-deps /w/src", calls[2].String())
}

func TestPipInstaller_NoRequirements(t *testing.T) {
	t.Parallel()

	rec := &command.Recorder{}
	inst := &environment.PipInstaller{Runner: rec}

	require.NoError(t, inst.Install(context.Background(), environment.InstallRequest{ProjectDir: "/w/src", VenvDir: "/w/venv"}))

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "python3 -m venv /w/venv", calls[0].String())
	assert.Equal(t, "/w/venv/bin/python -m pip install --disable-pip-version-check --no-input --no-deps /w/src", calls[1].String())
}

func TestPipInstaller_StopsOnFailure(t *testing.T) {
	t.Parallel()

	rec := &command.Recorder{Handle: func(cmd command.Cmd) (command.Result, error) {
		if len(cmd.Args) > 2 && cmd.Args[2] == "install" {
			return command.Result{ExitCode: 1}, &command.ExitError{Cmd: cmd.String(), Code: 1, Stderr: "No matching distribution"}
		}

		return command.Result{}, nil
	}}

	inst := &environment.PipInstaller{Runner: rec}

	err := inst.Install(context.Background(), environment.InstallRequest{
		Runtime: []string{"unseeded"}, ProjectDir: "/w/src", VenvDir: "/w/venv",
	})
	require.ErrorIs(t, err, command.ErrNonZeroExit)
	assert.Contains(t, err.Error(), "install requirements")
	assert.Len(t, rec.Calls(), 2)
}
