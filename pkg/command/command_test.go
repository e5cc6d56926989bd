package command_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
)

func requireShell(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_Success(t *testing.T) {
	t.Parallel()
	requireShell(t)

	res, err := command.ExecRunner{}.Run(context.Background(), command.Cmd{
		Name: "sh",
		Args: []string{"-c", "echo $BENCHFILL_PROBE"},
		Env:  []string{"BENCHFILL_PROBE=hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	t.Parallel()
	requireShell(t)

	res, err := command.ExecRunner{}.Run(context.Background(), command.Cmd{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, command.ErrNonZeroExit)
	assert.Equal(t, 3, res.ExitCode)

	var exitErr *command.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Stderr)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := command.ExecRunner{}.Run(context.Background(), command.Cmd{Name: "benchfill-no-such-binary"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, command.ErrNonZeroExit)
}

func TestRecorder_RecordsCalls(t *testing.T) {
	t.Parallel()

	rec := &command.Recorder{
		Handle: func(cmd command.Cmd) (command.Result, error) {
			if cmd.Name == "fail" {
				return command.Result{ExitCode: 1}, &command.ExitError{Cmd: cmd.String(), Code: 1}
			}

			return command.Result{}, nil
		},
	}

	_, err := rec.Run(context.Background(), command.Cmd{Name: "pip", Args: []string{"install", "x"}})
	require.NoError(t, err)

	_, err = rec.Run(context.Background(), command.Cmd{Name: "fail"})
	require.ErrorIs(t, err, command.ErrNonZeroExit)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "pip install x", calls[0].String())
}
