package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// execute runs sub under a root carrying the global flags, with an empty
// config file so no user config leaks in.
func execute(t *testing.T, ctx context.Context, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "benchfill.yaml")
	require.NoError(t, os.WriteFile(cfgPath, nil, 0o600))

	root := &cobra.Command{Use: "benchfill", SilenceUsage: true, SilenceErrors: true}
	RegisterGlobalFlags(root)
	root.AddCommand(sub)

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{sub.Name(), "--config", cfgPath, "--log-level", "error"}, args...))

	err := root.ExecuteContext(ctx)

	return out.String(), err
}
