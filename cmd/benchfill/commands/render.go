package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchfill/pkg/report"
	"github.com/Sumatoshi-tech/benchfill/pkg/sink"
)

const trendHashLen = 10

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	var (
		input, format, output string
		trend, sqlitePath     string
		schema                bool
	)

	cmd := &cobra.Command{
		Use:   "render --input FILE",
		Short: "Validate a saved report and render it again",
		Long: `Validate a saved report and render it again.

With --trend TEST and --sqlite PATH, print every stored measurement of TEST
across runs, oldest commit first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if schema {
				_, err := cmd.OutOrStdout().Write(report.Schema())

				return err
			}

			if trend != "" {
				if sqlitePath == "" {
					return fmt.Errorf("%w: --sqlite", errMissingFlag)
				}

				return renderTrend(cmd.Context(), cmd.OutOrStdout(), sqlitePath, trend)
			}

			if input == "" {
				return fmt.Errorf("%w: --input", errMissingFlag)
			}

			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			rep, err := report.Load(input)
			if err != nil {
				return err
			}

			return writeReport(cmd.OutOrStdout(), output, rep, f)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Saved report (.json, .yaml, optionally .lz4)")
	cmd.Flags().StringVar(&format, "format", string(report.FormatText), "Output format: json, yaml, text, plot")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write here instead of stdout")
	cmd.Flags().BoolVar(&schema, "schema", false, "Print the report JSON schema and exit")
	cmd.Flags().StringVar(&trend, "trend", "", "Print the stored history of this test (needs --sqlite)")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Results database written by run --sqlite")

	return cmd
}

func renderTrend(ctx context.Context, w io.Writer, path, test string) (err error) {
	store, err := sink.OpenSQLite(path)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, store.Close()) }()

	points, err := store.Trend(ctx, test)
	if err != nil {
		return err
	}

	if len(points) == 0 {
		_, err = fmt.Fprintf(w, "No measurements of %s\n", test)

		return err
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.AppendHeader(table.Row{"Run", "Revision", "Committed", "Mean", "Passed"})

	for _, p := range points {
		rev := p.Revision
		if len(rev) > trendHashLen {
			rev = rev[:trendHashLen]
		}

		tbl.AppendRow(table.Row{
			p.RunID,
			rev,
			p.CommittedAt.Format("2006-01-02 15:04"),
			humanize.SIWithDigits(p.Mean, 3, "s"),
			p.Passed,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%s: %d points", test, len(points))})

	_, err = fmt.Fprintln(w, tbl.Render())

	return err
}
