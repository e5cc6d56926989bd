package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
)

const shortHashLen = 10

const msgNoRevisions = "No revisions in report"

var (
	colorOK      = color.New(color.FgGreen)
	colorFailed  = color.New(color.FgRed)
	colorSkipped = color.New(color.FgYellow)
)

// RenderText writes a human readable summary: one row per revision, then one
// row per test of every succeeded revision.
func RenderText(w io.Writer, r *backfill.Report) error {
	_, err := fmt.Fprintf(w, "Backfill %s  %s..%s  subset=%s  snapshot=%s\n\n",
		r.RunID, short(r.From), short(r.To), r.Subset, short(r.SnapshotCommit))
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if len(r.Revisions) == 0 {
		_, err = fmt.Fprintln(w, msgNoRevisions)

		return err
	}

	_, err = fmt.Fprintf(w, "%s\n\n", revisionTable(r).Render())
	if err != nil {
		return fmt.Errorf("write revisions: %w", err)
	}

	if results := resultTable(r); results != nil {
		_, err = fmt.Fprintf(w, "%s\n\n", results.Render())
		if err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}

	_, err = fmt.Fprintln(w, summaryLine(r.Summary))

	return err
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func revisionTable(r *backfill.Report) table.Writer {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Revision", "Committed", "Summary", "Status", "Tests", "Took", "Reason"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 40},
		{Number: 7, WidthMax: 60},
		{Number: 5, Align: text.AlignRight},
	})

	for _, rev := range r.Revisions {
		reason := rev.Reason
		if rev.FailedState != "" {
			reason = fmt.Sprintf("[%s] %s", rev.FailedState, reason)
		}

		tbl.AppendRow(table.Row{
			short(rev.Revision),
			humanize.Time(rev.CommittedAt),
			rev.Summary,
			statusText(rev.Status),
			len(rev.Results),
			(time.Duration(rev.DurationSeconds * float64(time.Second))).Round(time.Millisecond),
			reason,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(r.Revisions))})

	return tbl
}

func resultTable(r *backfill.Report) table.Writer {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Revision", "Test", "Mean", "StdDev", "Min", "Max", "Rounds", "Passed"})

	rows := 0

	for _, rev := range r.Revisions {
		for _, res := range rev.Results {
			passed := colorOK.Sprint("yes")
			if !res.Passed {
				passed = colorFailed.Sprint("no")
			}

			tbl.AppendRow(table.Row{
				short(rev.Revision),
				res.Test,
				seconds(res.Mean),
				seconds(res.StdDev),
				seconds(res.Min),
				seconds(res.Max),
				res.Rounds,
				passed,
			})

			rows++
		}
	}

	if rows == 0 {
		return nil
	}

	return tbl
}

func summaryLine(s backfill.Summary) string {
	return fmt.Sprintf("%d revisions: %s, %s, %s, %s, %s",
		s.Total,
		colorOK.Sprintf("%d succeeded", s.Succeeded),
		colorFailed.Sprintf("%d environment failed", s.EnvironmentFailed),
		colorFailed.Sprintf("%d execution failed", s.ExecutionFailed),
		colorSkipped.Sprintf("%d skipped", s.Skipped),
		humanize.Comma(int64(s.FailedTests))+" failed tests",
	)
}

func statusText(s backfill.Status) string {
	switch s {
	case backfill.StatusSucceeded:
		return colorOK.Sprint(s)
	case backfill.StatusSkipped:
		return colorSkipped.Sprint(s)
	default:
		return colorFailed.Sprint(s)
	}
}

// seconds formats a duration given in seconds with an SI suffix.
func seconds(v float64) string {
	return humanize.SIWithDigits(v, 3, "s")
}

func short(hash string) string {
	if len(hash) > shortHashLen {
		return hash[:shortHashLen]
	}

	return hash
}
