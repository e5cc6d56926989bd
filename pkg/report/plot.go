package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
)

const (
	chartWidth         = "100%"
	chartHeight        = "500px"
	dataZoomEndPercent = 100
	// missingPoint leaves a gap in an echarts line.
	missingPoint = "-"
)

// RenderPlot writes an HTML page with the mean time of every test across the
// range and the wall time spent per revision.
func RenderPlot(w io.Writer, r *backfill.Report) error {
	page := components.NewPage()
	page.PageTitle = "benchfill " + r.RunID
	page.AddCharts(meanChart(r), durationChart(r))

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

func revisionLabels(r *backfill.Report) []string {
	labels := make([]string, len(r.Revisions))
	for i, rev := range r.Revisions {
		labels[i] = short(rev.Revision)
	}

	return labels
}

func baseOptions(title, subtitle, yAxis string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "10%", Left: "center"}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "slider", Start: 0, End: dataZoomEndPercent},
			opts.DataZoom{Type: "inside"},
		),
		charts.WithGridOpts(opts.Grid{Top: "25%", Bottom: "15%", Left: "5%", Right: "5%", ContainLabel: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: yAxis}),
	}
}

// meanSeries maps each test to its mean per revision, in revision order.
// Revisions without a passing measurement hold missingPoint.
func meanSeries(r *backfill.Report) (names []string, series map[string][]opts.LineData) {
	series = map[string][]opts.LineData{}

	for i, rev := range r.Revisions {
		for _, res := range rev.Results {
			points, ok := series[res.Test]
			if !ok {
				points = make([]opts.LineData, len(r.Revisions))
				for j := range points {
					points[j] = opts.LineData{Value: missingPoint}
				}

				series[res.Test] = points
				names = append(names, res.Test)
			}

			if res.Passed {
				points[i] = opts.LineData{Value: res.Mean}
			}
		}
	}

	sort.Strings(names)

	return names, series
}

func meanChart(r *backfill.Report) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(baseOptions("Mean time per test", r.From+".."+r.To, "seconds")...)
	line.SetXAxis(revisionLabels(r))

	names, series := meanSeries(r)
	for _, name := range names {
		line.AddSeries(name, series[name])
	}

	return line
}

func durationChart(r *backfill.Report) *charts.Bar {
	byStatus := map[backfill.Status][]opts.BarData{}
	statuses := []backfill.Status{
		backfill.StatusSucceeded,
		backfill.StatusEnvironmentFailed,
		backfill.StatusExecutionFailed,
		backfill.StatusSkipped,
	}

	for _, s := range statuses {
		byStatus[s] = make([]opts.BarData, len(r.Revisions))
		for i := range byStatus[s] {
			byStatus[s][i] = opts.BarData{Value: 0}
		}
	}

	for i, rev := range r.Revisions {
		if _, ok := byStatus[rev.Status]; ok {
			byStatus[rev.Status][i] = opts.BarData{Value: rev.DurationSeconds}
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(baseOptions("Time per revision", "environment build and measurement", "seconds")...)
	bar.SetXAxis(revisionLabels(r))

	for _, s := range statuses {
		bar.AddSeries(string(s), byStatus[s], charts.WithBarChartOpts(opts.BarChart{Stack: "status"}))
	}

	return bar
}
