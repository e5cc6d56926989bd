package sink_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/report"
	"github.com/Sumatoshi-tech/benchfill/pkg/sink"
)

var baseTime = time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)

func sampleReport(runID string) *backfill.Report {
	r := &backfill.Report{
		RunID:          runID,
		Repository:     "/src/tool",
		From:           "a1",
		To:             "c3",
		Branch:         "main",
		Subset:         harness.SubsetFast,
		SnapshotCommit: "c3",
		SnapshotDigest: "sha256:d",
		CreatedAt:      baseTime,
		Revisions: []backfill.RevisionReport{
			{
				Revision: "a1", Summary: "one", Author: "Ann", CommittedAt: baseTime,
				Status: backfill.StatusSucceeded, DurationSeconds: 3,
				Results: []harness.Result{
					{Test: "benchmarks.test_parse", Mean: 0.2, Rounds: 5, Passed: true},
					{Test: "benchmarks.test_dump", Mean: 0.4, Rounds: 5, Passed: false, Message: "boom"},
				},
			},
			{
				Revision: "b2", Summary: "two", CommittedAt: baseTime.Add(time.Hour),
				Status: backfill.StatusEnvironmentFailed, FailedState: environment.StateInstall, Reason: "bad manifest",
			},
			{
				Revision: "c3", Summary: "three", CommittedAt: baseTime.Add(2 * time.Hour),
				Status: backfill.StatusSucceeded, DurationSeconds: 2,
				Results: []harness.Result{{Test: "benchmarks.test_parse", Mean: 0.1, Rounds: 5, Passed: true}},
			},
		},
	}
	r.Summarize()

	return r
}

func TestFile_Write(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json.lz4")
	f := &sink.File{Path: path}

	assert.Equal(t, "file:"+path, f.Name())
	require.NoError(t, f.Write(context.Background(), sampleReport("run-1")))

	got, err := report.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}
