package backfill_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
)

func TestReportSummarize(t *testing.T) {
	t.Parallel()

	r := &backfill.Report{Revisions: []backfill.RevisionReport{
		{Revision: "a", Status: backfill.StatusSucceeded, Results: []harness.Result{
			{Test: "t1", Passed: true},
			{Test: "t2", Passed: false},
		}},
		{Revision: "b", Status: backfill.StatusEnvironmentFailed},
		{Revision: "c", Status: backfill.StatusExecutionFailed},
		{Revision: "d", Status: backfill.StatusSkipped, Reason: backfill.ReasonInterrupted},
		{Revision: "e", Status: backfill.StatusSucceeded},
	}}

	r.Summarize()

	assert.Equal(t, backfill.Summary{
		Total:             5,
		Succeeded:         2,
		EnvironmentFailed: 1,
		ExecutionFailed:   1,
		Skipped:           1,
		FailedTests:       1,
	}, r.Summary)
	assert.True(t, r.HasFailures())

	failures := r.EnvironmentFailures()
	assert.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].Revision)
}

func TestReport_SkippedIsNotFailure(t *testing.T) {
	t.Parallel()

	r := &backfill.Report{Revisions: []backfill.RevisionReport{
		{Revision: "a", Status: backfill.StatusSucceeded},
		{Revision: "b", Status: backfill.StatusSkipped},
	}}

	assert.False(t, r.HasFailures())
	assert.Empty(t, r.EnvironmentFailures())
}
