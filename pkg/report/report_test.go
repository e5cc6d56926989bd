package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/persist"
	"github.com/Sumatoshi-tech/benchfill/pkg/report"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "cccccccccccccccccccccccccccccccccccccccc"
)

func sampleReport() *backfill.Report {
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	r := &backfill.Report{
		RunID:                 "3f6c1a1e-0000-4000-8000-000000000001",
		Repository:            "/src/tool",
		From:                  hashA,
		To:                    hashC,
		Branch:                "main",
		Subset:                harness.SubsetFast,
		SnapshotCommit:        hashC,
		SnapshotDigest:        "sha256:abc",
		BenchmarkRequirements: []string{"pytest-benchmark>=4"},
		CreatedAt:             at,
		Revisions: []backfill.RevisionReport{
			{
				Revision: hashA, Summary: "initial", Author: "Ann", CommittedAt: at,
				Status: backfill.StatusSucceeded, SnapshotDigest: "sha256:abc", DurationSeconds: 12.5,
				Results: []harness.Result{
					{Test: "benchmarks.test_parse", Mean: 0.0021, StdDev: 0.0001, Min: 0.002, Max: 0.0024, Rounds: 5, Passed: true},
					{Test: "benchmarks.test_dump", Mean: 0.5, Rounds: 5, Passed: false, Message: "assert 1 == 2"},
				},
			},
			{
				Revision: hashB, Summary: "break manifest", CommittedAt: at.Add(time.Hour),
				Status: backfill.StatusEnvironmentFailed, FailedState: environment.StateInstall,
				Reason: "parse manifest", SnapshotDigest: "sha256:abc", DurationSeconds: 0.3,
			},
			{
				Revision: hashC, Summary: "fix", CommittedAt: at.Add(2 * time.Hour),
				Status: backfill.StatusSkipped, Reason: backfill.ReasonInterrupted, SnapshotDigest: "sha256:abc",
			},
		},
	}
	r.Summarize()

	return r
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, f := range report.Formats() {
		got, err := report.ParseFormat(strings.ToUpper(string(f)))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	_, err := report.ParseFormat("csv")
	require.ErrorIs(t, err, report.ErrUnknownFormat)
}

func TestRender_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.Render(&buf, sampleReport(), report.FormatText))

	out := buf.String()
	assert.Contains(t, out, "aaaaaaaaaa")
	assert.Contains(t, out, "benchmarks.test_parse")
	assert.Contains(t, out, "environment_failed")
	assert.Contains(t, out, "[install] parse manifest")
	assert.Contains(t, out, "3 revisions")
	assert.NotContains(t, out, hashA)
}

func TestRender_TextEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.RenderText(&buf, &backfill.Report{RunID: "x"}))
	assert.Contains(t, buf.String(), "No revisions")
}

func TestRender_Plot(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.Render(&buf, sampleReport(), report.FormatPlot))

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "benchmarks.test_parse")
	assert.Contains(t, out, "Mean time per test")
}

func TestRender_StructuredFormatsValidate(t *testing.T) {
	t.Parallel()

	for _, f := range []report.Format{report.FormatJSON, report.FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			require.NoError(t, report.Render(&buf, sampleReport(), f))

			codec, err := persist.CodecFor("r." + string(f))
			require.NoError(t, err)

			var doc any
			require.NoError(t, codec.Decode(&buf, &doc))
			require.NoError(t, report.Validate(doc))
		})
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	t.Parallel()

	err := report.Render(&bytes.Buffer{}, sampleReport(), "csv")
	require.ErrorIs(t, err, report.ErrUnknownFormat)
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"r.json", "r.yaml", "r.yml", "r.json.lz4", "r.yaml.lz4"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), name)
			want := sampleReport()

			require.NoError(t, report.Save(path, want))

			got, err := report.Load(path)
			require.NoError(t, err)

			assert.Equal(t, want.RunID, got.RunID)
			assert.Equal(t, want.Summary, got.Summary)
			require.Len(t, got.Revisions, 3)
			assert.Equal(t, want.Revisions[0].Results, got.Revisions[0].Results)
			assert.Equal(t, environment.StateInstall, got.Revisions[1].FailedState)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestLoad_RejectsSchemaViolation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"run_id": "x", "repository": "r", "from": "a", "to": "b", "subset": "fast",
		"snapshot_digest": "d", "summary": {"total": 1, "succeeded": 0, "environment_failed": 0,
		"execution_failed": 0, "skipped": 0},
		"revisions": [{"revision": "a", "status": "exploded", "snapshot_digest": "d"}]
	}`), 0o644))

	_, err := report.Load(path)
	require.ErrorIs(t, err, report.ErrSchema)
	assert.Contains(t, err.Error(), "status")
}

func TestLoad_UnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := report.Load(filepath.Join(t.TempDir(), "r.csv"))
	require.ErrorIs(t, err, persist.ErrUnknownExtension)
}
