package backfill

import (
	"time"

	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/snapshot"
)

// Status is the outcome of one revision.
type Status string

// Revision outcomes.
const (
	StatusSucceeded         Status = "succeeded"
	StatusEnvironmentFailed Status = "environment_failed"
	StatusExecutionFailed   Status = "execution_failed"
	StatusSkipped           Status = "skipped"
)

// ReasonInterrupted marks revisions left unprocessed by a cancelled run.
const ReasonInterrupted = "interrupted"

// RevisionReport is the per-revision record. Failed revisions carry no results.
type RevisionReport struct {
	Revision            string                   `json:"revision"                       yaml:"revision"`
	Summary             string                   `json:"summary"                        yaml:"summary"`
	Author              string                   `json:"author"                         yaml:"author"`
	CommittedAt         time.Time                `json:"committed_at"                   yaml:"committed_at"`
	Status              Status                   `json:"status"                         yaml:"status"`
	FailedState         environment.State        `json:"failed_state,omitempty"         yaml:"failed_state,omitempty"`
	Reason              string                   `json:"reason,omitempty"               yaml:"reason,omitempty"`
	SnapshotDigest      string                   `json:"snapshot_digest"                yaml:"snapshot_digest"`
	Overlay             snapshot.OverlayStats    `json:"overlay"                        yaml:"overlay"`
	RuntimeRequirements []string                 `json:"runtime_requirements,omitempty" yaml:"runtime_requirements,omitempty"`
	Transitions         []environment.Transition `json:"transitions,omitempty"          yaml:"transitions,omitempty"`
	Results             []harness.Result         `json:"results,omitempty"              yaml:"results,omitempty"`
	DurationSeconds     float64                  `json:"duration_seconds"               yaml:"duration_seconds"`
}

// Failed reports whether the revision produced no usable results.
func (r RevisionReport) Failed() bool {
	return r.Status == StatusEnvironmentFailed || r.Status == StatusExecutionFailed
}

// Summary aggregates revision outcomes.
type Summary struct {
	Total             int `json:"total"              yaml:"total"`
	Succeeded         int `json:"succeeded"          yaml:"succeeded"`
	EnvironmentFailed int `json:"environment_failed" yaml:"environment_failed"`
	ExecutionFailed   int `json:"execution_failed"   yaml:"execution_failed"`
	Skipped           int `json:"skipped"            yaml:"skipped"`
	// FailedTests counts assertion failures inside succeeded revisions.
	FailedTests int `json:"failed_tests" yaml:"failed_tests"`
}

// Report is the aggregate output of one run.
type Report struct {
	RunID                 string           `json:"run_id"                 yaml:"run_id"`
	Repository            string           `json:"repository"             yaml:"repository"`
	From                  string           `json:"from"                   yaml:"from"`
	To                    string           `json:"to"                     yaml:"to"`
	Branch                string           `json:"branch"                 yaml:"branch"`
	Subset                harness.Subset   `json:"subset"                 yaml:"subset"`
	SnapshotCommit        string           `json:"snapshot_commit"        yaml:"snapshot_commit"`
	SnapshotDigest        string           `json:"snapshot_digest"        yaml:"snapshot_digest"`
	BenchmarkRequirements []string         `json:"benchmark_requirements" yaml:"benchmark_requirements"`
	CreatedAt             time.Time        `json:"created_at"             yaml:"created_at"`
	Revisions             []RevisionReport `json:"revisions"              yaml:"revisions"`
	Summary               Summary          `json:"summary"                yaml:"summary"`
}

// Summarize recomputes Summary from Revisions.
func (r *Report) Summarize() {
	s := Summary{Total: len(r.Revisions)}

	for _, rev := range r.Revisions {
		switch rev.Status {
		case StatusSucceeded:
			s.Succeeded++

			for _, res := range rev.Results {
				if !res.Passed {
					s.FailedTests++
				}
			}
		case StatusEnvironmentFailed:
			s.EnvironmentFailed++
		case StatusExecutionFailed:
			s.ExecutionFailed++
		case StatusSkipped:
			s.Skipped++
		}
	}

	r.Summary = s
}

// EnvironmentFailures returns the revisions whose environment never became ready.
func (r *Report) EnvironmentFailures() []RevisionReport {
	var out []RevisionReport

	for _, rev := range r.Revisions {
		if rev.Status == StatusEnvironmentFailed {
			out = append(out, rev)
		}
	}

	return out
}

// HasFailures reports whether any revision failed to build or execute.
func (r *Report) HasFailures() bool {
	for _, rev := range r.Revisions {
		if rev.Failed() {
			return true
		}
	}

	return false
}
