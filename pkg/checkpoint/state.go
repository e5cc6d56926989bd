// Package checkpoint journals a backfill run between revisions so an
// interrupted run can resume without redoing finished revisions.
package checkpoint

// Key identifies the inputs a journal is valid for. A resumed run must
// present an identical key.
type Key struct {
	From             string `json:"from"`
	To               string `json:"to"`
	Branch           string `json:"branch"`
	Subset           string `json:"subset"`
	FirstParent      bool   `json:"first_parent"`
	SnapshotDigest   string `json:"snapshot_digest"`
	DependencyDigest string `json:"dependency_digest"`
}

// Metadata holds journal metadata for validation and resume.
type Metadata struct {
	Version   int    `json:"version"`
	RunID     string `json:"run_id"`
	RepoPath  string `json:"repo_path"`
	RepoHash  string `json:"repo_hash"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Key       Key    `json:"key"`
	// TotalRevisions is the size of the resolved range.
	TotalRevisions int `json:"total_revisions"`
}

// Journal is the persisted state: metadata plus the finished revision
// records, in range order.
type Journal[T any] struct {
	Metadata  Metadata `json:"metadata"`
	Completed []T      `json:"completed"`
}
