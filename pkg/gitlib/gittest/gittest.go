// Package gittest builds throwaway libgit2 repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib"
)

// Repo is a scratch repository with a working tree.
type Repo struct {
	t      *testing.T
	Path   string
	native *git2go.Repository
	clock  time.Time
}

// NewRepo initialises an empty repository in a temp dir. It is freed on test cleanup.
func NewRepo(t *testing.T) *Repo {
	t.Helper()

	dir := t.TempDir()

	repo, err := git2go.InitRepository(dir, false)
	require.NoError(t, err)

	t.Cleanup(repo.Free)

	return &Repo{
		t:      t,
		Path:   dir,
		native: repo,
		clock:  time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
	}
}

// WriteFile creates or replaces a file in the working tree.
func (r *Repo) WriteFile(name, content string) {
	r.t.Helper()

	path := filepath.Join(r.Path, name)

	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

// Symlink creates a symbolic link name -> target in the working tree.
func (r *Repo) Symlink(name, target string) {
	r.t.Helper()

	path := filepath.Join(r.Path, name)

	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.Symlink(target, path))
}

// RemoveAll deletes a file or directory from the working tree.
func (r *Repo) RemoveAll(name string) {
	r.t.Helper()

	require.NoError(r.t, os.RemoveAll(filepath.Join(r.Path, name)))
}

// Commit stages the whole working tree and commits it on HEAD. Commit times
// advance by one hour per call so ordering is deterministic.
func (r *Repo) Commit(message string) gitlib.Hash {
	r.t.Helper()

	index, err := r.native.Index()
	require.NoError(r.t, err)

	defer index.Free()

	require.NoError(r.t, index.AddAll([]string{"*"}, git2go.IndexAddDefault, nil))
	require.NoError(r.t, index.UpdateAll([]string{"*"}, nil))
	require.NoError(r.t, index.Write())

	treeID, err := index.WriteTree()
	require.NoError(r.t, err)

	tree, err := r.native.LookupTree(treeID)
	require.NoError(r.t, err)

	defer tree.Free()

	r.clock = r.clock.Add(time.Hour)

	sig := &git2go.Signature{
		Name:  "Test User",
		Email: "test@example.com",
		When:  r.clock,
	}

	var parents []*git2go.Commit

	head, err := r.native.Head()
	if err == nil {
		headCommit, lookupErr := r.native.LookupCommit(head.Target())
		require.NoError(r.t, lookupErr)

		parents = append(parents, headCommit)

		head.Free()
	}

	oid, err := r.native.CreateCommit("HEAD", sig, sig, message, tree, parents...)
	require.NoError(r.t, err)

	for _, parent := range parents {
		parent.Free()
	}

	return gitlib.HashFromOid(oid)
}

// Branch points a new branch at the given commit.
func (r *Repo) Branch(name string, target gitlib.Hash) {
	r.t.Helper()

	commit, err := r.native.LookupCommit(target.ToOid())
	require.NoError(r.t, err)

	defer commit.Free()

	branch, err := r.native.CreateBranch(name, commit, true)
	require.NoError(r.t, err)

	branch.Free()
}

// Open opens the repository through gitlib.
func (r *Repo) Open() *gitlib.Repository {
	r.t.Helper()

	repo, err := gitlib.OpenRepository(r.Path)
	require.NoError(r.t, err)

	r.t.Cleanup(repo.Free)

	return repo
}
