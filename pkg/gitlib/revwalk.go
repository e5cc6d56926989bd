package gitlib

import (
	"errors"
	"fmt"
	"time"

	git2go "github.com/libgit2/git2go/v34"
)

// Range resolution errors.
var (
	ErrNotAncestor = errors.New("range start is not an ancestor of range end")
	ErrEmptyRange  = errors.New("commit range is empty")
)

// RangeOptions configures commit range iteration.
type RangeOptions struct {
	FirstParent bool // Follow only first parent (git log --first-parent).
}

// Revision is one commit of a resolved range, detached from libgit2 memory.
type Revision struct {
	Hash        Hash
	Summary     string
	Author      Signature
	CommittedAt time.Time
}

// ResolveRange resolves both endpoints and returns every commit between them,
// inclusive, oldest first. The start must be an ancestor of the end.
func (r *Repository) ResolveRange(from, to string, opts RangeOptions) ([]Revision, error) {
	fromHash, err := r.Resolve(from)
	if err != nil {
		return nil, err
	}

	toHash, err := r.Resolve(to)
	if err != nil {
		return nil, err
	}

	ok, err := r.IsAncestor(fromHash, toHash)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s..%s", ErrNotAncestor, from, to)
	}

	walk, err := r.Walk()
	if err != nil {
		return nil, err
	}
	defer walk.Free()

	// Topological order keeps parents before children even when committer
	// clocks disagree.
	walk.Sorting(git2go.SortTopological | git2go.SortTime | git2go.SortReverse)

	if opts.FirstParent {
		walk.walk.SimplifyFirstParent()
	}

	err = walk.Push(toHash)
	if err != nil {
		return nil, err
	}

	err = walk.hideParents(fromHash)
	if err != nil {
		return nil, err
	}

	var revisions []Revision

	err = walk.Iterate(func(c *Commit) bool {
		revisions = append(revisions, Revision{
			Hash:        c.Hash(),
			Summary:     c.Summary(),
			Author:      c.Author(),
			CommittedAt: c.Committer().When,
		})

		return true
	})
	if err != nil {
		return nil, err
	}

	if len(revisions) == 0 {
		return nil, fmt.Errorf("%w: %s..%s", ErrEmptyRange, from, to)
	}

	return revisions, nil
}

// RevWalk wraps a libgit2 revision walker.
type RevWalk struct {
	walk *git2go.RevWalk
	repo *Repository
}

// Walk creates a new, empty revision walker.
func (r *Repository) Walk() (*RevWalk, error) {
	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}

	return &RevWalk{walk: walk, repo: r}, nil
}

// Push adds a commit to start walking from.
func (w *RevWalk) Push(hash Hash) error {
	err := w.walk.Push(hash.ToOid())
	if err != nil {
		return fmt.Errorf("push to revwalk: %w", err)
	}

	return nil
}

// Hide excludes a commit and its ancestors from the walk.
func (w *RevWalk) Hide(hash Hash) error {
	err := w.walk.Hide(hash.ToOid())
	if err != nil {
		return fmt.Errorf("hide from revwalk: %w", err)
	}

	return nil
}

// hideParents hides every parent of hash so hash itself stays in the walk.
func (w *RevWalk) hideParents(hash Hash) error {
	commit, err := w.repo.LookupCommit(hash)
	if err != nil {
		return err
	}
	defer commit.Free()

	for i := range commit.NumParents() {
		parent, parentErr := commit.ParentHash(i)
		if parentErr != nil {
			return parentErr
		}

		hideErr := w.Hide(parent)
		if hideErr != nil {
			return hideErr
		}
	}

	return nil
}

// Sorting sets the sorting mode for the walker.
func (w *RevWalk) Sorting(mode git2go.SortType) {
	w.walk.Sorting(mode)
}

// Iterate calls the callback for each commit in the walk until it returns false.
func (w *RevWalk) Iterate(cb func(*Commit) bool) error {
	err := w.walk.Iterate(func(commit *git2go.Commit) bool {
		wrapped := &Commit{commit: commit, repo: w.repo}
		defer wrapped.Free()

		return cb(wrapped)
	})
	if err != nil {
		return fmt.Errorf("revwalk iterate: %w", err)
	}

	return nil
}

// Free releases the walker resources.
func (w *RevWalk) Free() {
	if w.walk != nil {
		w.walk.Free()
		w.walk = nil
	}
}
