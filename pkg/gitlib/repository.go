package gitlib

import (
	"errors"
	"fmt"
	"os"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrNotCommit is returned when a revision resolves to something other than a commit.
var ErrNotCommit = errors.New("revision does not name a commit")

// dirPerm is used when creating checkout target directories.
const dirPerm = 0o755

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Resolve turns any revision expression git understands (branch, tag, sha,
// "HEAD~3") into the hash of the commit it names.
func (r *Repository) Resolve(spec string) (Hash, error) {
	obj, err := r.repo.RevparseSingle(spec)
	if err != nil {
		return Hash{}, fmt.Errorf("resolve %q: %w", spec, err)
	}
	defer obj.Free()

	peeled, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %q", ErrNotCommit, spec)
	}
	defer peeled.Free()

	return HashFromOid(peeled.Id()), nil
}

// LookupCommit returns the commit with the given hash.
func (r *Repository) LookupCommit(hash Hash) (*Commit, error) {
	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupBlob returns the blob with the given hash.
func (r *Repository) LookupBlob(hash Hash) (*Blob, error) {
	blob, err := r.repo.LookupBlob(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}

	return &Blob{blob: blob}, nil
}

// LookupTree returns the tree with the given hash.
func (r *Repository) LookupTree(hash Hash) (*Tree, error) {
	tree, err := r.repo.LookupTree(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup tree: %w", err)
	}

	return &Tree{tree: tree, repo: r}, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
// A commit counts as its own ancestor.
func (r *Repository) IsAncestor(ancestor, descendant Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}

	ok, err := r.repo.DescendantOf(descendant.ToOid(), ancestor.ToOid())
	if err != nil {
		return false, fmt.Errorf("descendant check: %w", err)
	}

	return ok, nil
}

// CheckoutTo writes the tree of the given commit into dir without touching the
// repository's own index or working tree. dir is created when missing.
func (r *Repository) CheckoutTo(hash Hash, dir string) error {
	commit, err := r.LookupCommit(hash)
	if err != nil {
		return err
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return err
	}
	defer tree.Free()

	mkErr := os.MkdirAll(dir, dirPerm)
	if mkErr != nil {
		return fmt.Errorf("create checkout dir: %w", mkErr)
	}

	opts := &git2go.CheckoutOptions{
		Strategy:        git2go.CheckoutForce | git2go.CheckoutDontUpdateIndex,
		TargetDirectory: dir,
	}

	checkoutErr := r.repo.CheckoutTree(tree.tree, opts)
	if checkoutErr != nil {
		return fmt.Errorf("checkout %s: %w", hash.Short(), checkoutErr)
	}

	return nil
}
