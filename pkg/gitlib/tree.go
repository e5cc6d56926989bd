package gitlib

import (
	"errors"
	"fmt"
	"path"
	"strings"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrNotTree is returned when a path inside a tree names something other than a directory.
var ErrNotTree = errors.New("path is not a directory")

// Tree wraps a libgit2 tree.
type Tree struct {
	tree *git2go.Tree
	repo *Repository
}

// Hash returns the tree hash.
func (t *Tree) Hash() Hash {
	return HashFromOid(t.tree.Id())
}

// TreeFile is one blob reachable from a tree.
type TreeFile struct {
	Path string
	Hash Hash
	Mode git2go.Filemode
}

// EntryByPath returns the tree entry at the given path.
func (t *Tree) EntryByPath(p string) (*TreeEntry, error) {
	entry, err := t.tree.EntryByPath(p)
	if err != nil {
		return nil, fmt.Errorf("entry by path %q: %w", p, err)
	}

	return &TreeEntry{entry: entry}, nil
}

// ReadFile returns the contents of the blob at p.
func (t *Tree) ReadFile(p string) ([]byte, error) {
	entry, err := t.EntryByPath(p)
	if err != nil {
		return nil, err
	}

	blob, err := t.repo.LookupBlob(entry.Hash())
	if err != nil {
		return nil, err
	}
	defer blob.Free()

	return blob.Contents(), nil
}

// FilesUnder lists every blob below dir, with paths relative to the tree root.
// An empty dir lists the whole tree.
func (t *Tree) FilesUnder(dir string) ([]TreeFile, error) {
	dir = strings.Trim(dir, "/")

	if dir == "" {
		var files []TreeFile

		err := walkTree(t.repo, t, "", &files)

		return files, err
	}

	entry, err := t.EntryByPath(dir)
	if err != nil {
		return nil, err
	}

	if entry.Type() != git2go.ObjectTree {
		return nil, fmt.Errorf("%w: %s", ErrNotTree, dir)
	}

	sub, err := t.repo.LookupTree(entry.Hash())
	if err != nil {
		return nil, err
	}
	defer sub.Free()

	var files []TreeFile

	err = walkTree(t.repo, sub, dir, &files)

	return files, err
}

func walkTree(repo *Repository, tree *Tree, prefix string, files *[]TreeFile) error {
	for i := range tree.tree.EntryCount() {
		entry := tree.tree.EntryByIndex(i)
		if entry == nil {
			continue
		}

		full := path.Join(prefix, entry.Name)

		switch entry.Type {
		case git2go.ObjectBlob:
			*files = append(*files, TreeFile{Path: full, Hash: HashFromOid(entry.Id), Mode: entry.Filemode})
		case git2go.ObjectTree:
			sub, err := repo.LookupTree(HashFromOid(entry.Id))
			if err != nil {
				return err
			}

			walkErr := walkTree(repo, sub, full, files)
			sub.Free()

			if walkErr != nil {
				return walkErr
			}
		default:
			// Submodules (commits) are not part of the tree contents.
		}
	}

	return nil
}

// Free releases the tree resources.
func (t *Tree) Free() {
	if t.tree != nil {
		t.tree.Free()
		t.tree = nil
	}
}

// TreeEntry wraps a libgit2 tree entry.
type TreeEntry struct {
	entry *git2go.TreeEntry
}

// Name returns the entry name.
func (e *TreeEntry) Name() string {
	return e.entry.Name
}

// Hash returns the entry object hash.
func (e *TreeEntry) Hash() Hash {
	return HashFromOid(e.entry.Id)
}

// Type returns the entry type.
func (e *TreeEntry) Type() git2go.ObjectType {
	return e.entry.Type
}
