// Package snapshot captures the current benchmark suite from one branch and
// lays it over historical source trees, byte for byte.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/benchfill/pkg/gitlib"
)

// Sentinel errors.
var (
	ErrNoBenchmarks   = errors.New("benchmark directory missing on source branch")
	ErrNoManifest     = errors.New("manifest missing on source branch")
	ErrDigestMismatch = errors.New("overlaid benchmark tree does not match snapshot")
	ErrUnsafePath     = errors.New("snapshot path escapes benchmark directory")
)

// File permissions for overlaid files.
const (
	dirPerm  = 0o755
	filePerm = 0o644
	execPerm = 0o755
)

// File is one benchmark file as stored on the source branch. For a symlink
// Content is the link target, as git stores it.
type File struct {
	Path       string // relative to the benchmark directory, slash separated
	Executable bool
	Symlink    bool
	Content    []byte
}

// Snapshot is the benchmark suite plus the manifest it was declared with,
// frozen at one commit of the source branch.
type Snapshot struct {
	Branch   string
	Commit   gitlib.Hash
	Dir      string
	Files    []File
	Manifest []byte
	Digest   string
}

// Take reads benchDir and manifestPath from the tip of branch.
func Take(repo *gitlib.Repository, branch, benchDir, manifestPath string) (*Snapshot, error) {
	benchDir = strings.Trim(path.Clean(filepath.ToSlash(benchDir)), "/")

	hash, err := repo.Resolve(branch)
	if err != nil {
		return nil, fmt.Errorf("resolve source branch: %w", err)
	}

	commit, err := repo.LookupCommit(hash)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	defer tree.Free()

	entries, err := tree.FilesUnder(benchDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s@%s: %w", ErrNoBenchmarks, benchDir, branch, err)
	}

	files := make([]File, 0, len(entries))

	for _, entry := range entries {
		blob, lookupErr := repo.LookupBlob(entry.Hash)
		if lookupErr != nil {
			return nil, lookupErr
		}

		files = append(files, File{
			Path:       strings.TrimPrefix(entry.Path, benchDir+"/"),
			Executable: entry.Mode == git2go.FilemodeBlobExecutable,
			Symlink:    entry.Mode == git2go.FilemodeLink,
			Content:    blob.Contents(),
		})

		blob.Free()
	}

	manifestData, err := tree.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s@%s: %w", ErrNoManifest, manifestPath, branch, err)
	}

	return New(branch, hash, benchDir, files, manifestData), nil
}

// New builds a snapshot from already loaded files and computes its digest.
func New(branch string, commit gitlib.Hash, dir string, files []File, manifest []byte) *Snapshot {
	sorted := make([]File, len(files))
	copy(sorted, files)

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	return &Snapshot{
		Branch:   branch,
		Commit:   commit,
		Dir:      dir,
		Files:    sorted,
		Manifest: manifest,
		Digest:   digest(sorted),
	}
}

// digest hashes sorted (path, kind, content) triples. Exec bits are left out
// because filesystems without them would otherwise never match.
func digest(files []File) string {
	h := sha256.New()

	for _, f := range files {
		kind := byte('f')
		if f.Symlink {
			kind = 'l'
		}

		h.Write([]byte(f.Path))
		h.Write([]byte{0, kind, 0})
		h.Write(f.Content)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// DigestDir computes the snapshot digest of a directory on disk.
func DigestDir(dir string) (string, error) {
	files, err := readDir(dir)
	if err != nil {
		return "", err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return digest(files), nil
}

func readDir(dir string) ([]File, error) {
	var files []File

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return relErr
		}

		// Links are recorded by target and never followed, so links to
		// directories and dangling links read like any other entry.
		if d.Type()&fs.ModeSymlink != 0 {
			target, linkErr := os.Readlink(p)
			if linkErr != nil {
				return linkErr
			}

			files = append(files, File{Path: filepath.ToSlash(rel), Symlink: true, Content: []byte(target)})

			return nil
		}

		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return readErr
		}

		files = append(files, File{Path: filepath.ToSlash(rel), Content: data})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	return files, nil
}
