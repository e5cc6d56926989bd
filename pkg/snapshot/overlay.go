package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// OverlayStats describes how far the historical benchmark tree was from the
// snapshot that replaced it.
type OverlayStats struct {
	Historical   bool `json:"historical"    yaml:"historical"` // the revision had its own benchmark dir
	Added        int  `json:"added"         yaml:"added"`
	Replaced     int  `json:"replaced"      yaml:"replaced"`
	Unchanged    int  `json:"unchanged"     yaml:"unchanged"`
	Removed      int  `json:"removed"       yaml:"removed"`
	LinesAdded   int  `json:"lines_added"   yaml:"lines_added"`
	LinesRemoved int  `json:"lines_removed" yaml:"lines_removed"`
}

// Overlay replaces root/<Dir> with the snapshot files. Whatever benchmark code
// the revision carried is removed first, then the written tree is re-read and
// checked against the snapshot digest.
func (s *Snapshot) Overlay(root string) (OverlayStats, error) {
	target := filepath.Join(root, filepath.FromSlash(s.Dir))

	stats, err := s.compare(target)
	if err != nil {
		return stats, err
	}

	err = os.RemoveAll(target)
	if err != nil {
		return stats, fmt.Errorf("remove historical benchmarks: %w", err)
	}

	for _, f := range s.Files {
		writeErr := writeFile(target, f)
		if writeErr != nil {
			return stats, writeErr
		}
	}

	got, err := DigestDir(target)
	if err != nil {
		return stats, err
	}

	if got != s.Digest {
		return stats, fmt.Errorf("%w: got %s, want %s", ErrDigestMismatch, got, s.Digest)
	}

	return stats, nil
}

func writeFile(target string, f File) error {
	dest := filepath.Join(target, filepath.FromSlash(f.Path))

	rel, err := filepath.Rel(target, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, f.Path)
	}

	err = os.MkdirAll(filepath.Dir(dest), dirPerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}

	if f.Symlink {
		err = os.Symlink(string(f.Content), dest)
		if err != nil {
			return fmt.Errorf("link %s: %w", dest, err)
		}

		return nil
	}

	perm := os.FileMode(filePerm)
	if f.Executable {
		perm = execPerm
	}

	err = os.WriteFile(dest, f.Content, perm)
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}

	return nil
}

func (s *Snapshot) compare(target string) (OverlayStats, error) {
	var stats OverlayStats

	_, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		stats.Added = len(s.Files)

		for _, f := range s.Files {
			stats.LinesAdded += countLines(string(f.Content))
		}

		return stats, nil
	}

	if err != nil {
		return stats, fmt.Errorf("stat %s: %w", target, err)
	}

	stats.Historical = true

	old, err := readDir(target)
	if err != nil {
		return stats, err
	}

	oldByPath := make(map[string]File, len(old))
	for _, f := range old {
		oldByPath[f.Path] = f
	}

	dmp := diffmatchpatch.New()

	for _, f := range s.Files {
		prev, ok := oldByPath[f.Path]
		delete(oldByPath, f.Path)

		switch {
		case !ok:
			stats.Added++
			stats.LinesAdded += countLines(string(f.Content))
		case prev.Symlink == f.Symlink && string(prev.Content) == string(f.Content):
			stats.Unchanged++
		default:
			stats.Replaced++

			added, removed := lineDelta(dmp, string(prev.Content), string(f.Content))
			stats.LinesAdded += added
			stats.LinesRemoved += removed
		}
	}

	for _, prev := range oldByPath {
		stats.Removed++
		stats.LinesRemoved += countLines(string(prev.Content))
	}

	return stats, nil
}

func lineDelta(dmp *diffmatchpatch.DiffMatchPatch, before, after string) (int, int) {
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var added, removed int

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}

	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}

	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}

	return n
}
