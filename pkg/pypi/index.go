package pypi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// ErrDuplicateArtifact is returned when one project lists the same filename twice.
var ErrDuplicateArtifact = errors.New("duplicate artifact")

// Artifact is one distribution file held by the index. Immutable after load.
type Artifact struct {
	Filename string
	Project  string
	Content  []byte
	SHA256   string
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int64 { return int64(len(a.Content)) }

// Index is the immutable seed snapshot served by Server. Concurrent readers
// need no locking because nothing mutates it after LoadIndex returns.
type Index struct {
	projects map[string][]*Artifact
	files    map[string]map[string]*Artifact
	bytes    int64
}

// NewIndex builds an index from already loaded artifacts.
func NewIndex(artifacts []*Artifact) (*Index, error) {
	idx := &Index{
		projects: make(map[string][]*Artifact),
		files:    make(map[string]map[string]*Artifact),
	}

	for _, art := range artifacts {
		project := NormalizeName(art.Project)

		byName, ok := idx.files[project]
		if !ok {
			byName = make(map[string]*Artifact)
			idx.files[project] = byName
		}

		if _, dup := byName[art.Filename]; dup {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateArtifact, project, art.Filename)
		}

		byName[art.Filename] = art
		idx.projects[project] = append(idx.projects[project], art)
		idx.bytes += art.Size()
	}

	for _, list := range idx.projects {
		sort.Slice(list, func(i, j int) bool { return list[i].Filename < list[j].Filename })
	}

	return idx, nil
}

// Projects returns the normalized project names in sorted order.
func (idx *Index) Projects() []string {
	names := make([]string, 0, len(idx.projects))
	for name := range idx.projects {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Artifacts returns the artifacts of a normalized project, sorted by filename.
func (idx *Index) Artifacts(project string) ([]*Artifact, bool) {
	list, ok := idx.projects[project]

	return list, ok
}

// Lookup finds one artifact of a normalized project.
func (idx *Index) Lookup(project, filename string) (*Artifact, bool) {
	art, ok := idx.files[project][filename]

	return art, ok
}

// Len returns the number of artifacts.
func (idx *Index) Len() int {
	n := 0
	for _, list := range idx.projects {
		n += len(list)
	}

	return n
}

// Bytes returns the total artifact payload size.
func (idx *Index) Bytes() int64 { return idx.bytes }

type pendingFile struct {
	path    string
	project string
}

// LoadIndex reads every distribution file under dir. Files directly in dir are
// grouped by the project parsed from their filename; files in dir/<project>/
// are grouped by the directory name. Hidden entries and files with unknown
// extensions are skipped. An empty dir yields an empty index.
func LoadIndex(ctx context.Context, dir string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pending, err := scanSeedDir(dir, logger)
	if err != nil {
		return nil, err
	}

	artifacts := make([]*Artifact, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, pf := range pending {
		g.Go(func() error {
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}

			art, readErr := readArtifact(pf)
			if readErr != nil {
				return readErr
			}

			artifacts[i] = art

			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return nil, fmt.Errorf("load index %s: %w", dir, waitErr)
	}

	idx, err := NewIndex(artifacts)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", dir, err)
	}

	if idx.Len() == 0 {
		logger.WarnContext(ctx, "package index seed directory holds no artifacts", "dir", dir)
	} else {
		logger.InfoContext(ctx, "package index loaded",
			"dir", dir,
			"projects", len(idx.projects),
			"artifacts", idx.Len(),
			"size", humanize.Bytes(uint64(idx.Bytes())),
		)
	}

	return idx, nil
}

func scanSeedDir(dir string, logger *slog.Logger) ([]pendingFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}

	var pending []pendingFile

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		full := filepath.Join(dir, name)

		if entry.IsDir() {
			inner, innerErr := scanProjectDir(full, name, logger)
			if innerErr != nil {
				return nil, innerErr
			}

			pending = append(pending, inner...)

			continue
		}

		project, nameErr := ProjectFromFilename(name)
		if nameErr != nil {
			logger.Debug("skipping non-distribution file", "path", full)

			continue
		}

		pending = append(pending, pendingFile{path: full, project: project})
	}

	return pending, nil
}

func scanProjectDir(dir, project string, logger *slog.Logger) ([]pendingFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read project dir: %w", err)
	}

	var pending []pendingFile

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		if !IsArtifact(name) {
			logger.Debug("skipping non-distribution file", "path", filepath.Join(dir, name))

			continue
		}

		pending = append(pending, pendingFile{path: filepath.Join(dir, name), project: project})
	}

	return pending, nil
}

func readArtifact(pf pendingFile) (*Artifact, error) {
	data, err := os.ReadFile(pf.path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	sum := sha256.Sum256(data)

	return &Artifact{
		Filename: filepath.Base(pf.path),
		Project:  pf.project,
		Content:  data,
		SHA256:   hex.EncodeToString(sum[:]),
	}, nil
}
