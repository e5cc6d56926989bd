package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/benchfill/pkg/persist"
)

// MetadataVersion is the current journal format version.
const MetadataVersion = 1

// Sentinel errors for journal validation.
var (
	ErrNoJournal        = errors.New("no journal")
	ErrVersionMismatch  = errors.New("journal version mismatch")
	ErrRepoPathMismatch = errors.New("repo path mismatch")
	ErrKeyMismatch      = errors.New("journal was written for a different run")
	ErrStale            = errors.New("journal is older than the retention window")
)

// DefaultDir returns the default journal directory (~/.benchfill/journals).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".benchfill", "journals")
}

// RepoHash computes a short hash of the repository path for use as directory name.
func RepoHash(repoPath string) string {
	h := sha256.Sum256([]byte(repoPath))

	return hex.EncodeToString(h[:8]) // First 8 bytes = 16 hex chars.
}

// DefaultMaxAge bounds how old a journal may be and still resume.
const DefaultMaxAge = 7 * 24 * time.Hour

// Directory permissions for journals.
const dirPerm = 0o750

const journalBasename = "journal"

// Manager stores one journal per repository.
type Manager struct {
	BaseDir  string
	RepoPath string
	RepoHash string
	MaxAge   time.Duration
	Codec    persist.Codec
}

// NewManager creates a journal manager for repoPath.
func NewManager(baseDir, repoPath string) *Manager {
	return &Manager{
		BaseDir:  baseDir,
		RepoPath: repoPath,
		RepoHash: RepoHash(repoPath),
		MaxAge:   DefaultMaxAge,
		Codec:    persist.NewJSONCodec(),
	}
}

// Dir returns the directory for this repository's journal.
func (m *Manager) Dir() string {
	return filepath.Join(m.BaseDir, m.RepoHash)
}

// Path returns the journal file path.
func (m *Manager) Path() string {
	return filepath.Join(m.Dir(), journalBasename+m.Codec.Extension())
}

// Exists returns true if a journal file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())

	return err == nil
}

// Clear removes the journal for the current repository.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.Dir())
	if err != nil {
		return fmt.Errorf("remove journal dir: %w", err)
	}

	return nil
}

// Save writes the journal atomically, stamping version, repo and times.
func Save[T any](m *Manager, journal Journal[T]) error {
	err := os.MkdirAll(m.Dir(), dirPerm)
	if err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	journal.Metadata.Version = MetadataVersion
	journal.Metadata.RepoPath = m.RepoPath
	journal.Metadata.RepoHash = m.RepoHash
	journal.Metadata.UpdatedAt = now

	if journal.Metadata.CreatedAt == "" {
		journal.Metadata.CreatedAt = now
	}

	err = persist.NewPersister[Journal[T]](journalBasename, m.Codec).Save(m.Dir(), &journal)
	if err != nil {
		return fmt.Errorf("save journal: %w", err)
	}

	return nil
}

// Load reads the journal and checks it belongs to this repository and key.
func Load[T any](m *Manager, key Key) (*Journal[T], error) {
	if !m.Exists() {
		return nil, ErrNoJournal
	}

	journal, err := persist.NewPersister[Journal[T]](journalBasename, m.Codec).Load(m.Dir())
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	err = m.validate(journal.Metadata, key)
	if err != nil {
		return nil, err
	}

	return journal, nil
}

func (m *Manager) validate(meta Metadata, key Key) error {
	if meta.Version != MetadataVersion {
		return fmt.Errorf("%w: journal has %d, want %d", ErrVersionMismatch, meta.Version, MetadataVersion)
	}

	if meta.RepoPath != m.RepoPath {
		return fmt.Errorf("%w: journal has %q, got %q", ErrRepoPathMismatch, meta.RepoPath, m.RepoPath)
	}

	if meta.Key != key {
		return fmt.Errorf("%w: journal has %+v, got %+v", ErrKeyMismatch, meta.Key, key)
	}

	if m.MaxAge > 0 {
		updated, parseErr := time.Parse(time.RFC3339, meta.UpdatedAt)
		if parseErr == nil && time.Since(updated) > m.MaxAge {
			return fmt.Errorf("%w: last updated %s", ErrStale, meta.UpdatedAt)
		}
	}

	return nil
}
