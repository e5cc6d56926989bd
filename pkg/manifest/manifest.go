// Package manifest reads the dependency declarations of a pyproject manifest
// and extracts the benchmark dependency group used by every backfilled revision.
package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Sentinel errors.
var (
	ErrParse         = errors.New("parse manifest")
	ErrGroupNotFound = errors.New("dependency group not found")
	ErrEmptyGroup    = errors.New("dependency group is empty")
	ErrIncludeGroup  = errors.New("dependency group includes another group")
	ErrBadEntry      = errors.New("unsupported dependency group entry")
)

// Source names where a group declaration was found.
type Source string

// Group declaration styles, in lookup order.
const (
	SourceDependencyGroups     Source = "dependency-groups"
	SourceOptionalDependencies Source = "project.optional-dependencies"
	SourceHatchEnv             Source = "tool.hatch.envs"
)

type pyproject struct {
	Project struct {
		Name                 string              `toml:"name"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	DependencyGroups map[string][]any `toml:"dependency-groups"`
	Tool             struct {
		Hatch struct {
			Envs map[string]struct {
				Dependencies []string `toml:"dependencies"`
			} `toml:"envs"`
		} `toml:"hatch"`
	} `toml:"tool"`
}

// Manifest is a parsed pyproject manifest.
type Manifest struct {
	doc pyproject
}

// Parse decodes a pyproject.toml document.
func Parse(data []byte) (*Manifest, error) {
	var doc pyproject

	err := toml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return &Manifest{doc: doc}, nil
}

// Name returns the declared project name, if any.
func (m *Manifest) Name() string {
	return m.doc.Project.Name
}

// RuntimeDependencies returns [project].dependencies in declaration order.
func (m *Manifest) RuntimeDependencies() []string {
	return cleanList(m.doc.Project.Dependencies)
}

// Group returns the named group from the first declaration style that defines
// it. Groups are never merged across styles.
func (m *Manifest) Group(name string) ([]string, Source, error) {
	if entries, ok := m.doc.DependencyGroups[name]; ok {
		reqs, err := pep735Entries(name, entries)
		if err != nil {
			return nil, SourceDependencyGroups, err
		}

		return reqs, SourceDependencyGroups, nil
	}

	if reqs, ok := m.doc.Project.OptionalDependencies[name]; ok {
		return cleanList(reqs), SourceOptionalDependencies, nil
	}

	if env, ok := m.doc.Tool.Hatch.Envs[name]; ok {
		return cleanList(env.Dependencies), SourceHatchEnv, nil
	}

	return nil, "", fmt.Errorf("%w: %q", ErrGroupNotFound, name)
}

// pep735Entries accepts plain requirement strings only. An include-group table
// would pull in another group, which the extractor must never do.
func pep735Entries(group string, entries []any) ([]string, error) {
	reqs := make([]string, 0, len(entries))

	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			reqs = append(reqs, v)
		case map[string]any:
			if inc, ok := v["include-group"]; ok {
				return nil, fmt.Errorf("%w: %q includes %v", ErrIncludeGroup, group, inc)
			}

			return nil, fmt.Errorf("%w: %v", ErrBadEntry, v)
		default:
			return nil, fmt.Errorf("%w: %v", ErrBadEntry, v)
		}
	}

	return cleanList(reqs), nil
}

// cleanList trims entries and drops blanks and duplicates, keeping first occurrence.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))

	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}

		seen[s] = true
		out = append(out, s)
	}

	return out
}
