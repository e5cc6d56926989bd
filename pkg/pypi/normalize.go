// Package pypi serves a read-only PEP 503 simple repository from a directory
// of pre-seeded distribution files, so historical installs resolve benchmark
// dependencies that were never published for older revisions.
package pypi

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownArtifact is returned for filenames that are not a wheel or sdist.
var ErrUnknownArtifact = errors.New("not a distribution artifact")

var separatorRun = regexp.MustCompile(`[-_.]+`)

// sdistExtensions are recognised source distribution suffixes.
var sdistExtensions = []string{".tar.gz", ".tar.bz2", ".tgz", ".zip"}

const wheelExtension = ".whl"

// NormalizeName applies PEP 503 normalization: lowercase, with every run of
// "-", "_" and "." collapsed to a single "-".
func NormalizeName(name string) string {
	return strings.ToLower(separatorRun.ReplaceAllString(name, "-"))
}

// IsArtifact reports whether filename has a wheel or sdist extension.
func IsArtifact(filename string) bool {
	if strings.HasSuffix(filename, wheelExtension) {
		return true
	}

	_, ok := trimSdistExtension(filename)

	return ok
}

// ProjectFromFilename extracts the project name from a distribution filename.
// Wheels carry the name up to the first "-"; sdists up to the last one.
func ProjectFromFilename(filename string) (string, error) {
	if stem, ok := strings.CutSuffix(filename, wheelExtension); ok {
		name, _, found := strings.Cut(stem, "-")
		if !found || name == "" {
			return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, filename)
		}

		return name, nil
	}

	stem, ok := trimSdistExtension(filename)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, filename)
	}

	idx := strings.LastIndex(stem, "-")
	if idx <= 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownArtifact, filename)
	}

	return stem[:idx], nil
}

func trimSdistExtension(filename string) (string, bool) {
	lower := strings.ToLower(filename)

	for _, ext := range sdistExtensions {
		if strings.HasSuffix(lower, ext) {
			return filename[:len(filename)-len(ext)], true
		}
	}

	return "", false
}
