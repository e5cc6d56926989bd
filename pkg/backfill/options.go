package backfill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/manifest"
)

// ErrInvalidOptions is returned when Options fail validation.
var ErrInvalidOptions = errors.New("invalid backfill options")

// Defaults.
const (
	DefaultBranch       = "main"
	DefaultBenchmarkDir = "benchmarks"
	DefaultManifestPath = "pyproject.toml"
)

var optionsValidate = validator.New(validator.WithRequiredStructEnabled())

// Options describe one backfill run.
type Options struct {
	RepoPath string `validate:"required"`
	// From and To are any revisions libgit2 can resolve; both inclusive.
	From string `validate:"required"`
	To   string `validate:"required"`
	// Branch is where the benchmark suite and its manifest are read from.
	Branch       string         `validate:"required"`
	Subset       harness.Subset `validate:"oneof=fast full"`
	BenchmarkDir string         `validate:"required"`
	ManifestPath string         `validate:"required"`
	Group        string         `validate:"required"`
	// WorkDir holds the disposable per-revision environment.
	WorkDir        string   `validate:"required"`
	IndexURL       string   `validate:"omitempty,url"`
	ExtraIndexURLs []string `validate:"dive,url"`
	FirstParent    bool
	// Resume restores finished revisions from the journal in JournalDir.
	Resume     bool
	JournalDir string `validate:"required_if=Resume true"`
}

// DefaultOptions returns Options with every default filled in.
func DefaultOptions() Options {
	return Options{
		Branch:       DefaultBranch,
		Subset:       harness.SubsetFast,
		BenchmarkDir: DefaultBenchmarkDir,
		ManifestPath: DefaultManifestPath,
		Group:        manifest.DefaultGroup,
	}
}

// Validate checks every field and reports all violations at once.
func (o Options) Validate() error {
	err := optionsValidate.Struct(o)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, ", "))
}
