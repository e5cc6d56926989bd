// Package harness runs the overlaid benchmark suite inside a ready
// environment and turns its output into per-test timing results.
package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
)

// Sentinel errors.
var (
	ErrUnknownSubset  = errors.New("unknown benchmark subset")
	ErrHarnessCrashed = errors.New("benchmark harness crashed")
	ErrNotReady       = errors.New("environment is not ready")
)

// Subset selects which benchmarks run.
type Subset string

// Subsets.
const (
	// SubsetFast excludes integration and slow benchmarks.
	SubsetFast Subset = "fast"
	// SubsetFull runs everything.
	SubsetFull Subset = "full"
)

const fastMarkerExpr = "not integration and not slow"

// ParseSubset validates a subset name. Empty means SubsetFast.
func ParseSubset(s string) (Subset, error) {
	switch Subset(s) {
	case "", SubsetFast:
		return SubsetFast, nil
	case SubsetFull:
		return SubsetFull, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubset, s)
	}
}

// MarkerExpression returns the pytest -m expression, empty for the full suite.
func (s Subset) MarkerExpression() string {
	if s == SubsetFull {
		return ""
	}

	return fastMarkerExpr
}

// Result is one benchmark's timing and correctness outcome for one revision.
// Times are in seconds.
type Result struct {
	Test    string  `json:"test"              yaml:"test"`
	Mean    float64 `json:"mean"              yaml:"mean"`
	StdDev  float64 `json:"stddev"            yaml:"stddev"`
	Median  float64 `json:"median"            yaml:"median"`
	Min     float64 `json:"min"               yaml:"min"`
	Max     float64 `json:"max"               yaml:"max"`
	Rounds  int     `json:"rounds"            yaml:"rounds"`
	Passed  bool    `json:"passed"            yaml:"passed"`
	Message string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// Harness executes the selected subset in env. An error means the run itself
// broke; failing assertions are reported as results with Passed false.
type Harness interface {
	Run(ctx context.Context, env *environment.Environment, subset Subset) ([]Result, error)
}
