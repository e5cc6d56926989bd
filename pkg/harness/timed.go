package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/benchfill/pkg/alg/stats"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
)

const defaultRounds = 5

// Timed calls fn rounds times and summarises the wall time of each call.
// The first error stops timing and marks the result failed.
func Timed(name string, fn func() error, rounds int) Result {
	if rounds <= 0 {
		rounds = defaultRounds
	}

	samples := make([]float64, 0, rounds)

	for range rounds {
		start := time.Now()
		err := fn()
		elapsed := time.Since(start).Seconds()

		if err != nil {
			return Result{Test: name, Rounds: len(samples), Message: err.Error()}
		}

		samples = append(samples, elapsed)
	}

	mean, stddev := stats.MeanStdDev(samples)

	return Result{
		Test:   name,
		Mean:   mean,
		StdDev: stddev,
		Median: stats.Median(samples),
		Min:    stats.Min(samples),
		Max:    stats.Max(samples),
		Rounds: len(samples),
		Passed: true,
	}
}

// Case is one in-process benchmark for FuncHarness.
type Case struct {
	Name        string
	Integration bool
	Slow        bool
	// Fn receives the environment it runs in.
	Fn func(env *environment.Environment) error
}

// FuncHarness times Go callables in-process. It serves embedders that
// benchmark something other than a Python suite.
type FuncHarness struct {
	Cases  []Case
	Rounds int
}

// Run implements Harness.
func (h *FuncHarness) Run(ctx context.Context, env *environment.Environment, subset Subset) ([]Result, error) {
	if !env.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, env.State)
	}

	results := make([]Result, 0, len(h.Cases))

	for _, c := range h.Cases {
		if subset == SubsetFast && (c.Integration || c.Slow) {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHarnessCrashed, err)
		}

		results = append(results, Timed(c.Name, func() error { return c.Fn(env) }, h.Rounds))
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Test < results[j].Test })

	return results, nil
}
