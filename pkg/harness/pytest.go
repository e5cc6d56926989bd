package harness

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Sumatoshi-tech/benchfill/pkg/command"
	"github.com/Sumatoshi-tech/benchfill/pkg/environment"
)

// Environment variables exported to the benchmark process.
const (
	EnvIndexURL    = "BENCHFILL_INDEX_URL"
	EnvPipIndexURL = "PIP_INDEX_URL"
)

// pytest exit codes that still produce a report.
const (
	exitAllPassed   = 0
	exitTestsFailed = 1
)

const (
	benchmarkJSONName = "benchmark.json"
	junitXMLName      = "junit.xml"
	resultsDirName    = "results"
)

// Pytest runs the suite with pytest and pytest-benchmark inside the
// environment's virtualenv.
type Pytest struct {
	// BenchDir is the suite path relative to the source tree.
	BenchDir string
	// IndexURL is exported so integration benchmarks install from the seed index.
	IndexURL  string
	ExtraArgs []string
	Runner    command.Runner
	Logger    *slog.Logger
}

// Run implements Harness.
func (p *Pytest) Run(ctx context.Context, env *environment.Environment, subset Subset) ([]Result, error) {
	if !env.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, env.State)
	}

	runner := p.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	outDir := filepath.Join(env.Root, resultsDirName)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	jsonPath := filepath.Join(outDir, benchmarkJSONName)
	junitPath := filepath.Join(outDir, junitXMLName)

	cmd := command.Cmd{
		Name: environment.VenvPython(env.VenvDir),
		Args: p.args(subset, jsonPath, junitPath),
		Dir:  env.SourceDir,
	}

	if p.IndexURL != "" {
		cmd.Env = []string{EnvIndexURL + "=" + p.IndexURL, EnvPipIndexURL + "=" + p.IndexURL}
	}

	logger.InfoContext(ctx, "running benchmarks",
		"revision", env.Revision.Hash.Short(),
		"subset", string(subset),
	)

	res, err := runner.Run(ctx, cmd)
	if err != nil && !(errors.Is(err, command.ErrNonZeroExit) && res.ExitCode == exitTestsFailed) {
		return nil, fmt.Errorf("%w: %w", ErrHarnessCrashed, err)
	}

	results, err := collect(jsonPath, junitPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHarnessCrashed, err)
	}

	return results, nil
}

func (p *Pytest) args(subset Subset, jsonPath, junitPath string) []string {
	args := []string{
		"-m", "pytest", p.BenchDir,
		"-p", "no:cacheprovider",
		"--benchmark-json=" + jsonPath,
		"--junitxml=" + junitPath,
	}

	if expr := subset.MarkerExpression(); expr != "" {
		args = append(args, "-m", expr)
	}

	return append(args, p.ExtraArgs...)
}

type benchmarkReport struct {
	Benchmarks []struct {
		Name     string `json:"name"`
		Fullname string `json:"fullname"`
		Stats    struct {
			Min    float64 `json:"min"`
			Max    float64 `json:"max"`
			Mean   float64 `json:"mean"`
			Median float64 `json:"median"`
			StdDev float64 `json:"stddev"`
			Rounds int     `json:"rounds"`
		} `json:"stats"`
	} `json:"benchmarks"`
}

type junitCase struct {
	ClassName string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Failure   *junitOutcome `xml:"failure"`
	Error     *junitOutcome `xml:"error"`
	Skipped   *junitOutcome `xml:"skipped"`
}

type junitOutcome struct {
	Message string `xml:"message,attr"`
}

type junitSuite struct {
	Cases []junitCase `xml:"testcase"`
}

type junitReport struct {
	XMLName xml.Name
	Suites  []junitSuite `xml:"testsuite"`
	Cases   []junitCase  `xml:"testcase"`
}

// collect joins JUnit outcomes with pytest-benchmark stats. Tests without a
// timing entry keep zero stats.
func collect(jsonPath, junitPath string) ([]Result, error) {
	cases, err := readJUnit(junitPath)
	if err != nil {
		return nil, err
	}

	timings, err := readBenchmarkJSON(jsonPath)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Result, len(cases))
	results := make([]*Result, 0, len(cases))

	for _, tc := range cases {
		if tc.Skipped != nil {
			continue
		}

		res := &Result{Test: tc.ClassName + "." + tc.Name, Passed: true}

		switch {
		case tc.Failure != nil:
			res.Passed = false
			res.Message = tc.Failure.Message
		case tc.Error != nil:
			res.Passed = false
			res.Message = tc.Error.Message
		}

		byID[res.Test] = res
		results = append(results, res)
	}

	for _, bench := range timings.Benchmarks {
		id := nodeIDToDotted(bench.Fullname)

		res, ok := byID[id]
		if !ok {
			res = &Result{Test: id, Passed: true}
			byID[id] = res
			results = append(results, res)
		}

		res.Mean = bench.Stats.Mean
		res.StdDev = bench.Stats.StdDev
		res.Median = bench.Stats.Median
		res.Min = bench.Stats.Min
		res.Max = bench.Stats.Max
		res.Rounds = bench.Stats.Rounds
	}

	out := make([]Result, 0, len(results))
	for _, res := range results {
		out = append(out, *res)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Test < out[j].Test })

	return out, nil
}

func readJUnit(path string) ([]junitCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read junit report: %w", err)
	}

	var doc junitReport
	if parseErr := xml.Unmarshal(data, &doc); parseErr != nil {
		return nil, fmt.Errorf("parse junit report: %w", parseErr)
	}

	cases := doc.Cases
	for _, suite := range doc.Suites {
		cases = append(cases, suite.Cases...)
	}

	return cases, nil
}

func readBenchmarkJSON(path string) (benchmarkReport, error) {
	var doc benchmarkReport

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// pytest-benchmark skips the file when no benchmark ran.
		return doc, nil
	}

	if err != nil {
		return doc, fmt.Errorf("read benchmark report: %w", err)
	}

	if parseErr := json.Unmarshal(data, &doc); parseErr != nil {
		return doc, fmt.Errorf("parse benchmark report: %w", parseErr)
	}

	return doc, nil
}

// nodeIDToDotted maps "benchmarks/test_x.py::TestA::test_b[p]" to the JUnit
// form "benchmarks.test_x.TestA.test_b[p]".
func nodeIDToDotted(nodeID string) string {
	file, rest, _ := strings.Cut(nodeID, "::")
	file = strings.TrimSuffix(file, ".py")
	file = strings.ReplaceAll(filepath.ToSlash(file), "/", ".")

	if rest == "" {
		return file
	}

	return file + "." + strings.ReplaceAll(rest, "::", ".")
}
