package config

// Repository defaults.
const (
	DefaultRepositoryPath = "."
	DefaultBranch         = "main"
	DefaultBenchmarkDir   = "benchmarks"
	DefaultManifest       = "pyproject.toml"
	DefaultGroup          = "benchmark"
)

// Run defaults.
const (
	DefaultSubset = "fast"
	DefaultFormat = "text"
	DefaultPython = "python3"
)

// Index defaults.
const (
	DefaultIndexAddr = "127.0.0.1:0"
	// DefaultPublicIndex backs a seed index for requirements it does not hold.
	DefaultPublicIndex = "https://pypi.org/simple/"
)

// Observability defaults.
const (
	DefaultLogLevel    = "info"
	DefaultSampleRatio = 1.0
)
