// Package config loads benchfill settings from a YAML file and BENCHFILL_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/benchfill/pkg/harness"
	"github.com/Sumatoshi-tech/benchfill/pkg/report"
)

// Sentinel validation errors.
var (
	ErrInvalidSubset      = errors.New("invalid benchmark subset")
	ErrInvalidFormat      = errors.New("invalid report format")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidSampleRatio = errors.New("trace sample ratio must be within [0, 1]")
	ErrIncompleteInflux   = errors.New("influx sink needs url, org and bucket")
)

// File lookup.
const (
	configName = ".benchfill"
	envPrefix  = "BENCHFILL"
)

// Config holds all benchfill settings. Command-line flags override it.
type Config struct {
	Repository RepositoryConfig `mapstructure:"repository"`
	Run        RunConfig        `mapstructure:"run"`
	Index      IndexConfig      `mapstructure:"index"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// RepositoryConfig locates the project and its benchmark suite.
type RepositoryConfig struct {
	Path         string `mapstructure:"path"`
	Branch       string `mapstructure:"branch"`
	BenchmarkDir string `mapstructure:"benchmark_dir"`
	Manifest     string `mapstructure:"manifest"`
	Group        string `mapstructure:"group"`
}

// RunConfig controls a backfill run.
type RunConfig struct {
	Subset      string `mapstructure:"subset"`
	WorkDir     string `mapstructure:"work_dir"`
	JournalDir  string `mapstructure:"journal_dir"`
	FirstParent bool   `mapstructure:"first_parent"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Python      string `mapstructure:"python"`
}

// IndexConfig configures package resolution.
type IndexConfig struct {
	// SeedDir, when set, is served by a local index for the run.
	SeedDir   string   `mapstructure:"seed_dir"`
	Addr      string   `mapstructure:"addr"`
	URL       string   `mapstructure:"url"`
	ExtraURLs []string `mapstructure:"extra_urls"`
	// Offline keeps a seeded run from falling back to the public index.
	Offline   bool     `mapstructure:"offline"`
}

// ExtraIndexes returns the indexes pip may consult besides the primary one.
// A served seed directory only holds what was seeded, so unless Offline is
// set the public index stays reachable for the remaining runtime requirements.
func (c IndexConfig) ExtraIndexes() []string {
	switch {
	case len(c.ExtraURLs) > 0:
		return c.ExtraURLs
	case c.SeedDir != "" && !c.Offline:
		return []string{DefaultPublicIndex}
	default:
		return nil
	}
}

// SinksConfig lists result stores.
type SinksConfig struct {
	SQLite string       `mapstructure:"sqlite"`
	Files  []string     `mapstructure:"files"`
	Influx InfluxConfig `mapstructure:"influx"`
}

// InfluxConfig locates an InfluxDB bucket. An empty URL disables it.
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OpenTelemetry and Prometheus settings.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	// OTLPHeaders is "k1=v1,k2=v2", the OTEL_EXPORTER_OTLP_HEADERS format.
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// LoadConfig loads configuration from configPath, or from .benchfill.yaml in
// the working directory or home directory when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("repository.path", DefaultRepositoryPath)
	viperCfg.SetDefault("repository.branch", DefaultBranch)
	viperCfg.SetDefault("repository.benchmark_dir", DefaultBenchmarkDir)
	viperCfg.SetDefault("repository.manifest", DefaultManifest)
	viperCfg.SetDefault("repository.group", DefaultGroup)

	viperCfg.SetDefault("run.subset", DefaultSubset)
	viperCfg.SetDefault("run.work_dir", "")
	viperCfg.SetDefault("run.journal_dir", "")
	viperCfg.SetDefault("run.first_parent", false)
	viperCfg.SetDefault("run.format", DefaultFormat)
	viperCfg.SetDefault("run.output", "")
	viperCfg.SetDefault("run.python", DefaultPython)

	viperCfg.SetDefault("index.seed_dir", "")
	viperCfg.SetDefault("index.addr", DefaultIndexAddr)
	viperCfg.SetDefault("index.url", "")
	viperCfg.SetDefault("index.extra_urls", []string{})
	viperCfg.SetDefault("index.offline", false)

	viperCfg.SetDefault("sinks.sqlite", "")
	viperCfg.SetDefault("sinks.files", []string{})
	viperCfg.SetDefault("sinks.influx.url", "")
	viperCfg.SetDefault("sinks.influx.token", "")
	viperCfg.SetDefault("sinks.influx.org", "")
	viperCfg.SetDefault("sinks.influx.bucket", "")

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.json", false)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("telemetry.metrics_addr", "")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if _, err := harness.ParseSubset(config.Run.Subset); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSubset, config.Run.Subset)
	}

	if _, err := report.ParseFormat(config.Run.Format); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, config.Run.Format)
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, config.Telemetry.SampleRatio)
	}

	influx := config.Sinks.Influx
	if influx.URL != "" && (influx.Org == "" || influx.Bucket == "") {
		return ErrIncompleteInflux
	}

	return nil
}
