package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/expander"
	"github.com/INLOpen/phoneprefix/manifest"
	"github.com/INLOpen/phoneprefix/partition"
)

// PartitionConfig holds partitioning configurations.
type PartitionConfig struct {
	OnMiss string `yaml:"on_miss"` // "error" or "catchall"
}

// ShardSizeWarningConfig sets when a written shard is reported as too large.
type ShardSizeWarningConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

// ShardConfig holds shard file configurations.
type ShardConfig struct {
	Compression       string                 `yaml:"compression"`
	BlockSizeBytes    int                    `yaml:"block_size_bytes"`
	BloomFilterFPRate float64                `yaml:"bloom_filter_fp_rate"`
	Extension         string                 `yaml:"extension"`
	SizeWarning       ShardSizeWarningConfig `yaml:"size_warning"`
}

// ManifestConfig holds manifest configurations.
type ManifestConfig struct {
	Format string `yaml:"format"` // "binary" or "json"
}

// ReportConfig holds build report configurations.
type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"` // Relative paths are resolved against the output directory.
}

// PreflightConfig holds checks made before a run writes anything.
type PreflightConfig struct {
	MinFreeDiskBytes uint64 `yaml:"min_free_disk_bytes"`
}

// LockConfig holds the output directory lock configuration.
type LockConfig struct {
	Timeout string `yaml:"timeout"`
}

// ProgressConfig holds progress reporting configurations.
type ProgressConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LookupConfig holds configurations of the runtime geocoder.
type LookupConfig struct {
	ShardCacheCapacity int `yaml:"shard_cache_capacity"`
	BlockCacheCapacity int `yaml:"block_cache_capacity"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	InputDir        string          `yaml:"input_dir"`
	OutputDir       string          `yaml:"output_dir"`
	ExpandCountries bool            `yaml:"expand_countries"`
	Workers         int             `yaml:"workers"`
	Expansion       expander.Policy `yaml:"expansion"`
	Partition       PartitionConfig `yaml:"partition"`
	Shard           ShardConfig     `yaml:"shard"`
	Manifest        ManifestConfig  `yaml:"manifest"`
	Report          ReportConfig    `yaml:"report"`
	Preflight       PreflightConfig `yaml:"preflight"`
	Lock            LockConfig      `yaml:"lock"`
	Progress        ProgressConfig  `yaml:"progress"`
	Lookup          LookupConfig    `yaml:"lookup"`
	Logging         LoggingConfig   `yaml:"logging"`
	Tracing         TracingConfig   `yaml:"tracing"`
	Debug           DebugConfig     `yaml:"debug"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		InputDir:        "./resources/geocoding",
		OutputDir:       "./build/geocoding",
		ExpandCountries: true,
		Workers:         1,
		Expansion:       expander.DefaultPolicy(),
		Partition: PartitionConfig{
			OnMiss: "error",
		},
		Shard: ShardConfig{
			Compression:       "snappy",
			BlockSizeBytes:    4 * 1024, // 4 KiB
			BloomFilterFPRate: 0.01,
			Extension:         core.DefaultShardExtension,
			SizeWarning: ShardSizeWarningConfig{
				MaxEntries: 50000,
				MaxBytes:   4 * 1024 * 1024, // 4 MiB
			},
		},
		Manifest: ManifestConfig{
			Format: string(manifest.FormatBinary),
		},
		Report: ReportConfig{
			Enabled: true,
			File:    "build-report.yaml",
		},
		Lock: LockConfig{
			Timeout: "5s",
		},
		Progress: ProgressConfig{
			Enabled: true,
		},
		Lookup: LookupConfig{
			ShardCacheCapacity: 64,
			BlockCacheCapacity: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "phoneprefix.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:          false,
			ListenAddress:    "localhost:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
		},
	}
}

// Load reads configuration from an io.Reader.
// Values present in the YAML overwrite the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.InputDir == "" {
		errs = append(errs, errors.New("input_dir must be set"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir must be set"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if err := c.Expansion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("expansion: %w", err))
	}
	if _, err := partition.ParseMissPolicy(c.Partition.OnMiss); err != nil {
		errs = append(errs, fmt.Errorf("partition: %w", err))
	}
	if _, ok := core.ParseCompressionType(c.Shard.Compression); !ok {
		errs = append(errs, fmt.Errorf("shard: unknown compression '%s'", c.Shard.Compression))
	}
	if c.Shard.BlockSizeBytes <= 0 {
		errs = append(errs, errors.New("shard: block_size_bytes must be positive"))
	}
	if c.Shard.BloomFilterFPRate <= 0 || c.Shard.BloomFilterFPRate >= 1 {
		errs = append(errs, fmt.Errorf("shard: bloom_filter_fp_rate must be in (0, 1), got %v", c.Shard.BloomFilterFPRate))
	}
	if !strings.HasPrefix(c.Shard.Extension, ".") || strings.ContainsAny(c.Shard.Extension, `/\`) {
		errs = append(errs, fmt.Errorf("shard: extension '%s' must start with a dot and contain no path separator", c.Shard.Extension))
	}
	if _, err := manifest.ParseFormat(c.Manifest.Format); err != nil {
		errs = append(errs, fmt.Errorf("manifest: %w", err))
	}
	if c.Report.Enabled && c.Report.File == "" {
		errs = append(errs, errors.New("report: file must be set when the report is enabled"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "none":
	case "file":
		if c.Logging.File == "" {
			errs = append(errs, errors.New("logging: file must be set when output is 'file'"))
		}
	default:
		errs = append(errs, fmt.Errorf("logging: unknown output '%s'", c.Logging.Output))
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		errs = append(errs, fmt.Errorf("tracing: unknown protocol '%s'", c.Tracing.Protocol))
	}
	if c.Lookup.ShardCacheCapacity < 0 || c.Lookup.BlockCacheCapacity < 0 {
		errs = append(errs, errors.New("lookup: cache capacities must not be negative"))
	}
	return errors.Join(errs...)
}

// ExpansionPolicy returns the configured expansion policy.
func (c *Config) ExpansionPolicy() expander.Policy {
	return c.Expansion
}

// ParseLevel maps a logging level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level '%s'", level)
	}
}
