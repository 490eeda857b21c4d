package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/spmdbench/spmdbench/internal/harness"
	"github.com/spmdbench/spmdbench/internal/result"
)

// Config holds all application configuration
type Config struct {
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Output    OutputConfig    `mapstructure:"output"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Hooks     HooksConfig     `mapstructure:"hooks"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BenchmarkConfig holds the arguments shared by every benchmark
type BenchmarkConfig struct {
	Size             int                `mapstructure:"size" validate:"min=1"`
	Local            int                `mapstructure:"local" validate:"min=1"`
	NumRuns          int                `mapstructure:"num_runs" validate:"min=1"`
	Verification     VerificationConfig `mapstructure:"verification"`
	NoNDRangeKernels bool               `mapstructure:"no_ndrange_kernels"`
	Params           map[string]string  `mapstructure:"params"`
	Select           []string           `mapstructure:"select"`
}

// VerificationConfig holds the verification window
type VerificationConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Begin   []int `mapstructure:"begin" validate:"dive,min=0"`
	Range   []int `mapstructure:"range" validate:"dive,min=0"`
}

// OutputConfig selects the result sinks
type OutputConfig struct {
	Stdout bool   `mapstructure:"stdout"`
	CSV    string `mapstructure:"csv"` // empty disables the CSV file
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RuntimeConfig holds the local SPMD runtime configuration
type RuntimeConfig struct {
	Rank      int  `mapstructure:"rank"`                            // negative detects from the launcher
	WorldSize int  `mapstructure:"world_size" validate:"min=0"`     // zero detects from the launcher
	Workers   int  `mapstructure:"workers" validate:"min=0"`        // zero uses GOMAXPROCS
	Profiling bool `mapstructure:"profiling"`
}

// HooksConfig selects the instrumentation attached to every benchmark
type HooksConfig struct {
	GPUPower   GPUPowerConfig `mapstructure:"gpu_power"`
	PhaseTimer ToggleConfig   `mapstructure:"phase_timer"`
	Prometheus ToggleConfig   `mapstructure:"prometheus"`
}

// ToggleConfig enables or disables a hook
type ToggleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// GPUPowerConfig configures GPU power sampling
type GPUPowerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"min=0"`
}

// MetricsConfig holds the Prometheus endpoint used during runs
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the endpoint
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// UploadConfig holds the SFTP collector the CSV file is uploaded to
type UploadConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	User       string        `mapstructure:"user" validate:"required_with=Host"`
	KeyFile    string        `mapstructure:"key_file" validate:"required_with=Host"`
	RemoteDir  string        `mapstructure:"remote_dir"`
	KnownHosts string        `mapstructure:"known_hosts"` // empty skips host key checks
	Timeout    time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// Enabled reports whether an upload target is configured
func (u UploadConfig) Enabled() bool {
	return u.Host != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Flag names read directly from the command line rather than through viper
const (
	FlagNoVerification    = "no-verification"
	FlagVerificationBegin = "verification-begin"
	FlagVerificationRange = "verification-range"
	FlagParam             = "param"
)

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"size":                       "benchmark.size",
	"local":                      "benchmark.local",
	"num-runs":                   "benchmark.num_runs",
	harness.FlagNoNDRangeKernels: "benchmark.no_ndrange_kernels",
	"select":                     "benchmark.select",
	"csv":                        "output.csv",
	"stdout":                     "output.stdout",
	"database":                   "database.path",
	"rank":                       "runtime.rank",
	"world-size":                 "runtime.world_size",
	"workers":                    "runtime.workers",
	"profiling":                  "runtime.profiling",
	"gpu-power":                  "hooks.gpu_power.enabled",
	"phase-timer":                "hooks.phase_timer.enabled",
	"metrics-listen":             "metrics.listen",
	"host":                       "server.host",
	"port":                       "server.port",
	"log-level":                  "logging.level",
	"log-format":                 "logging.format",
}

// Load loads configuration from file, environment and flags. Flags take
// precedence over the environment, which takes precedence over the file.
// flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flags != nil {
		if err := applyFlags(&cfg, flags); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from .env file if it exists
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Benchmark defaults
	v.SetDefault("benchmark.size", 3072)
	v.SetDefault("benchmark.local", 256)
	v.SetDefault("benchmark.num_runs", 5)
	v.SetDefault("benchmark.verification.enabled", true)
	v.SetDefault("benchmark.verification.begin", []int{0, 0, 0})
	v.SetDefault("benchmark.verification.range", []int{1, 1, 1})
	v.SetDefault("benchmark.no_ndrange_kernels", false)
	v.SetDefault("benchmark.params", map[string]string{})
	v.SetDefault("benchmark.select", []string{})

	// Output defaults
	v.SetDefault("output.stdout", true)
	v.SetDefault("output.csv", "")

	v.SetDefault("database.path", "./data/spmdbench.db")

	// Runtime defaults
	v.SetDefault("runtime.rank", -1)
	v.SetDefault("runtime.world_size", 0)
	v.SetDefault("runtime.workers", 0)
	v.SetDefault("runtime.profiling", false)

	// Hook defaults
	v.SetDefault("hooks.gpu_power.enabled", false)
	v.SetDefault("hooks.gpu_power.sample_interval", 100*time.Millisecond)
	v.SetDefault("hooks.phase_timer.enabled", false)
	v.SetDefault("hooks.prometheus.enabled", true)

	v.SetDefault("metrics.listen", "")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Upload defaults
	v.SetDefault("upload.port", 22)
	v.SetDefault("upload.remote_dir", "/var/lib/spmdbench/results")
	v.SetDefault("upload.timeout", 30*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// BindEnv errors are non-fatal but should be logged
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Benchmark arguments
	bindEnv("benchmark.size", "SPMDBENCH_SIZE")
	bindEnv("benchmark.local", "SPMDBENCH_LOCAL")
	bindEnv("benchmark.num_runs", "SPMDBENCH_NUM_RUNS")
	bindEnv("benchmark.verification.enabled", "SPMDBENCH_VERIFICATION")
	bindEnv("benchmark.no_ndrange_kernels", "SPMDBENCH_NO_NDRANGE_KERNELS")

	// Output
	bindEnv("output.csv", "SPMDBENCH_CSV")

	// Runtime
	bindEnv("runtime.rank", "SPMDBENCH_RANK")
	bindEnv("runtime.world_size", "SPMDBENCH_WORLD_SIZE")
	bindEnv("runtime.workers", "SPMDBENCH_WORKERS")
	bindEnv("runtime.profiling", "SPMDBENCH_PROFILING")

	bindEnv("metrics.listen", "SPMDBENCH_METRICS_LISTEN")

	// Upload target
	bindEnv("upload.host", "SPMDBENCH_UPLOAD_HOST")
	bindEnv("upload.user", "SPMDBENCH_UPLOAD_USER")
	bindEnv("upload.key_file", "SPMDBENCH_UPLOAD_KEY_FILE")
	bindEnv("upload.known_hosts", "SPMDBENCH_UPLOAD_KNOWN_HOSTS")

	bindEnv("database.path", "DATABASE_PATH")

	// Server config
	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// applyFlags handles flags whose value does not map onto a single key
func applyFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed(FlagNoVerification) {
		off, err := flags.GetBool(FlagNoVerification)
		if err != nil {
			return fmt.Errorf("failed to read flag %s: %w", FlagNoVerification, err)
		}
		if off {
			cfg.Benchmark.Verification.Enabled = false
		}
	}

	if flags.Changed(FlagVerificationBegin) {
		begin, err := flags.GetIntSlice(FlagVerificationBegin)
		if err != nil {
			return fmt.Errorf("failed to read flag %s: %w", FlagVerificationBegin, err)
		}
		cfg.Benchmark.Verification.Begin = begin
	}

	if flags.Changed(FlagVerificationRange) {
		extent, err := flags.GetIntSlice(FlagVerificationRange)
		if err != nil {
			return fmt.Errorf("failed to read flag %s: %w", FlagVerificationRange, err)
		}
		cfg.Benchmark.Verification.Range = extent
	}

	if flags.Changed(FlagParam) {
		params, err := flags.GetStringToString(FlagParam)
		if err != nil {
			return fmt.Errorf("failed to read flag %s: %w", FlagParam, err)
		}
		if cfg.Benchmark.Params == nil {
			cfg.Benchmark.Params = make(map[string]string, len(params))
		}
		for k, val := range params {
			cfg.Benchmark.Params[k] = val
		}
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	ver := c.Benchmark.Verification
	if len(ver.Begin) != len(ver.Range) {
		problems = append(problems, fmt.Sprintf(
			"verification begin has %d dimensions but range has %d", len(ver.Begin), len(ver.Range)))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	// Strip the root type name
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// BenchmarkArgs builds the harness arguments. The arguments are returned even
// when they fail validation.
func (c *Config) BenchmarkArgs(consumer result.Consumer) (harness.Args, error) {
	ver := c.Benchmark.Verification
	args := harness.Args{
		ProblemSize: c.Benchmark.Size,
		LocalSize:   c.Benchmark.Local,
		NumRuns:     c.Benchmark.NumRuns,
		Verification: harness.VerificationSetting{
			Enabled: ver.Enabled,
			Range: harness.Range{
				Begin:  append([]int(nil), ver.Begin...),
				Extent: append([]int(nil), ver.Range...),
			},
		},
		Results: consumer,
		Flags:   c.Flags(),
	}
	return args, args.Validate()
}

// Flags returns the boolean switches and parameters as a flag lookup
func (c *Config) Flags() *Flags {
	f := &Flags{
		set:    make(map[string]bool),
		params: make(map[string]string, len(c.Benchmark.Params)),
	}
	if c.Benchmark.NoNDRangeKernels {
		f.set[harness.FlagNoNDRangeKernels] = true
	}
	if !c.Benchmark.Verification.Enabled {
		f.set[FlagNoVerification] = true
	}
	for k, v := range c.Benchmark.Params {
		f.params[k] = v
	}
	return f
}

// Flags answers flag queries from benchmarks. A parameter counts as a set
// flag when its value parses as true.
type Flags struct {
	set    map[string]bool
	params map[string]string
}

var _ harness.FlagLookup = (*Flags)(nil)

// IsFlagSet reports whether the named switch is on
func (f *Flags) IsFlagSet(name string) bool {
	if f == nil {
		return false
	}
	name = strings.TrimPrefix(name, "--")
	if f.set[name] {
		return true
	}
	on, err := strconv.ParseBool(f.params[name])
	return err == nil && on
}

// Param returns a benchmark parameter
func (f *Flags) Param(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f.params[name]
	return v, ok
}

// IntParam returns a parameter as an int, or def when missing or malformed
func (f *Flags) IntParam(name string, def int) int {
	v, ok := f.Param(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Names returns every set switch and parameter name, sorted
func (f *Flags) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.set)+len(f.params))
	for k := range f.set {
		names = append(names, k)
	}
	for k := range f.params {
		if !f.set[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}
