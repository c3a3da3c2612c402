// Package config provides configuration management for go-pbo-assistant.
package config

import (
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

// Config holds all configuration options for a test run.
type Config struct {
	// Plan
	DurationPerCore time.Duration `json:"duration_per_core" yaml:"duration_per_core"`
	Cores           string        `json:"cores" yaml:"cores"` // "" or "all" = every physical core
	Methods         []string      `json:"methods" yaml:"methods"`
	OffsetPerCore   map[int]int   `json:"offset_per_core,omitempty" yaml:"offset_per_core,omitempty"`

	// Stress tools
	SandboxDir      string `json:"sandbox_dir" yaml:"sandbox_dir"`
	Prime95Path     string `json:"prime95_path" yaml:"prime95_path"`
	YCruncherPath   string `json:"ycruncher_path" yaml:"ycruncher_path"`
	Prime95Marker   string `json:"prime95_marker" yaml:"prime95_marker"`
	YCruncherMarker string `json:"ycruncher_marker" yaml:"ycruncher_marker"`

	// Host
	CPUInfoPath string `json:"cpuinfo_path" yaml:"cpuinfo_path"`
	SysRoot     string `json:"sys_root" yaml:"sys_root"`

	// Timing
	Cooldown       time.Duration `json:"cooldown" yaml:"cooldown"`
	GraceDelay     time.Duration `json:"grace_delay" yaml:"grace_delay"`
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`

	// Observability
	MetricsAddr  string `json:"metrics_addr" yaml:"metrics_addr"` // "" disables the server
	TextfilePath string `json:"textfile_path" yaml:"textfile_path"`
	LogFormat    string `json:"log_format" yaml:"log_format"` // json, text
	LogLevel     string `json:"log_level" yaml:"log_level"`
	Verbose      bool   `json:"verbose" yaml:"verbose"`
	TUIEnabled   bool   `json:"tui" yaml:"tui"`

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight" yaml:"skip_preflight"`
	ListCores     bool `json:"list_cores" yaml:"-"`
	PrintPlan     bool `json:"print_plan" yaml:"-"`

	// ConfigFile is the plan file the values were loaded from, if any.
	ConfigFile string `json:"config_file,omitempty" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	methods := make([]string, 0, len(process.AllMethods()))
	for _, m := range process.AllMethods() {
		methods = append(methods, string(m))
	}

	return &Config{
		// Plan
		DurationPerCore: 10 * time.Minute,
		Cores:           "",
		Methods:         methods,

		// Stress tools
		SandboxDir:      process.DefaultSandboxDir,
		Prime95Marker:   process.DefaultFailureMarker,
		YCruncherMarker: process.DefaultFailureMarker,

		// Host
		CPUInfoPath: topology.DefaultSource,
		SysRoot:     topology.DefaultSysRoot,

		// Timing
		Cooldown:       5 * time.Second,
		GraceDelay:     time.Second,
		SampleInterval: time.Second,

		// Observability
		MetricsAddr: "0.0.0.0:17092",
		LogFormat:   "json",
		LogLevel:    "info",
		TUIEnabled:  true,
	}
}

// Registry builds the stress-tool adapters described by the config.
func (c *Config) Registry() process.Registry {
	p95 := process.DefaultPrime95Config(c.SandboxDir)
	if c.Prime95Path != "" {
		p95.BinaryPath = c.Prime95Path
	}
	if c.Prime95Marker != "" {
		p95.Marker = c.Prime95Marker
	}

	yc := process.DefaultYCruncherConfig(c.SandboxDir)
	if c.YCruncherPath != "" {
		yc.BinaryPath = c.YCruncherPath
	}
	if c.YCruncherMarker != "" {
		yc.Marker = c.YCruncherMarker
	}

	return process.NewRegistry(process.NewPrime95(p95), process.NewYCruncher(yc))
}

// ParsedMethods returns Methods as typed values.
func (c *Config) ParsedMethods() ([]process.Method, error) {
	return process.ParseMethods(c.Methods)
}
