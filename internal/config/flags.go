package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const usageHeader = `go-pbo-assistant - per-core stability testing for Curve Optimizer tuning

Usage:
  go-pbo-assistant [flags]

`

const usageFooter = `
Examples:
  # Test every physical core for 10 minutes with both tools
  go-pbo-assistant

  # Quick pass over cores 0-3 with Prime95 only
  go-pbo-assistant --duration 2m --cores 0-3 --methods prime95

  # Load a plan file, override the duration
  go-pbo-assistant --config plan.yaml --duration 30m

  # Show the detected topology and exit
  go-pbo-assistant --list-cores

`

// ParseFlags parses command-line arguments (without the program name)
// and returns a Config. When --config names a plan file, the file is
// loaded first and flags given on the command line override it.
func ParseFlags(args []string) (*Config, error) {
	cfg := DefaultConfig()
	fs := newFlagSet(cfg, os.Stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	path := cfg.ConfigFile
	fileCfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	// Re-apply the command line on top of the file.
	fs = newFlagSet(fileCfg, io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fileCfg.ConfigFile = path

	return fileCfg, nil
}

// newFlagSet binds every flag to cfg, using cfg's current values as defaults.
func newFlagSet(cfg *Config, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("go-pbo-assistant", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	// Plan
	fs.DurationVar(&cfg.DurationPerCore, "duration", cfg.DurationPerCore, "Test time per core, split across the methods")
	fs.StringVar(&cfg.Cores, "cores", cfg.Cores, `Cores to test, e.g. "0,2-4,7" (empty or "all" = every physical core)`)
	fs.StringSliceVar(&cfg.Methods, "methods", cfg.Methods, "Stress tools to run on each core, in order")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML plan file")

	// Stress tools
	fs.StringVar(&cfg.SandboxDir, "sandbox", cfg.SandboxDir, "Directory holding the extracted stress tools")
	fs.StringVar(&cfg.Prime95Path, "prime95", cfg.Prime95Path, "Path to mprime (default <sandbox>/mprime/mprime)")
	fs.StringVar(&cfg.YCruncherPath, "ycruncher", cfg.YCruncherPath, "Path to y-cruncher (default <sandbox>/ycruncher)")
	fs.StringVar(&cfg.Prime95Marker, "prime95-marker", cfg.Prime95Marker, "Output text that marks a Prime95 failure")
	fs.StringVar(&cfg.YCruncherMarker, "ycruncher-marker", cfg.YCruncherMarker, "Output text that marks a y-cruncher failure")

	// Host
	fs.StringVar(&cfg.CPUInfoPath, "cpuinfo", cfg.CPUInfoPath, "Processor information file")
	fs.StringVar(&cfg.SysRoot, "sysfs", cfg.SysRoot, "sysfs root for cpufreq readings")

	// Timing
	fs.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Pause between cores")
	fs.DurationVar(&cfg.GraceDelay, "grace", cfg.GraceDelay, "Delay after launch before pinning")
	fs.DurationVar(&cfg.SampleInterval, "interval", cfg.SampleInterval, "Clock sampling and progress interval")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" to disable)`)
	fs.StringVar(&cfg.TextfilePath, "textfile", cfg.TextfilePath, "Write final metrics to this node_exporter textfile")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging, including stress tool output")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Live terminal dashboard (--tui=false to disable)")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ListCores, "list-cores", cfg.ListCores, "Print the detected topology and exit")
	fs.BoolVar(&cfg.PrintPlan, "print-plan", cfg.PrintPlan, "Print the test plan and exit")

	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprint(w, usageHeader)

		fmt.Fprintln(w, "Plan Flags:")
		printFlagCategory(w, fs, []string{"duration", "cores", "methods", "config"})

		fmt.Fprintln(w, "\nStress Tool Flags:")
		printFlagCategory(w, fs, []string{"sandbox", "prime95", "ycruncher", "prime95-marker", "ycruncher-marker"})

		fmt.Fprintln(w, "\nHost Flags:")
		printFlagCategory(w, fs, []string{"cpuinfo", "sysfs"})

		fmt.Fprintln(w, "\nTiming Flags:")
		printFlagCategory(w, fs, []string{"cooldown", "grace", "interval"})

		fmt.Fprintln(w, "\nObservability Flags:")
		printFlagCategory(w, fs, []string{"metrics", "textfile", "log-format", "log-level", "verbose", "tui"})

		fmt.Fprintln(w, "\nDiagnostic Flags:")
		printFlagCategory(w, fs, []string{"skip-preflight", "list-cores", "print-plan"})

		fmt.Fprint(w, usageFooter)
	}

	return fs
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(w io.Writer, fs *pflag.FlagSet, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		short := "   "
		if f.Shorthand != "" {
			short = "-" + f.Shorthand + ","
		}
		fmt.Fprintf(w, "  %s --%s %s\n    \t%s", short, f.Name, flagType(f), f.Usage)
		if showDefault(f.DefValue) {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

func showDefault(def string) bool {
	switch def {
	case "", "false", "0", "0s", "[]":
		return false
	}
	return true
}

// flagType returns a type hint for the flag value.
func flagType(f *pflag.Flag) string {
	switch t := f.Value.Type(); t {
	case "bool":
		return ""
	case "stringSlice":
		return "list"
	default:
		return strings.TrimSuffix(t, "Var")
	}
}
