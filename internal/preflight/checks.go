// Package preflight provides startup validation checks run before any
// stress tool is spawned.
package preflight

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/supervisor"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

const defaultLimitsPath = "/proc/self/limits"

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options selects what the checks look at.
type Options struct {
	Topology *topology.Topology

	// Adapters are initialized (existence, exec bit) in order.
	Adapters []process.Adapter

	// LogicalIDs are the CPUs the plan will pin to.
	LogicalIDs []int

	// SysRoot is the sysfs mount; empty selects topology.DefaultSysRoot.
	SysRoot string

	// LimitsPath overrides /proc/self/limits.
	LimitsPath string

	// Affinity returns the CPUs a pid may run on; nil selects sched_getaffinity.
	Affinity func(pid int) ([]int, error)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4+len(opts.Adapters)),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkTopology(opts.Topology))
	for _, a := range opts.Adapters {
		add(checkAdapter(a))
	}
	add(checkAffinity(opts.Affinity, opts.LogicalIDs))

	limits := opts.LimitsPath
	if limits == "" {
		limits = defaultLimitsPath
	}
	add(checkProcessLimit(limits, len(opts.Adapters)))

	// Frequency source (warning only)
	add(checkCPUFreq(opts.SysRoot, opts.LogicalIDs))

	return result
}

// checkTopology verifies at least one physical core was found.
func checkTopology(topo *topology.Topology) Check {
	if topo == nil || len(topo.Cores) == 0 {
		return Check{
			Name:    "topology",
			Passed:  false,
			Message: "no physical cores found",
		}
	}
	msg := fmt.Sprintf("%d physical / %d logical cores", topo.PhysicalCount, topo.LogicalCount)
	if model := topo.ModelName(); model != "" {
		msg += " (" + model + ")"
	}
	if topo.Skipped > 0 {
		msg += fmt.Sprintf(", %d malformed records skipped", topo.Skipped)
	}
	return Check{
		Name:    "topology",
		Passed:  true,
		Warning: topo.Skipped > 0,
		Message: msg,
	}
}

// checkAdapter verifies a stress tool is present and executable.
func checkAdapter(a process.Adapter) Check {
	name := strings.ToLower(a.Method().String())
	if err := a.Initialize(); err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: "found at " + a.BinaryPath(),
	}
}

// checkAffinity verifies this process may run on every CPU the plan pins to.
func checkAffinity(affinity func(int) ([]int, error), logicalIDs []int) Check {
	if affinity == nil {
		affinity = supervisor.Affinity
	}
	allowed, err := affinity(os.Getpid())
	if err != nil {
		return Check{
			Name:    "cpu_affinity",
			Passed:  false,
			Message: err.Error(),
		}
	}

	var missing []string
	for _, id := range logicalIDs {
		if !slices.Contains(allowed, id) {
			missing = append(missing, strconv.Itoa(id))
		}
	}
	if len(missing) > 0 {
		return Check{
			Name:    "cpu_affinity",
			Passed:  false,
			Message: fmt.Sprintf("cpus %s not in the allowed set (%d cpus allowed)", strings.Join(missing, ","), len(allowed)),
		}
	}
	return Check{
		Name:    "cpu_affinity",
		Passed:  true,
		Message: fmt.Sprintf("%d cpus allowed", len(allowed)),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(path string, tools int) Check {
	// Each tool runs one process with many threads, which count against
	// RLIMIT_NPROC on Linux.
	required := 64*tools + 50

	// Read soft limit from /proc/self/limits
	data, err := os.ReadFile(path)
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	// Parse "Max processes" line
	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					actual, _ = strconv.Atoi(fields[2])
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkCPUFreq reports whether live clocks come from cpufreq or fall back
// to re-reading cpuinfo.
func checkCPUFreq(sysRoot string, logicalIDs []int) Check {
	if sysRoot == "" {
		sysRoot = topology.DefaultSysRoot
	}
	cpu := 0
	if len(logicalIDs) > 0 {
		cpu = logicalIDs[0]
	}
	path := filepath.Join(sysRoot, "devices", "system", "cpu", "cpu"+strconv.Itoa(cpu), "cpufreq", "scaling_cur_freq")
	if _, err := os.Stat(path); err != nil {
		return Check{
			Name:    "cpufreq",
			Passed:  true,
			Warning: true,
			Message: "scaling_cur_freq unavailable, sampling /proc/cpuinfo instead",
		}
	}
	return Check{
		Name:    "cpufreq",
		Passed:  true,
		Message: "sampling " + path,
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "topology":
		return "check --cpuinfo points at a readable /proc/cpuinfo"
	case "prime95", "ycruncher":
		return "extract the stress tools into --sandbox or set --prime95 / --ycruncher"
	case "cpu_affinity":
		return "run outside restrictive cgroups/taskset, or narrow --cores"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
