// Package report renders what the tester prints outside the dashboard:
// the plan banner, the topology listing, the exit summary and the
// process exit code.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/randomizedcoder/go-pbo-assistant/internal/metrics"
	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/stats"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

// Process exit codes.
const (
	ExitPassed = 0
	ExitError  = 1
	ExitFailed = 2
)

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════"
	subRule = "───────────────────────────────────────────────────────────────────────────────"
)

// ExitCode maps a finished run to a process exit code: 1 if the run itself
// errored, 2 if any core failed, 0 otherwise.
func ExitCode(cores []status.CoreTestStatus, runErr error) int {
	if runErr != nil {
		return ExitError
	}
	for _, c := range cores {
		if c.Verdict() == "failed" {
			return ExitFailed
		}
	}
	return ExitPassed
}

// Summary holds everything the exit summary shows.
type Summary struct {
	Model     string
	Plan      *plan.Plan
	Cores     []status.CoreTestStatus
	Offsets   map[int]int
	Duration  time.Duration
	Cancelled bool
	Err       error

	// Process lifecycle from metrics.Collector; nil hides the section.
	Processes *metrics.Summary

	// MetricsAddr is shown as a pointer to the live endpoint.
	MetricsAddr string
}

// FormatExitSummary renders the exit summary.
func FormatExitSummary(s Summary) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule + "\n")
	b.WriteString("                         go-pbo-assistant Exit Summary\n")
	b.WriteString(rule + "\n\n")

	if s.Model != "" {
		fmt.Fprintf(&b, "CPU:                    %s\n", s.Model)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", stats.FormatDuration(s.Duration))
	if s.Plan != nil {
		fmt.Fprintf(&b, "Cores Planned:          %d\n", len(s.Plan.CoreIDs))
		fmt.Fprintf(&b, "Per-Method Budget:      %s\n", stats.FormatDuration(s.Plan.MethodBudget()))
	}
	fmt.Fprintf(&b, "Result:                 %s\n\n", resultLine(s))

	if s.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n\n", s.Err)
	}

	if len(s.Cores) > 0 {
		b.WriteString(subRule + "\n")
		b.WriteString("                                  Per Core\n")
		b.WriteString(subRule + "\n\n")
		_ = WriteCoreTable(&b, s.Cores, s.Offsets)
		b.WriteString("\n")
		writeFailures(&b, s.Cores)
	}

	if p := s.Processes; p != nil && p.ProcessStarts > 0 {
		b.WriteString(subRule + "\n")
		b.WriteString("                                 Processes\n")
		b.WriteString(subRule + "\n\n")
		fmt.Fprintf(&b, "  Total Starts:         %d\n", p.ProcessStarts)
		if p.UptimeMax > 0 {
			fmt.Fprintf(&b, "  Uptime P50:           %s\n", stats.FormatDuration(p.UptimeP50))
			fmt.Fprintf(&b, "  Uptime Max:           %s\n", stats.FormatDuration(p.UptimeMax))
		}
		codes := make([]int, 0, len(p.ExitCodes))
		for code := range p.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  Exit code %-4d        %d\n", code, p.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if s.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics: http://%s/metrics\n", s.MetricsAddr)
	}
	b.WriteString(rule + "\n")
	return b.String()
}

func resultLine(s Summary) string {
	var passed, failed, untested int
	for _, c := range s.Cores {
		switch c.Verdict() {
		case "passed":
			passed++
		case "failed":
			failed++
		case "untested":
			untested++
		}
	}
	var line string
	switch ExitCode(s.Cores, s.Err) {
	case ExitError:
		line = "ERROR"
	case ExitFailed:
		line = "FAILED"
	default:
		line = "PASSED"
	}
	line += fmt.Sprintf(" (%d passed, %d failed", passed, failed)
	if untested > 0 {
		line += fmt.Sprintf(", %d untested", untested)
	}
	line += ")"
	if s.Cancelled {
		line += " [interrupted]"
	}
	return line
}

// writeFailures lists the output line that failed each core.
func writeFailures(b *strings.Builder, cores []status.CoreTestStatus) {
	var found bool
	for _, c := range cores {
		lines := failureReasons(c)
		if len(lines) == 0 {
			continue
		}
		if !found {
			b.WriteString("Failures:\n")
			found = true
		}
		for _, l := range lines {
			fmt.Fprintf(b, "  core %d: %s\n", c.CoreID, l)
		}
	}
	if found {
		b.WriteString("\n")
	}
}

func failureReasons(c status.CoreTestStatus) []string {
	var out []string
	if c.FailureLine != "" {
		out = append(out, c.FailureLine)
	}
	for _, m := range c.MethodOrder {
		if ms := c.Methods[m]; ms.Error != "" {
			out = append(out, fmt.Sprintf("%s: %s", m, ms.Error))
		}
	}
	return out
}

// WriteCoreTable renders one row per core: verdict, clocks, the state of
// each method and, when any are set, the curve-optimizer offsets.
func WriteCoreTable(w io.Writer, cores []status.CoreTestStatus, offsets map[int]int) error {
	var methods []process.Method
	if len(cores) > 0 {
		methods = cores[0].MethodOrder
	}

	header := []any{"Core", "CPU", "Verdict", "Max", "Min", "Avg", "P05"}
	for _, m := range methods {
		header = append(header, m.String())
	}
	if len(offsets) > 0 {
		header = append(header, "Offset")
	}

	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for _, c := range cores {
		row := []string{
			strconv.Itoa(c.CoreID),
			strconv.Itoa(c.LogicalID),
			c.Verdict(),
			stats.FormatMHz(c.MaxMHz),
			stats.FormatMHz(c.MinMHz),
			stats.FormatMHz(c.AvgMHz),
			stats.FormatMHzFloat(c.P05MHz),
		}
		for _, m := range methods {
			row = append(row, methodCell(c.Methods[m]))
		}
		if len(offsets) > 0 {
			row = append(row, formatOffset(offsets, c.CoreID))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func methodCell(ms status.MethodStatus) string {
	switch ms.State {
	case status.Testing:
		return "testing " + stats.FormatProgress(ms.CurrentSecs, ms.TotalSecs)
	case status.Success:
		if ms.Inconclusive {
			return "success*"
		}
		return "success"
	default:
		return ms.State.String()
	}
}

func formatOffset(offsets map[int]int, coreID int) string {
	v, ok := offsets[coreID]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%+d", v)
}

// WriteTopology renders the resolved processor layout for -list-cores.
func WriteTopology(w io.Writer, topo *topology.Topology) error {
	if model := topo.ModelName(); model != "" {
		fmt.Fprintf(w, "CPU: %s\n", model)
	}
	fmt.Fprintf(w, "Physical cores: %d  Logical processors: %d\n", topo.PhysicalCount, topo.LogicalCount)
	if topo.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d malformed processor records\n", topo.Skipped)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Core", "CPU", "Siblings", "Clock")
	for _, c := range topo.Cores {
		if err := table.Append([]string{
			strconv.Itoa(c.ID),
			strconv.Itoa(c.LogicalID),
			strconv.Itoa(c.Siblings),
			stats.FormatMHzFloat(c.MHz),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// WritePlan renders the test order and the total-duration banner.
func WritePlan(w io.Writer, p *plan.Plan, topo *topology.Topology, offsets map[int]int) error {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Total test duration: %s  (%d cores x %s)\n",
		stats.FormatDuration(p.TotalDuration()),
		len(p.CoreIDs),
		stats.FormatDuration(p.DurationPerCore),
	)
	methods := make([]string, len(p.Methods))
	for i, m := range p.Methods {
		methods[i] = m.String()
	}
	fmt.Fprintf(w, "  Methods: %s  (%s each)\n", strings.Join(methods, ", "), stats.FormatDuration(p.MethodBudget()))
	fmt.Fprintln(w, rule)

	header := []any{"Order", "Core", "CPU"}
	if len(offsets) > 0 {
		header = append(header, "Offset")
	}
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for i, id := range p.CoreIDs {
		logical := "-"
		if topo != nil {
			if lid, err := topo.LogicalIDFor(id); err == nil {
				logical = strconv.Itoa(lid)
			}
		}
		row := []string{strconv.Itoa(i + 1), strconv.Itoa(id), logical}
		if len(offsets) > 0 {
			row = append(row, formatOffset(offsets, id))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
