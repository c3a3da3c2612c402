package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/metrics"
	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

var bothMethods = []process.Method{process.MethodPrime95, process.MethodYCruncher}

func coreStatus(coreID int, p95, yc status.MethodRunState) status.CoreTestStatus {
	return status.CoreTestStatus{
		CoreID:      coreID,
		LogicalID:   coreID * 2,
		MaxMHz:      4950,
		MinMHz:      4500,
		AvgMHz:      4725,
		P05MHz:      4510,
		Samples:     120,
		MethodOrder: bothMethods,
		Methods: map[process.Method]status.MethodStatus{
			process.MethodPrime95:   {State: p95, TotalSecs: 300},
			process.MethodYCruncher: {State: yc, TotalSecs: 300},
		},
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name  string
		cores []status.CoreTestStatus
		err   error
		want  int
	}{
		{"all_passed", []status.CoreTestStatus{coreStatus(0, status.Success, status.Success)}, nil, ExitPassed},
		{"one_failed", []status.CoreTestStatus{
			coreStatus(0, status.Success, status.Success),
			coreStatus(1, status.Failed, status.Idle),
		}, nil, ExitFailed},
		{"interrupted", []status.CoreTestStatus{
			coreStatus(0, status.Success, status.Success),
			coreStatus(1, status.Idle, status.Idle),
		}, nil, ExitPassed},
		{"run_error", []status.CoreTestStatus{coreStatus(0, status.Failed, status.Idle)}, errors.New("launch"), ExitError},
		{"empty", nil, nil, ExitPassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.cores, tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitCode_VerificationFailed(t *testing.T) {
	c := coreStatus(0, status.Success, status.Success)
	c.VerificationFailed = true
	if got := ExitCode([]status.CoreTestStatus{c}, nil); got != ExitFailed {
		t.Errorf("ExitCode() = %d, want %d", got, ExitFailed)
	}
}

// =============================================================================
// Exit summary
// =============================================================================

func TestFormatExitSummary(t *testing.T) {
	p, err := plan.New(10*time.Minute, nil, bothMethods, 2)
	if err != nil {
		t.Fatal(err)
	}

	failed := coreStatus(1, status.Failed, status.Idle)
	failed.VerificationFailed = true
	failed.FailureLine = "FATAL ERROR: Rounding was 0.5, expected less than 0.4"

	out := FormatExitSummary(Summary{
		Model:    "AMD Ryzen 9 5950X 16-Core Processor",
		Plan:     p,
		Cores:    []status.CoreTestStatus{coreStatus(0, status.Success, status.Success), failed},
		Offsets:  map[int]int{0: -20, 1: -15},
		Duration: 15 * time.Minute,
		Processes: &metrics.Summary{
			ProcessStarts: 3,
			ExitCodes:     map[int]int64{-1: 3},
			UptimeP50:     5 * time.Minute,
			UptimeMax:     5 * time.Minute,
		},
		MetricsAddr: "127.0.0.1:17092",
	})

	for _, want := range []string{
		"Exit Summary",
		"5950X",
		"Run Duration:           00:15:00",
		"Per-Method Budget:      00:05:00",
		"FAILED (1 passed, 1 failed)",
		"4950 MHz",
		"-20",
		"Rounding was 0.5",
		"Total Starts:         3",
		"http://127.0.0.1:17092/metrics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatExitSummary_Interrupted(t *testing.T) {
	out := FormatExitSummary(Summary{
		Cores:     []status.CoreTestStatus{coreStatus(0, status.Success, status.Idle), coreStatus(1, status.Idle, status.Idle)},
		Cancelled: true,
	})
	if !strings.Contains(out, "PASSED (0 passed, 0 failed, 1 untested) [interrupted]") {
		t.Errorf("unexpected result line:\n%s", out)
	}
	if strings.Contains(out, "Processes") {
		t.Error("process section shown without starts")
	}
	if strings.Contains(out, "Failures:") {
		t.Error("failure section shown without failures")
	}
}

func TestFormatExitSummary_Error(t *testing.T) {
	out := FormatExitSummary(Summary{Err: errors.New("prime95: stress binary missing")})
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "stress binary missing") {
		t.Errorf("error not reported:\n%s", out)
	}
}

// =============================================================================
// Tables
// =============================================================================

func TestWriteCoreTable(t *testing.T) {
	running := coreStatus(0, status.Testing, status.Idle)
	ms := running.Methods[process.MethodPrime95]
	ms.CurrentSecs = 65
	running.Methods[process.MethodPrime95] = ms

	inconclusive := coreStatus(1, status.Success, status.Success)
	yc := inconclusive.Methods[process.MethodYCruncher]
	yc.Inconclusive = true
	inconclusive.Methods[process.MethodYCruncher] = yc

	var buf bytes.Buffer
	if err := WriteCoreTable(&buf, []status.CoreTestStatus{running, inconclusive}, nil); err != nil {
		t.Fatalf("WriteCoreTable() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"00:01:05 / 00:05:00", "success*", "untested", "passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(strings.ToLower(out), "offset") {
		t.Errorf("offset column shown without offsets:\n%s", out)
	}
}

func TestWriteCoreTable_Unsampled(t *testing.T) {
	c := coreStatus(0, status.Idle, status.Idle)
	c.MaxMHz, c.MinMHz, c.AvgMHz, c.P05MHz, c.Samples = 0, 0, 0, 0, 0

	var buf bytes.Buffer
	if err := WriteCoreTable(&buf, []status.CoreTestStatus{c}, map[int]int{3: 5}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "MHz") {
		t.Errorf("unsampled core should show no clocks:\n%s", buf.String())
	}
}

func TestFormatOffset(t *testing.T) {
	offsets := map[int]int{0: -30, 1: 0, 2: 5}
	tests := []struct {
		core int
		want string
	}{
		{0, "-30"},
		{1, "+0"},
		{2, "+5"},
		{3, "-"},
	}
	for _, tt := range tests {
		if got := formatOffset(offsets, tt.core); got != tt.want {
			t.Errorf("formatOffset(%d) = %q, want %q", tt.core, got, tt.want)
		}
	}
}

func TestWriteTopology(t *testing.T) {
	topo := &topology.Topology{
		Cores: []topology.PhysicalCore{
			{ID: 0, LogicalID: 0, Siblings: 2, ModelName: "Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz", MHz: 4700.25},
			{ID: 1, LogicalID: 1, Siblings: 2, ModelName: "Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz", MHz: 800},
		},
		PhysicalCount: 2,
		LogicalCount:  4,
		Skipped:       1,
	}

	var buf bytes.Buffer
	if err := WriteTopology(&buf, topo); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"i7-8700K", "Physical cores: 2  Logical processors: 4", "Skipped 1", "4700 MHz", "800 MHz"} {
		if !strings.Contains(out, want) {
			t.Errorf("topology missing %q:\n%s", want, out)
		}
	}
}

func TestWritePlan(t *testing.T) {
	p, err := plan.New(4*time.Minute, []int{0, 1, 2, 3}, bothMethods, 4)
	if err != nil {
		t.Fatal(err)
	}
	topo := &topology.Topology{
		Cores: []topology.PhysicalCore{
			{ID: 0, LogicalID: 0}, {ID: 1, LogicalID: 2}, {ID: 2, LogicalID: 4}, {ID: 3, LogicalID: 6},
		},
		PhysicalCount: 4,
		LogicalCount:  8,
	}

	var buf bytes.Buffer
	if err := WritePlan(&buf, p, topo, map[int]int{3: -10}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total test duration: 00:16:00  (4 cores x 00:04:00)",
		"Methods: Prime95, YCruncher  (00:02:00 each)",
		"-10",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plan missing %q:\n%s", want, out)
		}
	}
}

func TestWritePlan_NilTopology(t *testing.T) {
	p, err := plan.New(time.Minute, nil, []process.Method{process.MethodPrime95}, 1)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WritePlan(&buf, p, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "00:01:00") {
		t.Errorf("plan missing duration:\n%s", buf.String())
	}
}
