package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/config"
	"github.com/randomizedcoder/go-pbo-assistant/internal/logging"
	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

const (
	passingTool = "#!/bin/sh\nwhile true; do echo \"Test 1, 7000 Lucas-Lehmer iterations\"; sleep 0.1; done\n"
	failingTool = "#!/bin/sh\necho \"FATAL ERROR: Rounding was 0.5, expected less than 0.4\"\necho \"TORTURE TEST FAILED on worker #1\"\nexec sleep 30\n"
)

type noopPinner struct{}

func (noopPinner) Pin(int, int) error { return nil }

func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestConfig(t *testing.T, prime95 string) *config.Config {
	t.Helper()
	sandbox := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SandboxDir = sandbox
	cfg.Prime95Path = writeTool(t, sandbox, "mprime", prime95)
	cfg.YCruncherPath = writeTool(t, sandbox, "y-cruncher", passingTool)
	cfg.Methods = []string{"prime95"}
	cfg.CPUInfoPath = filepath.Join("..", "topology", "testdata", "intel_ht.txt")
	cfg.SysRoot = t.TempDir()
	cfg.Cooldown = 0
	cfg.GraceDelay = 10 * time.Millisecond
	cfg.SampleInterval = 50 * time.Millisecond
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.TextfilePath = filepath.Join(t.TempDir(), "pbo.prom")
	cfg.SkipPreflight = true
	cfg.TUIEnabled = false
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, perCore time.Duration, cores ...int) (*Orchestrator, *bytes.Buffer) {
	t.Helper()
	resolver := topology.NewResolver(cfg.CPUInfoPath, logging.Discard())
	topo, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	methods, err := cfg.ParsedMethods()
	if err != nil {
		t.Fatal(err)
	}
	p, err := plan.New(perCore, cores, methods, topo.SelectableCount())
	if err != nil {
		t.Fatalf("plan.New() error: %v", err)
	}

	var out bytes.Buffer
	o := New(cfg, Inputs{
		Resolver: resolver,
		Topology: topo,
		Plan:     p,
		Version:  "test",
		Out:      &out,
		Pinner:   noopPinner{},
	}, logging.Discard())
	return o, &out
}

// =============================================================================
// Run
// =============================================================================

func TestRun_AllPass(t *testing.T) {
	cfg := newTestConfig(t, passingTool)
	cfg.OffsetPerCore = map[int]int{0: -20}
	o, out := newTestOrchestrator(t, cfg, 300*time.Millisecond, 0, 1)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v\n%s", err, out.String())
	}

	for _, want := range []string{
		"Total test duration",
		"Exit Summary",
		"i7-7700K",
		"PASSED (2 passed, 0 failed)",
		"-20",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	for _, want := range []string{"pbo_cores_completed 2", "pbo_run_active 0", `pbo_method_results_total{method="Prime95",result="success"} 2`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}

	if s := o.Metrics().GenerateSummary(); s.ProcessStarts != 2 {
		t.Errorf("ProcessStarts = %d, want 2", s.ProcessStarts)
	}
}

func TestRun_FailedCore(t *testing.T) {
	cfg := newTestConfig(t, failingTool)
	o, out := newTestOrchestrator(t, cfg, 2*time.Second, 0)

	err := o.Run(context.Background())
	if !errors.Is(err, ErrCoresFailed) {
		t.Fatalf("Run() error = %v, want ErrCoresFailed", err)
	}
	if !strings.Contains(out.String(), "FAILED (0 passed, 1 failed)") {
		t.Errorf("summary should report the failure:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "TORTURE TEST FAILED") {
		t.Errorf("summary should quote the failure line:\n%s", out.String())
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	cfg := newTestConfig(t, passingTool)
	o, out := newTestOrchestrator(t, cfg, 30*time.Second, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run() took %v after cancel", elapsed)
	}
	if !strings.Contains(out.String(), "[interrupted]") {
		t.Errorf("summary should mark the run interrupted:\n%s", out.String())
	}
	if !o.Coordinator().Cancelled() {
		t.Error("coordinator should report cancelled")
	}
}

func TestRun_PreflightFails(t *testing.T) {
	cfg := newTestConfig(t, passingTool)
	cfg.SkipPreflight = false
	cfg.Prime95Path = filepath.Join(t.TempDir(), "missing", "mprime")
	o, out := newTestOrchestrator(t, cfg, time.Second, 0)

	err := o.Run(context.Background())
	if !errors.Is(err, ErrPreflightFailed) {
		t.Fatalf("Run() error = %v, want ErrPreflightFailed", err)
	}
	if !strings.Contains(out.String(), "Preflight checks:") {
		t.Errorf("preflight results not printed:\n%s", out.String())
	}
	if o.Metrics().GenerateSummary().ProcessStarts != 0 {
		t.Error("no process should start after a failed preflight")
	}
}

func TestRun_MetricsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := newTestConfig(t, passingTool)
	cfg.MetricsAddr = ln.Addr().String()
	o, _ := newTestOrchestrator(t, cfg, time.Second, 0)

	err = o.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "metrics server") {
		t.Fatalf("Run() error = %v, want metrics server error", err)
	}
}

func TestRun_MetricsDisabled(t *testing.T) {
	cfg := newTestConfig(t, passingTool)
	cfg.MetricsAddr = ""
	cfg.TextfilePath = ""
	o, out := newTestOrchestrator(t, cfg, 200*time.Millisecond, 0)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(out.String(), "/metrics") {
		t.Errorf("summary should not point at a disabled endpoint:\n%s", out.String())
	}
}

func TestNew_WiresAdapters(t *testing.T) {
	cfg := newTestConfig(t, passingTool)
	o, _ := newTestOrchestrator(t, cfg, time.Second)

	a, err := o.adapters.Get(process.MethodPrime95)
	if err != nil {
		t.Fatal(err)
	}
	if a.BinaryPath() != cfg.Prime95Path {
		t.Errorf("BinaryPath() = %q, want %q", a.BinaryPath(), cfg.Prime95Path)
	}
	if o.metricsServer == nil {
		t.Error("metrics server should be created when an address is set")
	}
}
