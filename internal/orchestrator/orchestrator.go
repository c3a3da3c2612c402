// Package orchestrator wires one test run together: preflight, metrics,
// the coordinator, the optional dashboard, signal handling and the exit
// summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-pbo-assistant/internal/config"
	"github.com/randomizedcoder/go-pbo-assistant/internal/coordinator"
	"github.com/randomizedcoder/go-pbo-assistant/internal/metrics"
	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/preflight"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/report"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
	"github.com/randomizedcoder/go-pbo-assistant/internal/supervisor"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
	"github.com/randomizedcoder/go-pbo-assistant/internal/tui"
)

var (
	// ErrPreflightFailed is returned when a required preflight check fails.
	ErrPreflightFailed = errors.New("preflight checks failed (use --skip-preflight to override)")

	// ErrCoresFailed is returned when the run completed but a core failed.
	ErrCoresFailed = errors.New("one or more cores failed")
)

// Inputs is the resolved host state a run executes against.
type Inputs struct {
	Resolver *topology.Resolver
	Topology *topology.Topology
	Plan     *plan.Plan
	Version  string

	// Out receives the banner, preflight results and exit summary.
	// Defaults to os.Stdout.
	Out io.Writer

	// Pinner overrides CPU pinning; nil pins with sched_setaffinity.
	Pinner supervisor.Pinner
}

// Orchestrator coordinates all components for a stability test run.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	topology *topology.Topology
	plan     *plan.Plan
	adapters process.Registry

	coordinator   *coordinator.Coordinator
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	// program is the live dashboard, nil when --tui is off.
	program atomic.Pointer[tea.Program]

	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, in Inputs, logger *slog.Logger) *Orchestrator {
	out := in.Out
	if out == nil {
		out = os.Stdout
	}

	collector := metrics.NewCollector(metrics.CollectorConfig{
		Version:        in.Version,
		ModelName:      in.Topology.ModelName(),
		RuntimeMetrics: true,
	})

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		out:      out,
		topology: in.Topology,
		plan:     in.Plan,
		adapters: cfg.Registry(),
		metrics:  collector,
	}

	launcher := supervisor.New(supervisor.Config{
		SandboxDir: cfg.SandboxDir,
		GraceDelay: cfg.GraceDelay,
		Pinner:     in.Pinner,
		Logger:     logger,
		Callbacks: supervisor.Callbacks{
			OnStart: o.onProcessStart,
			OnExit:  o.onProcessExit,
		},
	})

	o.coordinator = coordinator.New(coordinator.Config{
		Topology:       in.Topology,
		Adapters:       o.adapters,
		Launcher:       launcher,
		Frequency:      topology.NewFrequencyReader(cfg.SysRoot, in.Resolver),
		Logger:         logger,
		Cooldown:       cfg.Cooldown,
		SampleInterval: cfg.SampleInterval,
		Verbose:        cfg.Verbose,
		Callbacks: coordinator.Callbacks{
			OnMethodStart: o.onMethodStart,
			OnMethodDone:  o.onMethodDone,
			OnCoreDone:    o.onCoreDone,
		},
	})

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, collector.Registry(), o.coordinator, logger)
	}

	return o
}

// Run executes the plan. It blocks until the plan completes, the user
// quits the dashboard, or SIGINT/SIGTERM arrives.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		if err := o.preflight(); err != nil {
			return err
		}
	}

	o.metrics.SetPlan(o.plan.CoreIDs, o.plan.Methods, o.plan.MethodBudget())
	o.metrics.SetOffsets(o.config.OffsetPerCore)

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !o.config.TUIEnabled {
		if err := report.WritePlan(o.out, o.plan, o.topology, o.config.OffsetPerCore); err != nil {
			o.logger.Warn("plan_print_failed", "error", err)
		}
		fmt.Fprintln(o.out, "Press Ctrl+C to stop.")
		fmt.Fprintln(o.out)
	}

	o.logger.Info("run_starting",
		"cores", len(o.plan.CoreIDs),
		"methods", o.plan.Methods,
		"method_budget", o.plan.MethodBudget().String(),
		"total_duration", o.plan.TotalDuration().String(),
	)

	if err := o.coordinator.Start(ctx, o.plan); err != nil {
		o.shutdown()
		return err
	}
	o.metrics.SetRunActive(true)

	observeDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.observe(observeDone)
	}()

	var runErr error
	if o.config.TUIEnabled {
		runErr = o.runDashboard(ctx)
	} else {
		runErr = o.coordinator.Wait()
	}

	close(observeDone)
	wg.Wait()
	o.metrics.SetRunActive(false)
	o.metrics.Observe(o.coordinator.Snapshot())

	if ctx.Err() != nil {
		o.logger.Info("run_interrupted")
	}

	o.shutdown()
	o.printExitSummary(runErr)
	o.writeTextfile()

	if runErr != nil {
		return runErr
	}
	if report.ExitCode(o.coordinator.Snapshot(), nil) == report.ExitFailed {
		return ErrCoresFailed
	}
	return nil
}

func (o *Orchestrator) preflight() error {
	adapters, err := o.adapters.Adapters(o.plan.Methods)
	if err != nil {
		return err
	}
	logicalIDs := make([]int, 0, len(o.plan.CoreIDs))
	for _, id := range o.plan.CoreIDs {
		lid, err := o.topology.LogicalIDFor(id)
		if err != nil {
			return err
		}
		logicalIDs = append(logicalIDs, lid)
	}

	result := preflight.RunAll(preflight.Options{
		Topology:   o.topology,
		Adapters:   adapters,
		LogicalIDs: logicalIDs,
		SysRoot:    o.config.SysRoot,
	})
	preflight.PrintResults(o.out, result)
	if !result.Passed {
		return ErrPreflightFailed
	}
	return nil
}

// runDashboard owns the terminal until the user quits. Quitting while the
// plan is running stops it. A signal on ctx closes the dashboard.
func (o *Orchestrator) runDashboard(ctx context.Context) error {
	model := tui.New(tui.Config{
		Controller:  o.coordinator,
		ModelName:   o.topology.ModelName(),
		MetricsAddr: o.config.MetricsAddr,
		Offsets:     o.config.OffsetPerCore,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	o.program.Store(program)
	defer o.program.Store(nil)

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		tui.SendDone(program, o.coordinator.Wait())
	}()
	go func() {
		select {
		case <-ctx.Done():
			tui.SendQuit(program)
		case <-exited:
		}
	}()

	if _, err := program.Run(); err != nil {
		o.logger.Error("dashboard_failed", "error", err)
	}
	o.coordinator.Stop()
	return o.coordinator.Wait()
}

// observe copies the status table into the collector until done closes.
func (o *Orchestrator) observe(done <-chan struct{}) {
	interval := o.config.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			o.metrics.Observe(o.coordinator.Snapshot())
		}
	}
}

func (o *Orchestrator) shutdown() {
	if o.metricsServer == nil {
		return
	}
	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

func (o *Orchestrator) writeTextfile() {
	if o.config.TextfilePath == "" {
		return
	}
	if err := metrics.WriteTextfile(o.config.TextfilePath, o.metrics.Registry()); err != nil {
		o.logger.Warn("textfile_write_failed", "path", o.config.TextfilePath, "error", err)
		return
	}
	o.logger.Info("textfile_written", "path", o.config.TextfilePath)
}

// Callback handlers

func (o *Orchestrator) onProcessStart(m process.Method, pid, logicalID int) {
	o.metrics.ProcessStarted(m)
	if o.config.Verbose {
		o.logger.Debug("stress_process_started", "method", m, "pid", pid, "cpu", logicalID)
	}
}

func (o *Orchestrator) onProcessExit(m process.Method, pid, exitCode int, uptime time.Duration) {
	o.metrics.RecordExit(exitCode, uptime)
}

func (o *Orchestrator) onMethodStart(coreID int, m process.Method) {
	o.metrics.Observe(o.coordinator.Snapshot())
}

func (o *Orchestrator) onMethodDone(coreID int, m process.Method, state status.MethodRunState) {
	o.metrics.RecordResult(m, state)
}

func (o *Orchestrator) onCoreDone(s status.CoreTestStatus) {
	o.metrics.CoreCompleted()
	o.metrics.Observe([]status.CoreTestStatus{s})
	if p := o.program.Load(); p != nil {
		p.Send(tui.StatusMsg{Cores: o.coordinator.Snapshot()})
	}
}

// printExitSummary prints a summary of the test run.
func (o *Orchestrator) printExitSummary(runErr error) {
	fmt.Fprint(o.out, report.FormatExitSummary(report.Summary{
		Model:       o.topology.ModelName(),
		Plan:        o.plan,
		Cores:       o.coordinator.Snapshot(),
		Offsets:     o.config.OffsetPerCore,
		Duration:    time.Since(o.startTime),
		Cancelled:   o.coordinator.Cancelled(),
		Err:         runErr,
		Processes:   o.metrics.GenerateSummary(),
		MetricsAddr: o.metricsAddr(),
	}))
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// Coordinator returns the coordinator for external access.
func (o *Orchestrator) Coordinator() *coordinator.Coordinator {
	return o.coordinator
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
