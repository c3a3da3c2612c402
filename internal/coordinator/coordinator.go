// Package coordinator runs a test plan: every selected core, one at a
// time, under every selected stress method, recording the outcome in a
// shared status table.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/logging"
	"github.com/randomizedcoder/go-pbo-assistant/internal/monitor"
	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/stats"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
	"github.com/randomizedcoder/go-pbo-assistant/internal/supervisor"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

// DefaultCooldown is the pause after each passed method.
const DefaultCooldown = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start while a plan is executing.
	ErrAlreadyRunning = errors.New("a test run is already in progress")

	// ErrNotRunning is returned by Pause and Resume when no tool is running.
	ErrNotRunning = errors.New("no stress tool is running")
)

// Launcher starts and controls stress-tool processes.
// *supervisor.Supervisor implements it.
type Launcher interface {
	Launch(ctx context.Context, adapter process.Adapter, logicalID int) (*supervisor.Handle, error)
	TerminateTree(ctx context.Context, rootPID int) error
	Pause(ctx context.Context, rootPID int) error
	Resume(ctx context.Context, rootPID int) error
}

// Callbacks contains optional callbacks for run events.
type Callbacks struct {
	// OnMethodStart is called after a method is marked Testing.
	OnMethodStart func(coreID int, method process.Method)

	// OnMethodDone is called with the state a method ended in. Cancelled
	// methods report Idle.
	OnMethodDone func(coreID int, method process.Method, state status.MethodRunState)

	// OnCoreDone is called after every method of a core has run or been skipped.
	OnCoreDone func(s status.CoreTestStatus)
}

// Config holds configuration for creating a Coordinator.
type Config struct {
	Topology  *topology.Topology
	Adapters  process.Registry
	Launcher  Launcher
	Frequency topology.FrequencyReader
	Logger    *slog.Logger
	Callbacks Callbacks

	// Cooldown follows every passed method. Zero disables it.
	Cooldown time.Duration

	// SampleInterval drives the clock sampler and the deadline timer.
	SampleInterval time.Duration

	// Clock defaults to the wall clock.
	Clock monitor.Clock

	// OutputBuffer is the line buffer between the output reader and the scanner.
	OutputBuffer int

	// Verbose logs every line of tool output.
	Verbose bool
}

// Coordinator executes test plans. It runs at most one plan at a time.
type Coordinator struct {
	topo      *topology.Topology
	adapters  process.Registry
	launcher  Launcher
	frequency topology.FrequencyReader
	logger    *slog.Logger
	callbacks Callbacks

	cooldown     time.Duration
	interval     time.Duration
	clock        monitor.Clock
	outputBuffer int
	verbose      bool

	table *status.Table

	running   atomic.Bool
	cancelled atomic.Bool
	paused    atomic.Bool

	mu       sync.Mutex
	plan     *plan.Plan
	current  *monitor.RunControl
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	err      error
	started  time.Time
	finished time.Time
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = monitor.RealClock()
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = monitor.DefaultInterval
	}
	return &Coordinator{
		topo:         cfg.Topology,
		adapters:     cfg.Adapters,
		launcher:     cfg.Launcher,
		frequency:    cfg.Frequency,
		logger:       logger,
		callbacks:    cfg.Callbacks,
		cooldown:     cfg.Cooldown,
		interval:     interval,
		clock:        clock,
		outputBuffer: cfg.OutputBuffer,
		verbose:      cfg.Verbose,
		table:        status.NewTable(),
	}
}

// Start validates p against the topology and the adapter registry, resets
// the status table and executes the plan in the background. Cancelling ctx
// has the same effect as Stop.
func (c *Coordinator) Start(ctx context.Context, p *plan.Plan) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	adapters, logicalIDs, err := c.prepare(p)
	if err != nil {
		c.running.Store(false)
		return err
	}

	c.table.Reset(p.CoreIDs, logicalIDs, p.Methods, p.MethodBudget())
	c.cancelled.Store(false)
	c.paused.Store(false)

	done := make(chan struct{})
	stop := make(chan struct{})

	c.mu.Lock()
	c.plan = p
	c.done = done
	c.stopCh = stop
	c.stopOnce = &sync.Once{}
	c.err = nil
	c.started = time.Now()
	c.finished = time.Time{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-done:
		}
	}()

	go func() {
		err := c.run(ctx, p, adapters, logicalIDs, stop)

		c.mu.Lock()
		c.err = err
		c.finished = time.Now()
		c.mu.Unlock()

		c.running.Store(false)
		close(done)
	}()

	return nil
}

// Run executes p and blocks until it completes or is stopped.
func (c *Coordinator) Run(ctx context.Context, p *plan.Plan) error {
	if err := c.Start(ctx, p); err != nil {
		return err
	}
	return c.Wait()
}

// Wait blocks until the current run ends and returns its error. It returns
// nil immediately if nothing was started.
func (c *Coordinator) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop cancels the run: the running tool is killed, every Testing method
// goes back to Idle with its elapsed time cleared, and no further method
// starts. Finished results and clock statistics are kept. Stop is
// idempotent and safe to call when nothing is running.
func (c *Coordinator) Stop() {
	c.cancelled.Store(true)

	c.mu.Lock()
	ctl := c.current
	stopOnce := c.stopOnce
	stop := c.stopCh
	c.mu.Unlock()

	if stopOnce != nil {
		stopOnce.Do(func() { close(stop) })
	}
	if ctl != nil {
		ctl.Terminate()
		ctl.Finish()
	}

	if n := c.table.ResetTesting(); n > 0 {
		c.logger.Info("test_run_stopped", "reset", n)
	}
}

// Pause suspends the running tool. The method's budget keeps counting.
func (c *Coordinator) Pause() error {
	pid := c.currentPID()
	if pid == 0 {
		return ErrNotRunning
	}
	if err := c.launcher.Pause(context.Background(), pid); err != nil {
		return fmt.Errorf("pause pid %d: %w", pid, err)
	}
	c.paused.Store(true)
	c.logger.Info("stress_paused", "pid", pid)
	return nil
}

// Resume continues a paused tool.
func (c *Coordinator) Resume() error {
	pid := c.currentPID()
	if pid == 0 {
		return ErrNotRunning
	}
	if err := c.launcher.Resume(context.Background(), pid); err != nil {
		return fmt.Errorf("resume pid %d: %w", pid, err)
	}
	c.paused.Store(false)
	c.logger.Info("stress_resumed", "pid", pid)
	return nil
}

// Paused reports whether the running tool is suspended.
func (c *Coordinator) Paused() bool { return c.paused.Load() }

// Running reports whether a plan is executing.
func (c *Coordinator) Running() bool { return c.running.Load() }

// Cancelled reports whether Stop was called during the current or last run.
func (c *Coordinator) Cancelled() bool { return c.cancelled.Load() }

// Snapshot returns a copy of every core's status, sorted by core id.
func (c *Coordinator) Snapshot() []status.CoreTestStatus {
	return c.table.Snapshot()
}

// Table exposes the status table for read-only consumers.
func (c *Coordinator) Table() *status.Table { return c.table }

// Plan returns the plan of the current or last run, or nil.
func (c *Coordinator) Plan() *plan.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Elapsed returns the wall time of the current or last run.
func (c *Coordinator) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.started.IsZero():
		return 0
	case c.finished.IsZero():
		return time.Since(c.started)
	default:
		return c.finished.Sub(c.started)
	}
}

func (c *Coordinator) currentPID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.PID()
}

func (c *Coordinator) setCurrent(ctl *monitor.RunControl) {
	c.mu.Lock()
	c.current = ctl
	c.mu.Unlock()
}

// prepare resolves adapters and pinned logical CPUs before anything starts.
func (c *Coordinator) prepare(p *plan.Plan) ([]process.Adapter, map[int]int, error) {
	if p == nil {
		return nil, nil, plan.ErrEmptySelection
	}
	if c.topo == nil {
		return nil, nil, topology.ErrNoTopologySource
	}

	adapters, err := c.adapters.Adapters(p.Methods)
	if err != nil {
		return nil, nil, err
	}

	logicalIDs := make(map[int]int, len(p.CoreIDs))
	for _, id := range p.CoreIDs {
		lid, err := c.topo.LogicalIDFor(id)
		if err != nil {
			return nil, nil, err
		}
		logicalIDs[id] = lid
	}
	return adapters, logicalIDs, nil
}

// run walks the plan. Cores are strictly sequential; a failed method skips
// the rest of its core; a stop skips everything left.
func (c *Coordinator) run(ctx context.Context, p *plan.Plan, adapters []process.Adapter, logicalIDs map[int]int, stop <-chan struct{}) error {
	budget := p.MethodBudget()

	c.logger.Info("test_run_starting",
		"cores", p.CoreIDs,
		"methods", p.Methods,
		"duration_per_core", p.DurationPerCore.String(),
		"total_duration", stats.FormatDuration(p.TotalDuration()),
	)

	for i, coreID := range p.CoreIDs {
		if c.stopped(ctx) {
			break
		}

		logicalID := logicalIDs[coreID]
		c.logger.Info("core_test_starting",
			"core", coreID,
			"logical_cpu", logicalID,
			"position", i+1,
			"of", len(p.CoreIDs),
		)

		for j, adapter := range adapters {
			if c.stopped(ctx) {
				break
			}

			res, err := c.runMethod(ctx, coreID, logicalID, adapter, budget)
			if err != nil {
				c.coreDone(coreID)
				c.logger.Error("test_run_aborted", "core", coreID, "method", adapter.Method(), "error", err)
				return err
			}
			if res != status.Success {
				break
			}

			last := i == len(p.CoreIDs)-1 && j == len(adapters)-1
			if !last && !c.wait(ctx, stop) {
				break
			}
		}

		c.coreDone(coreID)
	}

	if c.stopped(ctx) {
		c.logger.Info("test_run_cancelled")
		return nil
	}
	c.logger.Info("test_run_complete", "cores", len(p.CoreIDs))
	return nil
}

func (c *Coordinator) coreDone(coreID int) {
	s, ok := c.table.Status(coreID)
	if !ok {
		return
	}
	c.logger.Info("core_test_complete",
		"core", coreID,
		"verdict", s.Verdict(),
		"max_mhz", s.MaxMHz,
		"avg_mhz", s.AvgMHz,
	)
	if c.callbacks.OnCoreDone != nil {
		c.callbacks.OnCoreDone(s)
	}
}

// stopped reports a user stop or a cancelled context.
func (c *Coordinator) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		c.cancelled.Store(true)
	}
	return c.cancelled.Load()
}

// wait sleeps for the cooldown. It returns false if the run was stopped.
func (c *Coordinator) wait(ctx context.Context, stop <-chan struct{}) bool {
	if c.cooldown <= 0 {
		return !c.stopped(ctx)
	}
	c.logger.Debug("cooldown", "duration", c.cooldown.String())
	select {
	case <-c.clock.After(c.cooldown):
		return !c.stopped(ctx)
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
