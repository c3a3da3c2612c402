package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-pbo-assistant/internal/logging"
	"github.com/randomizedcoder/go-pbo-assistant/internal/monitor"
	"github.com/randomizedcoder/go-pbo-assistant/internal/parser"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
)

// failureContextLines is how much tool output is logged with a failure.
const failureContextLines = 10

// runMethod runs one stress method on one core for budget. It returns the
// state the method ended in (Idle when stopped) and an error only when
// the tool could not be started.
func (c *Coordinator) runMethod(ctx context.Context, coreID, logicalID int, adapter process.Adapter, budget time.Duration) (status.MethodRunState, error) {
	method := adapter.Method()

	if err := c.table.SetState(coreID, method, status.Testing); err != nil {
		return status.Idle, fmt.Errorf("core %d %s: %w", coreID, method, err)
	}
	if c.callbacks.OnMethodStart != nil {
		c.callbacks.OnMethodStart(coreID, method)
	}

	ctl := monitor.NewRunControl(c.terminate)
	c.setCurrent(ctl)
	defer c.setCurrent(nil)
	c.paused.Store(false)

	output := logging.NewOutputHandler(coreID, string(method), c.logger, c.verbose)
	matcher := parser.NewMarkerMatcher(adapter.FailureMarker())

	mcfg := monitor.Config{
		CoreID:    coreID,
		LogicalID: logicalID,
		Method:    method,
		Table:     c.table,
		Control:   ctl,
		Cancelled: c.cancelled.Load,
		Clock:     c.clock,
		Interval:  c.interval,
		Logger:    c.logger,
	}

	c.logger.Info("method_starting",
		"core", coreID,
		"logical_cpu", logicalID,
		"method", method,
		"budget", budget.String(),
		"markers", matcher.Markers(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.launchAndHold(gctx, ctl, coreID, logicalID, adapter)
	})
	g.Go(func() error {
		return monitor.SampleFrequency(gctx, mcfg, c.frequency)
	})
	g.Go(func() error {
		return monitor.ScanOutput(gctx, mcfg, matcher, output.HandleLine)
	})
	g.Go(func() error {
		return monitor.WatchBudget(gctx, mcfg, budget)
	})
	err := g.Wait()

	state := c.settle(ctx, coreID, method, ctl, budget, err)

	switch state {
	case status.Failed:
		s, _ := c.table.Status(coreID)
		attrs := []any{
			"core", coreID,
			"logical_cpu", logicalID,
			"method", method,
			"recent_output", output.RecentLines(failureContextLines),
		}
		if s.FailureLine != "" {
			attrs = append(attrs, "failure_line", s.FailureLine)
		}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		c.logger.Warn("method_failed", attrs...)
	case status.Success:
		c.logger.Info("method_passed",
			"core", coreID,
			"method", method,
			"inconclusive", ctl.OutputEnded(),
			"lines", output.LineCount(),
		)
	default:
		c.logger.Info("method_cancelled", "core", coreID, "method", method)
	}

	if c.callbacks.OnMethodDone != nil {
		c.callbacks.OnMethodDone(coreID, method, state)
	}
	return state, err
}

// settle moves the method out of Testing once every task has returned.
func (c *Coordinator) settle(ctx context.Context, coreID int, method process.Method, ctl *monitor.RunControl, budget time.Duration, runErr error) status.MethodRunState {
	if c.stopped(ctx) {
		// Stop may already have reset the entry.
		_ = c.table.SetState(coreID, method, status.Idle)
		return status.Idle
	}

	if runErr != nil {
		if err := c.table.Fail(coreID, method, runErr.Error()); err != nil && !errors.Is(err, status.ErrInvalidTransition) {
			c.logger.Warn("status_update_failed", "core", coreID, "method", method, "error", err)
		}
		return status.Failed
	}

	if ctl.OutputEnded() {
		_ = c.table.MarkInconclusive(coreID, method)
	}

	to := status.Success
	if c.table.VerificationFailed(coreID) {
		to = status.Failed
	} else {
		_ = c.table.SetElapsed(coreID, method, uint64(budget/time.Second))
	}

	if err := c.table.SetState(coreID, method, to); err != nil {
		// a concurrent Stop reset the entry
		c.logger.Debug("status_update_skipped", "core", coreID, "method", method, "error", err)
		return status.Idle
	}
	return to
}

// launchAndHold starts the tool, feeds its output to the scanner and holds
// the process until the run finishes. It then kills and reaps the tree.
func (c *Coordinator) launchAndHold(ctx context.Context, ctl *monitor.RunControl, coreID, logicalID int, adapter process.Adapter) error {
	method := adapter.Method()

	h, err := c.launcher.Launch(ctx, adapter, logicalID)
	if err != nil {
		ctl.Finish()
		return fmt.Errorf("launch %s on core %d: %w", method, coreID, err)
	}

	pipe := parser.NewPipeline(c.outputBuffer)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		pipe.RunReader(h.Stdout())
	}()
	ctl.WatchExit(h.Done())
	ctl.Attach(h.PID(), pipe.Lines())

	// Stop may have raced the launch.
	if c.cancelled.Load() {
		ctl.Finish()
	}

	select {
	case <-ctl.Finished():
	case <-ctx.Done():
	}

	ctl.Terminate()
	pipe.Close()
	<-h.Done()
	_ = h.Close()
	<-readerDone

	read, discarded, bytes := pipe.Stats()
	c.logger.Debug("stress_process_reaped",
		"core", coreID,
		"method", method,
		"pid", h.PID(),
		"exit_code", h.ExitCode(),
		"lines_read", read,
		"lines_discarded", discarded,
		"bytes_read", bytes,
	)
	return nil
}

// terminate kills a process tree. Used by every RunControl.
func (c *Coordinator) terminate(pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.launcher.TerminateTree(ctx, pid); err != nil {
		c.logger.Warn("terminate_failed", "pid", pid, "error", err)
	}
}
