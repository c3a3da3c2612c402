// Package monitor implements the three watchers that run alongside a
// stress-tool process: the frequency sampler, the output scanner and the
// deadline timer. They share a RunControl and the status table, and all
// return nil when their job is done; errors are reserved for the launcher.
package monitor

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
)

// DefaultInterval is the sampling and deadline tick.
const DefaultInterval = time.Second

// Clock abstracts time for the watchers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// RunControl is the per-run state shared by the launcher and the watchers.
// It is discarded when the run ends.
type RunControl struct {
	timeUp      atomic.Bool
	outputEnded atomic.Bool
	pid         atomic.Int64

	mu     sync.Mutex
	lines  <-chan string
	exited <-chan struct{}

	ready      chan struct{}
	readyOnce  sync.Once
	finished   chan struct{}
	finishOnce sync.Once

	terminate func(pid int)
}

// NewRunControl creates a RunControl. terminate kills the tree rooted at the
// given pid; it may be called more than once.
func NewRunControl(terminate func(pid int)) *RunControl {
	return &RunControl{
		ready:     make(chan struct{}),
		finished:  make(chan struct{}),
		terminate: terminate,
	}
}

// Attach publishes the launched process and its output lines.
func (c *RunControl) Attach(pid int, lines <-chan string) {
	c.mu.Lock()
	c.lines = lines
	c.mu.Unlock()
	c.pid.Store(int64(pid))
	c.readyOnce.Do(func() { close(c.ready) })
}

// WatchExit records a channel that is closed once the attached process
// has been reaped. After that its pid may belong to another process.
func (c *RunControl) WatchExit(exited <-chan struct{}) {
	c.mu.Lock()
	c.exited = exited
	c.mu.Unlock()
}

// Exited reports whether the attached process has been reaped.
func (c *RunControl) Exited() bool {
	c.mu.Lock()
	exited := c.exited
	c.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return true
	default:
		return false
	}
}

// Ready is closed once Attach has been called.
func (c *RunControl) Ready() <-chan struct{} { return c.ready }

// Lines returns the output channel published by Attach.
func (c *RunControl) Lines() <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// PID returns the attached process id, or 0 before Attach and after the
// process has been reaped.
func (c *RunControl) PID() int {
	if c.Exited() {
		return 0
	}
	return int(c.pid.Load())
}

// SetTimeUp records that the budget elapsed and finishes the run.
func (c *RunControl) SetTimeUp() {
	c.timeUp.Store(true)
	c.Finish()
}

// TimeUp reports whether the budget elapsed.
func (c *RunControl) TimeUp() bool { return c.timeUp.Load() }

// Finish wakes every watcher so it can return.
func (c *RunControl) Finish() {
	c.finishOnce.Do(func() { close(c.finished) })
}

// Finished is closed by Finish or SetTimeUp.
func (c *RunControl) Finished() <-chan struct{} { return c.finished }

// OutputEnded reports whether the output reached EOF before the deadline.
func (c *RunControl) OutputEnded() bool { return c.outputEnded.Load() }

// Terminate kills the attached process tree, if any. Once the process has
// been reaped terminate is called with pid 0, which only sweeps leftovers.
func (c *RunControl) Terminate() {
	if c.terminate == nil || c.pid.Load() == 0 {
		return
	}
	c.terminate(c.PID())
}

// Config is shared by the three watchers of one run.
type Config struct {
	CoreID    int
	LogicalID int
	Method    process.Method

	Table   *status.Table
	Control *RunControl

	// Cancelled reports a user stop. May be nil.
	Cancelled func() bool

	Clock    Clock
	Interval time.Duration
	Logger   *slog.Logger
}

func (cfg *Config) cancelled() bool {
	return cfg.Cancelled != nil && cfg.Cancelled()
}

func (cfg *Config) clock() Clock {
	if cfg.Clock == nil {
		return realClock{}
	}
	return cfg.Clock
}

func (cfg *Config) interval() time.Duration {
	if cfg.Interval <= 0 {
		return DefaultInterval
	}
	return cfg.Interval
}

func (cfg *Config) logger() *slog.Logger {
	if cfg.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg.Logger
}
