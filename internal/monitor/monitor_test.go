package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/parser"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeClock advances by d on every After call and fires immediately.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// scriptedReader returns values in order; onRead runs after each read.
type scriptedReader struct {
	mu     sync.Mutex
	values []float64
	err    error
	reads  int
	onRead func(n int)
}

func (r *scriptedReader) CurrentMHz(int) (float64, error) {
	r.mu.Lock()
	r.reads++
	n := r.reads
	var v float64
	if len(r.values) > 0 {
		v = r.values[(n-1)%len(r.values)]
	}
	r.mu.Unlock()

	if r.onRead != nil {
		r.onRead(n)
	}
	return v, r.err
}

type terminateRecorder struct {
	calls atomic.Int32
	pid   atomic.Int32
}

func (r *terminateRecorder) terminate(pid int) {
	r.calls.Add(1)
	r.pid.Store(int32(pid))
}

const testMethod = process.MethodPrime95

func newRun(t *testing.T) (Config, *terminateRecorder) {
	t.Helper()
	tbl := status.NewTable()
	tbl.Reset([]int{0}, map[int]int{0: 0}, []process.Method{testMethod}, 10*time.Second)
	if err := tbl.SetState(0, testMethod, status.Testing); err != nil {
		t.Fatal(err)
	}
	rec := &terminateRecorder{}
	return Config{
		CoreID:    0,
		LogicalID: 0,
		Method:    testMethod,
		Table:     tbl,
		Control:   NewRunControl(rec.terminate),
		Interval:  10 * time.Millisecond,
	}, rec
}

func runWithTimeout(t *testing.T, timeout time.Duration, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watcher returned error: %v", err)
		}
	case <-time.After(timeout):
		t.Fatalf("watcher did not return within %v", timeout)
	}
}

// =============================================================================
// RunControl
// =============================================================================

func TestRunControl(t *testing.T) {
	rec := &terminateRecorder{}
	c := NewRunControl(rec.terminate)

	c.Terminate()
	if rec.calls.Load() != 0 {
		t.Error("Terminate() before Attach called terminate")
	}

	lines := make(chan string)
	c.Attach(42, lines)
	select {
	case <-c.Ready():
	default:
		t.Fatal("Ready() not closed after Attach")
	}
	if c.PID() != 42 {
		t.Errorf("PID() = %d", c.PID())
	}

	c.Terminate()
	c.Terminate()
	if rec.calls.Load() != 2 || rec.pid.Load() != 42 {
		t.Errorf("terminate calls = %d pid = %d", rec.calls.Load(), rec.pid.Load())
	}

	c.SetTimeUp()
	c.SetTimeUp()
	c.Finish()
	if !c.TimeUp() {
		t.Error("TimeUp() = false")
	}
	select {
	case <-c.Finished():
	default:
		t.Error("Finished() not closed by SetTimeUp")
	}
}

func TestRunControl_AfterExit(t *testing.T) {
	rec := &terminateRecorder{}
	c := NewRunControl(rec.terminate)

	exited := make(chan struct{})
	c.WatchExit(exited)
	c.Attach(42, nil)

	if c.Exited() {
		t.Fatal("Exited() = true while the process runs")
	}
	c.Terminate()
	if rec.pid.Load() != 42 {
		t.Fatalf("terminate pid = %d, want 42", rec.pid.Load())
	}

	// The pid may be recycled once reaped; only the sandbox sweep runs.
	close(exited)
	if !c.Exited() {
		t.Error("Exited() = false after the process was reaped")
	}
	if c.PID() != 0 {
		t.Errorf("PID() = %d after exit, want 0", c.PID())
	}
	c.Terminate()
	if rec.calls.Load() != 2 || rec.pid.Load() != 0 {
		t.Errorf("terminate calls = %d pid = %d, want 2 calls ending with pid 0", rec.calls.Load(), rec.pid.Load())
	}
}

// =============================================================================
// Deadline timer
// =============================================================================

func TestWatchDeadline_TimeUp(t *testing.T) {
	cfg, rec := newRun(t)
	cfg.Control.Attach(123, nil)

	start := time.Now()
	runWithTimeout(t, 2*time.Second, func() error {
		return WatchDeadline(context.Background(), cfg, start, start.Add(100*time.Millisecond))
	})

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, before the deadline", elapsed)
	}
	if !cfg.Control.TimeUp() {
		t.Error("TimeUp() = false after deadline")
	}
	if rec.calls.Load() == 0 || rec.pid.Load() != 123 {
		t.Errorf("terminate calls = %d pid = %d, want pid 123", rec.calls.Load(), rec.pid.Load())
	}
}

func TestWatchDeadline_PublishesElapsed(t *testing.T) {
	cfg, _ := newRun(t)
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cfg.Clock = &fakeClock{now: start}
	cfg.Interval = time.Second

	runWithTimeout(t, time.Second, func() error {
		return WatchDeadline(context.Background(), cfg, start, start.Add(3*time.Second))
	})

	s, _ := cfg.Table.Status(0)
	ms := s.Methods[testMethod]
	if ms.CurrentSecs != 2 {
		t.Errorf("CurrentSecs = %d, want 2", ms.CurrentSecs)
	}
	if ms.State != status.Testing {
		t.Errorf("deadline timer changed state to %s", ms.State)
	}
	if !cfg.Control.TimeUp() {
		t.Error("TimeUp() = false")
	}
}

func TestWatchDeadline_StopsEarly(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *Config)
	}{
		{
			name: "verification failed",
			setup: func(cfg *Config) {
				cfg.Table.MarkVerificationFailed(0, "TORTURE TEST FAILED")
			},
		},
		{
			name: "user cancel",
			setup: func(cfg *Config) {
				cfg.Cancelled = func() bool { return true }
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, rec := newRun(t)
			cfg.Control.Attach(7, nil)
			tt.setup(&cfg)

			start := time.Now()
			runWithTimeout(t, time.Second, func() error {
				return WatchDeadline(context.Background(), cfg, start, start.Add(time.Hour))
			})

			if cfg.Control.TimeUp() {
				t.Error("TimeUp() = true on early stop")
			}
			if rec.calls.Load() == 0 {
				t.Error("process tree not terminated")
			}
			select {
			case <-cfg.Control.Finished():
			default:
				t.Error("Finished() not closed")
			}
		})
	}
}

func TestWatchDeadline_WakesOnFinish(t *testing.T) {
	cfg, rec := newRun(t)
	cfg.Interval = time.Hour
	cfg.Control.Attach(9, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cfg.Table.MarkVerificationFailed(0, "marker")
		cfg.Control.Finish()
	}()

	start := time.Now()
	runWithTimeout(t, 2*time.Second, func() error {
		return WatchDeadline(context.Background(), cfg, start, start.Add(2*time.Hour))
	})
	if rec.calls.Load() == 0 {
		t.Error("process tree not terminated")
	}
}

func TestWatchDeadline_FinishedByLauncher(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Interval = time.Hour
	cfg.Control.Finish()

	start := time.Now()
	runWithTimeout(t, time.Second, func() error {
		return WatchDeadline(context.Background(), cfg, start, start.Add(time.Hour))
	})
	if cfg.Control.TimeUp() {
		t.Error("TimeUp() = true when the launcher ended the run")
	}
}

func TestWatchDeadline_ContextCancelled(t *testing.T) {
	cfg, _ := newRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	runWithTimeout(t, time.Second, func() error {
		return WatchDeadline(ctx, cfg, start, start.Add(time.Hour))
	})
}

func TestWatchBudget_StartsAtAttach(t *testing.T) {
	cfg, rec := newRun(t)
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	cfg.Clock = clock
	cfg.Interval = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		// launch grace delay passes before the process is attached
		clock.mu.Lock()
		clock.now = clock.now.Add(5 * time.Second)
		clock.mu.Unlock()
		cfg.Control.Attach(11, nil)
	}()

	runWithTimeout(t, 2*time.Second, func() error {
		return WatchBudget(context.Background(), cfg, 3*time.Second)
	})

	s, _ := cfg.Table.Status(0)
	if got := s.Methods[testMethod].CurrentSecs; got != 2 {
		t.Errorf("CurrentSecs = %d, want 2 (measured from attach)", got)
	}
	if !cfg.Control.TimeUp() {
		t.Error("TimeUp() = false")
	}
	if rec.pid.Load() != 11 {
		t.Errorf("terminate pid = %d, want 11", rec.pid.Load())
	}
}

func TestWatchBudget_FinishedBeforeAttach(t *testing.T) {
	cfg, rec := newRun(t)
	cfg.Control.Finish()

	runWithTimeout(t, time.Second, func() error {
		return WatchBudget(context.Background(), cfg, time.Hour)
	})
	if cfg.Control.TimeUp() {
		t.Error("TimeUp() = true for a run that never attached")
	}
	if rec.calls.Load() != 0 {
		t.Errorf("terminate calls = %d, want 0", rec.calls.Load())
	}
}

// =============================================================================
// Frequency sampler
// =============================================================================

func TestSampleFrequency_RecordsUntilTimeUp(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Clock = &fakeClock{now: time.Now()}

	reader := &scriptedReader{values: []float64{4500, 4700, 4400, 4650, 4600}}
	reader.onRead = func(n int) {
		if n == 5 {
			cfg.Control.SetTimeUp()
		}
	}

	runWithTimeout(t, time.Second, func() error {
		return SampleFrequency(context.Background(), cfg, reader)
	})

	s, _ := cfg.Table.Status(0)
	if s.Samples != 5 {
		t.Errorf("Samples = %d, want 5", s.Samples)
	}
	if s.MaxMHz != 4700 || s.MinMHz != 4400 {
		t.Errorf("max/min = %d/%d, want 4700/4400", s.MaxMHz, s.MinMHz)
	}
}

func TestSampleFrequency_StopsOnVerificationFailure(t *testing.T) {
	cfg, _ := newRun(t)
	reader := &scriptedReader{values: []float64{4500}}
	reader.onRead = func(n int) {
		if n == 3 {
			cfg.Table.MarkVerificationFailed(0, "marker")
		}
	}

	runWithTimeout(t, 2*time.Second, func() error {
		return SampleFrequency(context.Background(), cfg, reader)
	})

	s, _ := cfg.Table.Status(0)
	if s.Samples != 3 {
		t.Errorf("Samples = %d, want 3", s.Samples)
	}
}

func TestSampleFrequency_ReadErrorsAreTolerated(t *testing.T) {
	cfg, _ := newRun(t)
	reader := &scriptedReader{err: errors.New("no cpufreq")}
	reader.onRead = func(n int) {
		if n == 4 {
			cfg.Control.SetTimeUp()
		}
	}

	runWithTimeout(t, 2*time.Second, func() error {
		return SampleFrequency(context.Background(), cfg, reader)
	})

	s, _ := cfg.Table.Status(0)
	if s.Samples != 0 {
		t.Errorf("Samples = %d, want 0", s.Samples)
	}
	if reader.reads != 4 {
		t.Errorf("reads = %d, want 4", reader.reads)
	}
}

func TestSampleFrequency_Cancelled(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Cancelled = func() bool { return true }
	reader := &scriptedReader{values: []float64{4500}}

	runWithTimeout(t, time.Second, func() error {
		return SampleFrequency(context.Background(), cfg, reader)
	})
	if reader.reads != 0 {
		t.Errorf("reads = %d after cancel, want 0", reader.reads)
	}
}

// =============================================================================
// Output scanner
// =============================================================================

func feed(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

func TestScanOutput_Marker(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Control.Attach(1, feed(
		"Test 1, 7000 Lucas-Lehmer iterations of M172031 using FMA3 FFT length 8K.",
		"FATAL ERROR: Rounding was 0.5, expected less than 0.4",
		"Hardware failure detected, consult stress.txt file.",
		"TORTURE TEST FAILED on worker #1",
		"after the marker",
	))

	var seen []string
	matcher := parser.NewMarkerMatcher(process.DefaultFailureMarker)
	runWithTimeout(t, time.Second, func() error {
		return ScanOutput(context.Background(), cfg, matcher, func(l string) { seen = append(seen, l) })
	})

	if !cfg.Table.VerificationFailed(0) {
		t.Fatal("VerificationFailed() = false")
	}
	s, _ := cfg.Table.Status(0)
	if s.FailureLine != "TORTURE TEST FAILED on worker #1" {
		t.Errorf("FailureLine = %q", s.FailureLine)
	}
	if len(seen) != 4 {
		t.Errorf("onLine saw %d lines, want 4 (stop at marker)", len(seen))
	}
	if cfg.Control.OutputEnded() {
		t.Error("OutputEnded() = true on marker")
	}
	select {
	case <-cfg.Control.Finished():
	default:
		t.Error("marker did not finish the run")
	}
}

func TestScanOutput_EOFWithoutMarker(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Control.Attach(1, feed("Self-test 8K passed!"))

	matcher := parser.NewMarkerMatcher(process.DefaultFailureMarker)
	runWithTimeout(t, time.Second, func() error {
		return ScanOutput(context.Background(), cfg, matcher, nil)
	})

	if cfg.Table.VerificationFailed(0) {
		t.Error("VerificationFailed() = true without marker")
	}
	if !cfg.Control.OutputEnded() {
		t.Error("OutputEnded() = false at EOF")
	}
}

func TestScanOutput_EOFAfterTimeUpIsNotEarly(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Control.Attach(1, feed())
	cfg.Control.timeUp.Store(true)

	runWithTimeout(t, time.Second, func() error {
		return ScanOutput(context.Background(), cfg, parser.NewMarkerMatcher("X"), nil)
	})
	if cfg.Control.OutputEnded() {
		t.Error("OutputEnded() = true after time up")
	}
}

func TestScanOutput_FinishedBeforeAttach(t *testing.T) {
	cfg, _ := newRun(t)
	cfg.Control.SetTimeUp()

	runWithTimeout(t, time.Second, func() error {
		return ScanOutput(context.Background(), cfg, parser.NewMarkerMatcher("X"), nil)
	})
}

func TestScanOutput_NeverStuckOnSilentChild(t *testing.T) {
	cfg, _ := newRun(t)
	silent := make(chan string) // never written, never closed
	cfg.Control.Attach(1, silent)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	runWithTimeout(t, time.Second, func() error {
		return ScanOutput(ctx, cfg, parser.NewMarkerMatcher("X"), nil)
	})
}
