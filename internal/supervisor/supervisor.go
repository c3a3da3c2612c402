// Package supervisor launches stress-tool processes, pins them to a single
// logical CPU, and tears down everything they spawned.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
)

// DefaultGraceDelay is how long a freshly started tool gets to spawn its
// worker threads before the affinity mask is applied.
const DefaultGraceDelay = time.Second

// Pinner restricts a process to one logical CPU.
type Pinner interface {
	Pin(pid, logicalID int) error
}

// Callbacks contains optional callback functions for process events.
type Callbacks struct {
	// OnStart is called once the process is running and pinned.
	OnStart func(method process.Method, pid, logicalID int)

	// OnExit is called when the process exits.
	OnExit func(method process.Method, pid, exitCode int, uptime time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// SandboxDir is where the stress binaries live. Any process whose
	// executable is under it is treated as ours by TerminateTree.
	SandboxDir string

	GraceDelay time.Duration
	Pinner     Pinner
	Logger     *slog.Logger
	Callbacks  Callbacks
}

// Supervisor starts and stops stress-tool processes.
type Supervisor struct {
	sandboxPrefix string
	grace         time.Duration
	pinner        Pinner
	logger        *slog.Logger
	callbacks     Callbacks
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pinner := cfg.Pinner
	if pinner == nil {
		pinner = AffinityPinner{}
	}
	var prefix string
	if cfg.SandboxDir != "" {
		prefix = filepath.Clean(cfg.SandboxDir) + string(filepath.Separator)
	}
	return &Supervisor{
		sandboxPrefix: prefix,
		grace:         cfg.GraceDelay,
		pinner:        pinner,
		logger:        logger,
		callbacks:     cfg.Callbacks,
	}
}

// Handle is a running stress-tool process.
type Handle struct {
	method  process.Method
	pid     int
	cmd     *exec.Cmd
	stdout  *os.File
	started time.Time

	done     chan struct{}
	waitErr  error
	exitCode int

	closeOnce sync.Once
}

// PID returns the process id.
func (h *Handle) PID() int { return h.pid }

// Stdout returns the merged stdout/stderr stream of the process.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the process exits and returns its wait error.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
func (h *Handle) ExitCode() int {
	<-h.done
	return h.exitCode
}

// Close releases the read end of the output pipe. Safe to call multiple times.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.stdout.Close()
	})
	return err
}

// Launch starts the adapter's tool, types its menu script, waits the grace
// delay and pins the process to logicalID.
//
// On any error after the process started, the process tree is killed
// before returning.
func (s *Supervisor) Launch(ctx context.Context, adapter process.Adapter, logicalID int) (*Handle, error) {
	method := adapter.Method()

	cmd, err := adapter.BuildCommand(ctx, logicalID)
	if err != nil {
		return nil, fmt.Errorf("build %s command: %w", method, err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdin pipe: %w", method, err)
	}

	// stdout and stderr share one pipe so the scanner sees both
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s output pipe: %w", method, err)
	}
	cmd.Stdout = outWrite
	cmd.Stderr = outWrite

	// Own process group so the whole tree can be signalled at once
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		outRead.Close()
		outWrite.Close()
		return nil, fmt.Errorf("start %s: %w", method, err)
	}

	// Close parent's write end so EOF arrives when the tool exits
	outWrite.Close()

	h := &Handle{
		method:  method,
		pid:     cmd.Process.Pid,
		cmd:     cmd,
		stdout:  outRead,
		started: started,
		done:    make(chan struct{}),
	}
	go s.reap(h)

	s.logger.Info("stress_process_started",
		"method", method,
		"pid", h.pid,
		"logical_cpu", logicalID,
		"cmd", process.CommandString(cmd),
	)

	s.writeScript(stdin, adapter.Script(logicalID), method, h.pid)

	if s.grace > 0 {
		select {
		case <-ctx.Done():
			s.abort(h)
			return nil, ctx.Err()
		case <-h.done:
			// exited during grace; the scanner will see EOF
		case <-time.After(s.grace):
		}
	}

	select {
	case <-h.done:
		s.logger.Warn("stress_process_exited_before_pinning",
			"method", method,
			"pid", h.pid,
			"exit_code", h.exitCode,
		)
	default:
		if err := s.pinner.Pin(h.pid, logicalID); err != nil {
			s.abort(h)
			return nil, fmt.Errorf("pin %s pid %d to cpu %d: %w", method, h.pid, logicalID, err)
		}
		s.logger.Debug("stress_process_pinned",
			"method", method,
			"pid", h.pid,
			"logical_cpu", logicalID,
		)
	}

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(method, h.pid, logicalID)
	}
	return h, nil
}

// writeScript types the menu keystrokes and closes stdin.
func (s *Supervisor) writeScript(stdin io.WriteCloser, script []string, method process.Method, pid int) {
	defer stdin.Close()
	for _, line := range script {
		if _, err := io.WriteString(stdin, line+"\n"); err != nil {
			s.logger.Warn("stress_script_write_failed",
				"method", method,
				"pid", pid,
				"error", err,
			)
			return
		}
	}
}

// reap waits for the process and records how it ended.
func (s *Supervisor) reap(h *Handle) {
	h.waitErr = h.cmd.Wait()
	h.exitCode = extractExitCode(h.waitErr)
	uptime := time.Since(h.started)
	close(h.done)

	s.logger.Info("stress_process_exited",
		"method", h.method,
		"pid", h.pid,
		"exit_code", h.exitCode,
		"uptime", uptime.String(),
	)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(h.method, h.pid, h.exitCode, uptime)
	}
}

// abort kills a handle's tree and releases its pipe.
func (s *Supervisor) abort(h *Handle) {
	if err := s.TerminateTree(context.Background(), h.pid); err != nil {
		s.logger.Warn("terminate_tree_failed", "pid", h.pid, "error", err)
	}
	h.Close()
}

// extractExitCode extracts the exit code from an exec error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	return -1
}
