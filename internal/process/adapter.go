// Package process describes the external stress-test programs the tester
// drives: how to start them, what keystrokes select a single-core torture
// test, and which output line signals a computation error.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Method names a stress-test workload.
type Method string

const (
	// MethodPrime95 is mprime's torture test.
	MethodPrime95 Method = "Prime95"

	// MethodYCruncher is y-cruncher's component stress tester.
	MethodYCruncher Method = "YCruncher"
)

// DefaultSandboxDir is where the stress binaries are expected to live.
const DefaultSandboxDir = "/tmp/pbo-assistant"

// DefaultFailureMarker is the line both supported tools print when a
// torture-test computation produced a wrong result.
const DefaultFailureMarker = "TORTURE TEST FAILED"

var (
	// ErrUnknownMethod is returned for a method name no adapter handles.
	ErrUnknownMethod = errors.New("unknown test method")

	// ErrBinaryMissing is returned by Initialize when the stress binary is absent.
	ErrBinaryMissing = errors.New("stress binary missing")
)

// AllMethods returns every supported method in default run order.
func AllMethods() []Method {
	return []Method{MethodPrime95, MethodYCruncher}
}

// ParseMethod parses a user-supplied method name.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prime95", "mprime", "p95":
		return MethodPrime95, nil
	case "ycruncher", "y-cruncher", "yc":
		return MethodYCruncher, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// ParseMethods parses a list of method names, preserving order.
func ParseMethods(names []string) ([]Method, error) {
	methods := make([]Method, 0, len(names))
	for _, n := range names {
		m, err := ParseMethod(n)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// String implements fmt.Stringer.
func (m Method) String() string {
	return string(m)
}

// Adapter starts one stress tool configured to load a single logical CPU.
type Adapter interface {
	// Method identifies the workload.
	Method() Method

	// Initialize verifies the binary exists and is executable.
	Initialize() error

	// BuildCommand returns a ready-to-start command. It is not started.
	BuildCommand(ctx context.Context, logicalID int) (*exec.Cmd, error)

	// Script returns the keystrokes, one per line, that select a
	// single-core stress test from the tool's interactive menu.
	Script(logicalID int) []string

	// FailureMarker is the substring that marks a failed computation.
	FailureMarker() string

	// BinaryPath is the executable the command runs.
	BinaryPath() string
}

// CommandString renders a command for display.
func CommandString(cmd *exec.Cmd) string {
	return strings.Join(cmd.Args, " ")
}

// ensureExecutable checks path exists and sets the exec bits if needed.
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBinaryMissing, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrBinaryMissing, path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

// Registry maps methods to the adapter that runs them.
type Registry map[Method]Adapter

// NewRegistry builds a registry from adapters.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Method()] = a
	}
	return r
}

// Get returns the adapter for m.
func (r Registry) Get(m Method) (Adapter, error) {
	a, ok := r[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
	return a, nil
}

// Adapters returns the adapters for methods, in order.
func (r Registry) Adapters(methods []Method) ([]Adapter, error) {
	out := make([]Adapter, 0, len(methods))
	for _, m := range methods {
		a, err := r.Get(m)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
