package process

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
)

// YCruncherConfig holds configuration for the y-cruncher adapter.
type YCruncherConfig struct {
	BinaryPath string
	Marker     string
}

// DefaultYCruncherConfig returns the layout of a y-cruncher install in sandboxDir.
func DefaultYCruncherConfig(sandboxDir string) *YCruncherConfig {
	if sandboxDir == "" {
		sandboxDir = DefaultSandboxDir
	}
	return &YCruncherConfig{
		BinaryPath: filepath.Join(sandboxDir, "ycruncher"),
		Marker:     DefaultFailureMarker,
	}
}

// YCruncher drives y-cruncher's component stress tester.
type YCruncher struct {
	config *YCruncherConfig
}

// NewYCruncher creates a YCruncher adapter.
func NewYCruncher(cfg *YCruncherConfig) *YCruncher {
	return &YCruncher{config: cfg}
}

func (y *YCruncher) Method() Method        { return MethodYCruncher }
func (y *YCruncher) BinaryPath() string    { return y.config.BinaryPath }
func (y *YCruncher) Initialize() error     { return ensureExecutable(y.config.BinaryPath) }
func (y *YCruncher) FailureMarker() string { return markerOrDefault(y.config.Marker) }

func (y *YCruncher) BuildCommand(ctx context.Context, logicalID int) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, y.config.BinaryPath)
	cmd.Dir = filepath.Dir(y.config.BinaryPath)
	return cmd, nil
}

// Script restricts the stress tester to logicalID and runs it until killed.
func (y *YCruncher) Script(logicalID int) []string {
	return []string{
		"1", // Component Stress Tester
		"1", // modify cores
		"d", // disable all cores
		strconv.Itoa(logicalID),
		"",  // leave core dialog
		"2", // modify memory settings
		"",  // leave memory dialog
		"5", // run forever
		"0", // start
	}
}
