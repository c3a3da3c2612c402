package process

import (
	"context"
	"os/exec"
	"path/filepath"
)

// Prime95Config holds configuration for the mprime adapter.
type Prime95Config struct {
	// BinaryPath is the mprime executable. prime.txt is read from its directory.
	BinaryPath string

	// Marker overrides the failure marker.
	Marker string
}

// DefaultPrime95Config returns the layout of an mprime install in sandboxDir.
func DefaultPrime95Config(sandboxDir string) *Prime95Config {
	if sandboxDir == "" {
		sandboxDir = DefaultSandboxDir
	}
	return &Prime95Config{
		BinaryPath: filepath.Join(sandboxDir, "mprime", "mprime"),
		Marker:     DefaultFailureMarker,
	}
}

// Prime95 drives mprime's torture test.
type Prime95 struct {
	config *Prime95Config
}

// NewPrime95 creates a Prime95 adapter.
func NewPrime95(cfg *Prime95Config) *Prime95 {
	return &Prime95{config: cfg}
}

func (p *Prime95) Method() Method        { return MethodPrime95 }
func (p *Prime95) BinaryPath() string    { return p.config.BinaryPath }
func (p *Prime95) Initialize() error     { return ensureExecutable(p.config.BinaryPath) }
func (p *Prime95) FailureMarker() string { return markerOrDefault(p.config.Marker) }

// BuildCommand runs mprime from its own directory so it picks up prime.txt.
func (p *Prime95) BuildCommand(ctx context.Context, logicalID int) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, p.config.BinaryPath)
	cmd.Dir = filepath.Dir(p.config.BinaryPath)
	return cmd, nil
}

// Script selects: torture test, one thread, no hyperthreading, smallest FFTs
// (heaviest on the core), accept defaults, and start. mprime gets pinned
// externally, so the logical id is not part of the dialog.
func (p *Prime95) Script(int) []string {
	return []string{
		"16", // Torture Test
		"1",  // number of torture test threads
		"N",  // use hyperthreading
		"2",  // type of torture test: smallest FFTs
		"N",  // customize settings
		"N",  // run a weaker torture test
		"Y",  // accept the answers above
	}
}

func markerOrDefault(m string) string {
	if m == "" {
		return DefaultFailureMarker
	}
	return m
}
