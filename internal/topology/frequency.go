package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSysRoot is where the kernel exposes cpufreq state.
const DefaultSysRoot = "/sys"

// FrequencyReader reports the live clock of a logical CPU in MHz.
type FrequencyReader interface {
	CurrentMHz(logicalID int) (float64, error)
}

// SysfsFrequency reads scaling_cur_freq and falls back to re-resolving the
// cpuinfo source when cpufreq is not exposed (VMs, some containers).
type SysfsFrequency struct {
	sysRoot  string
	fallback *Resolver
}

// NewFrequencyReader creates a reader rooted at sysRoot ("" for /sys).
// fallback may be nil, in which case only sysfs is consulted.
func NewFrequencyReader(sysRoot string, fallback *Resolver) *SysfsFrequency {
	if sysRoot == "" {
		sysRoot = DefaultSysRoot
	}
	return &SysfsFrequency{sysRoot: sysRoot, fallback: fallback}
}

// CurrentMHz implements FrequencyReader.
func (f *SysfsFrequency) CurrentMHz(logicalID int) (float64, error) {
	path := filepath.Join(f.sysRoot, "devices", "system", "cpu",
		fmt.Sprintf("cpu%d", logicalID), "cpufreq", "scaling_cur_freq")

	data, err := os.ReadFile(path)
	if err == nil {
		khz, perr := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if perr == nil {
			return khz / 1000, nil
		}
		err = perr
	}

	if f.fallback == nil {
		return 0, fmt.Errorf("read frequency of cpu%d: %w", logicalID, err)
	}

	topo, rerr := f.fallback.Resolve()
	if rerr != nil {
		return 0, fmt.Errorf("read frequency of cpu%d: %w", logicalID, rerr)
	}
	mhz, ok := topo.CurrentMHz(logicalID)
	if !ok {
		return 0, fmt.Errorf("read frequency of cpu%d: no cpuinfo record", logicalID)
	}
	return mhz, nil
}
