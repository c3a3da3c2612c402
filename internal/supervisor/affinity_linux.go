//go:build linux

package supervisor

import (
	"errors"
	"fmt"
	"sort"

	ps "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// AffinityPinner pins every thread of a process with sched_setaffinity.
// Threads created later inherit the mask from their creator.
type AffinityPinner struct{}

// cpuSetSize is the kernel's CPU_SETSIZE (x/sys/unix keeps it unexported).
const cpuSetSize = 1024

// Pin implements Pinner.
func (AffinityPinner) Pin(pid, logicalID int) error {
	if logicalID < 0 || logicalID >= cpuSetSize {
		return fmt.Errorf("logical cpu %d out of range", logicalID)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(logicalID)

	tids, err := threadIDs(pid)
	if err != nil {
		return err
	}
	for _, tid := range tids {
		if err := unix.SchedSetaffinity(tid, &set); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue // thread exited
			}
			return fmt.Errorf("sched_setaffinity tid %d: %w", tid, err)
		}
	}
	return nil
}

func threadIDs(pid int) ([]int, error) {
	p, err := ps.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("find pid %d: %w", pid, err)
	}
	threads, err := p.Threads()
	if err != nil || len(threads) == 0 {
		return []int{pid}, nil
	}
	tids := make([]int, 0, len(threads))
	for tid := range threads {
		tids = append(tids, int(tid))
	}
	sort.Ints(tids)
	return tids, nil
}

// Affinity returns the logical CPUs pid may run on.
func Affinity(pid int) ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity pid %d: %w", pid, err)
	}
	var cpus []int
	for i := 0; i < cpuSetSize; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
