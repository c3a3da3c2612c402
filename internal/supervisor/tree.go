package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	ps "github.com/shirou/gopsutil/v3/process"
)

// procInfo is the part of a process table entry tree walks need.
type procInfo struct {
	pid  int
	ppid int
	exe  string
}

// snapshot lists every visible process. Unreadable fields are left empty:
// other users' processes commonly deny access to their exe link.
func snapshot(ctx context.Context) ([]procInfo, map[int]*ps.Process, error) {
	procs, err := ps.ProcessesWithContext(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list processes: %w", err)
	}
	infos := make([]procInfo, 0, len(procs))
	byPID := make(map[int]*ps.Process, len(procs))
	for _, p := range procs {
		ppid, _ := p.PpidWithContext(ctx)
		exe, _ := p.ExeWithContext(ctx)
		infos = append(infos, procInfo{pid: int(p.Pid), ppid: int(ppid), exe: exe})
		byPID[int(p.Pid)] = p
	}
	return infos, byPID, nil
}

// collectTargets returns root, every process whose executable lives under
// prefix, and all transitive descendants of those, sorted. self is never
// included, nor reached through.
func collectTargets(procs []procInfo, root int, prefix string, self int) []int {
	targets := make(map[int]bool)
	if root > 0 && root != self {
		targets[root] = true
	}
	if prefix != "" {
		for _, p := range procs {
			if p.pid != self && strings.HasPrefix(p.exe, prefix) {
				targets[p.pid] = true
			}
		}
	}
	return expand(procs, targets, self)
}

// descendantsOf returns root and its transitive descendants, sorted.
func descendantsOf(procs []procInfo, root int, self int) []int {
	if root <= 0 || root == self {
		return nil
	}
	return expand(procs, map[int]bool{root: true}, self)
}

// expand grows set along the ppid chain until it stops changing.
func expand(procs []procInfo, set map[int]bool, self int) []int {
	for changed := true; changed; {
		changed = false
		for _, p := range procs {
			if p.pid == self || set[p.pid] {
				continue
			}
			if set[p.ppid] {
				set[p.pid] = true
				changed = true
			}
		}
	}

	out := make([]int, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// TerminateTree SIGKILLs rootPID's process group, rootPID, every process
// running from the sandbox directory, and all of their descendants.
// A rootPID of 0 only kills the sandbox processes and their descendants.
// Processes that are already gone are not errors. Safe to call repeatedly.
func (s *Supervisor) TerminateTree(ctx context.Context, rootPID int) error {
	self := os.Getpid()

	if rootPID > 0 && rootPID != self {
		if pgid, err := syscall.Getpgid(rootPID); err == nil && pgid == rootPID {
			syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}

	infos, byPID, err := snapshot(ctx)
	if err != nil {
		return err
	}

	var errs []error
	targets := collectTargets(infos, rootPID, s.sandboxPrefix, self)
	for _, pid := range targets {
		p, ok := byPID[pid]
		if !ok {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil && !isGone(err) {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", pid, err))
		}
	}

	if len(targets) > 0 {
		s.logger.Debug("process_tree_terminated",
			"root_pid", rootPID,
			"killed", len(targets),
		)
	}
	return errors.Join(errs...)
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
