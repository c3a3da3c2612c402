package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Pause stops rootPID and its descendants with SIGSTOP.
func (s *Supervisor) Pause(ctx context.Context, rootPID int) error {
	return s.signalTree(ctx, rootPID, "pause")
}

// Resume continues rootPID and its descendants with SIGCONT.
func (s *Supervisor) Resume(ctx context.Context, rootPID int) error {
	return s.signalTree(ctx, rootPID, "resume")
}

func (s *Supervisor) signalTree(ctx context.Context, rootPID int, op string) error {
	infos, byPID, err := snapshot(ctx)
	if err != nil {
		return err
	}

	var errs []error
	pids := descendantsOf(infos, rootPID, os.Getpid())
	for _, pid := range pids {
		p, ok := byPID[pid]
		if !ok {
			continue
		}
		switch op {
		case "pause":
			err = p.SuspendWithContext(ctx)
		default:
			err = p.ResumeWithContext(ctx)
		}
		if err != nil && !isGone(err) {
			errs = append(errs, fmt.Errorf("%s pid %d: %w", op, pid, err))
		}
	}

	s.logger.Info("process_tree_"+op,
		"root_pid", rootPID,
		"processes", len(pids),
	)
	return errors.Join(errs...)
}
