package monitor

import (
	"context"
	"time"
)

// WatchBudget waits until the launcher has attached the pinned process and
// then enforces budget from that moment, so the launch grace delay is not
// charged to the method. A run finished before Attach returns at once.
func WatchBudget(ctx context.Context, cfg Config, budget time.Duration) error {
	select {
	case <-ctx.Done():
		return nil
	case <-cfg.Control.Finished():
		return nil
	case <-cfg.Control.Ready():
	}
	start := cfg.clock().Now()
	return WatchDeadline(ctx, cfg, start, start.Add(budget))
}

// WatchDeadline enforces the method budget. Each tick it publishes the
// elapsed seconds; at end it sets timeUp and kills the process tree. A
// verification failure, user stop or Finish from another task also kills
// the tree and ends the run.
func WatchDeadline(ctx context.Context, cfg Config, start, end time.Time) error {
	clock := cfg.clock()
	logger := cfg.logger()

	for {
		now := clock.Now()
		if !now.Before(end) {
			cfg.Control.SetTimeUp()
			cfg.Control.Terminate()
			logger.Debug("method_budget_elapsed",
				"core", cfg.CoreID,
				"method", cfg.Method,
			)
			return nil
		}

		if cfg.Table.VerificationFailed(cfg.CoreID) || cfg.cancelled() {
			cfg.Control.Terminate()
			cfg.Control.Finish()
			return nil
		}

		cfg.Table.SetElapsed(cfg.CoreID, cfg.Method, uint64(now.Sub(start)/time.Second))

		wait := cfg.interval()
		if remaining := end.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil
		case <-cfg.Control.Finished():
			// a watcher or the launcher ended the run
			cfg.Control.Terminate()
			return nil
		case <-clock.After(wait):
		}
	}
}
