package monitor

import (
	"context"

	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

// SampleFrequency records the clock of the pinned logical CPU every tick
// until the run finishes, a failure is seen, or the user stops.
func SampleFrequency(ctx context.Context, cfg Config, reader topology.FrequencyReader) error {
	clock := cfg.clock()
	logger := cfg.logger()
	warned := false

	for {
		if cfg.Control.TimeUp() || cfg.Table.VerificationFailed(cfg.CoreID) || cfg.cancelled() {
			return nil
		}

		mhz, err := reader.CurrentMHz(cfg.LogicalID)
		switch {
		case err != nil:
			if !warned {
				logger.Warn("frequency_read_failed",
					"core", cfg.CoreID,
					"logical_cpu", cfg.LogicalID,
					"error", err,
				)
				warned = true
			}
		default:
			if err := cfg.Table.RecordClock(cfg.CoreID, mhz); err != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-cfg.Control.Finished():
			return nil
		case <-clock.After(cfg.interval()):
		}
	}
}
