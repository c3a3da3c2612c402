package monitor

import (
	"context"

	"github.com/randomizedcoder/go-pbo-assistant/internal/parser"
)

// ScanOutput watches the tool's output for a failure marker. It waits for
// the launcher to attach the output, then consumes lines until a marker,
// EOF, the deadline, or cancellation. onLine, if set, sees every line.
func ScanOutput(ctx context.Context, cfg Config, matcher *parser.MarkerMatcher, onLine func(string)) error {
	logger := cfg.logger()

	select {
	case <-cfg.Control.Ready():
	case <-cfg.Control.Finished():
		return nil
	case <-ctx.Done():
		return nil
	}

	lines := cfg.Control.Lines()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cfg.Control.Finished():
			return nil
		case line, ok := <-lines:
			if !ok {
				if !cfg.Control.TimeUp() && !cfg.cancelled() {
					cfg.Control.outputEnded.Store(true)
					logger.Warn("stress_output_ended",
						"core", cfg.CoreID,
						"method", cfg.Method,
						"pid", cfg.Control.PID(),
					)
				}
				return nil
			}
			if cfg.Control.TimeUp() {
				return nil
			}
			if onLine != nil {
				onLine(line)
			}
			if marker, found := matcher.Match(line); found {
				cfg.Table.MarkVerificationFailed(cfg.CoreID, line)
				logger.Warn("verification_failed",
					"core", cfg.CoreID,
					"logical_cpu", cfg.LogicalID,
					"method", cfg.Method,
					"marker", marker,
					"line", line,
				)
				cfg.Control.Finish()
				return nil
			}
		}
	}
}
