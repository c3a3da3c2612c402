package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per run.
	MaxBufferedLines = 100
)

// OutputHandler handles the merged output of one stress-tool run.
// It keeps recent lines for the failure report and logs them.
type OutputHandler struct {
	coreID  int
	method  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for one (core, method) run.
func NewOutputHandler(coreID int, method string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		coreID:  coreID,
		method:  method,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleLine processes a single line of tool output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.count++
	h.mu.Unlock()

	h.logLine(line)
}

func (h *OutputHandler) logLine(line string) {
	level := ClassifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "stress_output",
		"core", h.coreID,
		"method", h.method,
		"line", line,
	)
}

// ClassifyLine picks a log level for a line of mprime / y-cruncher output.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "torture test failed") ||
		strings.Contains(lower, "fatal error") ||
		strings.Contains(lower, "hardware failure") ||
		strings.Contains(lower, "rounding was") ||
		strings.Contains(lower, "possible hardware") ||
		strings.Contains(lower, "error") && strings.Contains(lower, "detected") {
		return slog.LevelWarn
	}

	// Progress chatter: self-tests, iteration counts, timestamps
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > h.count {
		n = h.count
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// LineCount returns the number of lines handled.
func (h *OutputHandler) LineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
