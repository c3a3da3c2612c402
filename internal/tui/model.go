package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries a status snapshot pushed from outside the tick loop.
type StatusMsg struct {
	Cores []status.CoreTestStatus
}

// DoneMsg signals the test run has ended. The dashboard stays up showing
// the final table until the user quits.
type DoneMsg struct {
	Err error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Controller is the part of the coordinator the dashboard drives.
type Controller interface {
	Snapshot() []status.CoreTestStatus
	Running() bool
	Paused() bool
	Plan() *plan.Plan
	Elapsed() time.Duration
	Stop()
	Pause() error
	Resume() error
}

// Config holds TUI configuration.
type Config struct {
	Controller  Controller
	ModelName   string
	MetricsAddr string

	// Offsets are curve-optimizer offsets shown next to each core.
	Offsets map[int]int
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	controller  Controller
	modelName   string
	metricsAddr string
	offsets     map[int]int

	// Current state
	cores      []status.CoreTestStatus
	running    bool
	paused     bool
	done       bool
	runErr     error
	notice     string
	elapsed    time.Duration
	lastUpdate time.Time

	// Display options
	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	m := Model{
		controller:  cfg.Controller,
		modelName:   cfg.ModelName,
		metricsAddr: cfg.MetricsAddr,
		offsets:     cfg.Offsets,
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
	m.refresh()
	return m
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.controller != nil && m.running {
				m.controller.Stop()
			}
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.controller != nil && m.running {
				m.controller.Stop()
				m.notice = "stopping..."
			}
			m.refresh()
			return m, nil
		case "p":
			m.togglePause()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case StatusMsg:
		m.cores = msg.Cores
		m.lastUpdate = time.Now()
		return m, nil

	case DoneMsg:
		m.refresh()
		m.done = true
		m.running = false
		m.paused = false
		m.runErr = msg.Err
		m.notice = ""
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

func (m *Model) refresh() {
	if m.controller == nil {
		return
	}
	m.cores = m.controller.Snapshot()
	m.running = m.controller.Running()
	m.paused = m.controller.Paused()
	m.elapsed = m.controller.Elapsed()
	m.lastUpdate = time.Now()
}

func (m *Model) togglePause() {
	if m.controller == nil || !m.running {
		return
	}
	var err error
	if m.controller.Paused() {
		err = m.controller.Resume()
	} else {
		err = m.controller.Pause()
	}
	m.notice = ""
	if err != nil {
		m.notice = err.Error()
	}
	m.paused = m.controller.Paused()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the run time reported by the controller.
func (m Model) Elapsed() time.Duration {
	return m.elapsed
}

// Progress returns the share of planned method time that has run, 0.0 to 1.0.
// Failed and finished methods count in full.
func (m Model) Progress() float64 {
	var done, total uint64
	for _, c := range m.cores {
		for _, ms := range c.Methods {
			total += ms.TotalSecs
			switch ms.State {
			case status.Success, status.Failed:
				done += ms.TotalSecs
			case status.Testing:
				done += min(ms.CurrentSecs, ms.TotalSecs)
			}
		}
		if c.Verdict() == "failed" {
			// remaining methods on a failed core are skipped
			for _, ms := range c.Methods {
				if ms.State == status.Idle {
					done += ms.TotalSecs
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// Active returns the core and method under test, if any.
func (m Model) Active() (status.CoreTestStatus, process.Method, bool) {
	for _, c := range m.cores {
		for _, meth := range c.MethodOrder {
			if c.Methods[meth].State == status.Testing {
				return c, meth, true
			}
		}
	}
	return status.CoreTestStatus{}, "", false
}

// Counts returns how many cores passed and failed so far.
func (m Model) Counts() (passed, failed int) {
	for _, c := range m.cores {
		switch c.Verdict() {
		case "passed":
			passed++
		case "failed":
			failed++
		}
	}
	return passed, failed
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendDone tells the TUI the run ended.
func SendDone(p *tea.Program, err error) {
	if p != nil {
		p.Send(DoneMsg{Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
