package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-pbo-assistant/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderCoreTable(),
	}
	if m.done {
		sections = append(sections, m.renderResult())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	passed, failed := m.Counts()

	header := fmt.Sprintf(
		" go-pbo-assistant │ %s │ Cores: %d passed, %d failed of %d │ Elapsed: %s ",
		GetRunLabel(m.running, m.paused, m.done, failed),
		passed,
		failed,
		len(m.cores),
		stats.FormatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{sectionHeaderStyle.Render("Progress")}
	if m.modelName != "" {
		rows = append(rows, titleStyle.Render(m.modelName))
	}
	rows = append(rows, RenderProgressBar(m.Progress(), barWidth))

	if c, meth, ok := m.Active(); ok {
		ms := c.Methods[meth]
		rows = append(rows,
			RenderKeyValue("Testing", fmt.Sprintf("core %d (cpu %d) %s", c.CoreID, c.LogicalID, meth)),
			RenderKeyValue("Method time", stats.FormatProgress(ms.CurrentSecs, ms.TotalSecs)+
				unitStyle.Render(fmt.Sprintf("  %.0f%%", stats.Percent(ms.CurrentSecs, ms.TotalSecs)))),
			RenderKeyValue("Clock", stats.FormatMHz(c.AvgMHz)+unitStyle.Render(fmt.Sprintf("  (max %s)", stats.FormatMHz(c.MaxMHz)))),
		)
	} else if m.running {
		rows = append(rows, statusInfo.Render("Cooling down..."))
	}

	if m.notice != "" {
		rows = append(rows, statusWarning.Render(m.notice))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Core Table
// =============================================================================

func (m Model) renderCoreTable() string {
	if len(m.cores) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No cores planned."),
		)
	}

	methods := m.cores[0].MethodOrder
	cols := fmt.Sprintf("%-5s %-4s %-10s %-10s %-10s", "Core", "CPU", "Verdict", "Max", "Avg")
	for _, meth := range methods {
		cols += fmt.Sprintf(" %-9s", meth)
	}
	if len(m.offsets) > 0 {
		cols += " Offset"
	}
	header := tableHeaderStyle.Render(cols)

	// Table rows (limit to fit screen)
	maxRows := m.height - 14
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, c := range m.cores {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more cores", len(m.cores)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		verdict := c.Verdict()
		row := rowStyle.Render(fmt.Sprintf("%-5d %-4d ", c.CoreID, c.LogicalID)) +
			GetVerdictStyle(verdict).Render(fmt.Sprintf("%-10s", verdict)) +
			rowStyle.Render(fmt.Sprintf(" %-10s %-10s", stats.FormatMHz(c.MaxMHz), stats.FormatMHz(c.AvgMHz)))
		for _, meth := range methods {
			row += " " + GetStateLabel(c.Methods[meth])
		}
		if len(m.offsets) > 0 {
			if off, ok := m.offsets[c.CoreID]; ok {
				row += unitStyle.Render(fmt.Sprintf(" %+d", off))
			} else {
				row += unitStyle.Render(" -")
			}
		}
		rows = append(rows, row)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Cores"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Result
// =============================================================================

func (m Model) renderResult() string {
	var rows []string
	_, failed := m.Counts()
	switch {
	case m.runErr != nil:
		rows = append(rows, statusError.Render("Run aborted: "+m.runErr.Error()))
	case failed > 0:
		rows = append(rows, statusError.Render(fmt.Sprintf("%d core(s) failed", failed)))
	default:
		rows = append(rows, statusOK.Render("All tested cores passed"))
	}
	for _, c := range m.cores {
		if c.FailureLine != "" {
			rows = append(rows, mutedStyle.Render(fmt.Sprintf("core %d: %s", c.CoreID, truncate(c.FailureLine, m.width-16))))
		}
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	// Keyboard shortcuts
	shortcuts := []string{"q: quit"}
	if m.running {
		shortcuts = append(shortcuts, "s: stop")
		if m.paused {
			shortcuts = append(shortcuts, "p: resume")
		} else {
			shortcuts = append(shortcuts, "p: pause")
		}
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: " + m.metricsAddr)
	}
	if since := time.Since(m.lastUpdate); since > 5*time.Second {
		right = statusWarning.Render(fmt.Sprintf("stale %s", since.Truncate(time.Second))) + " " + right
	}

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func truncate(s string, n int) string {
	if n < 10 {
		n = 10
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
