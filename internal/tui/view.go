package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/tui/components"
)

// View renders the current state of the batch.
func (m Model) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render(fmt.Sprintf("tuner • %s", m.heading())))

	progress := components.NewProgress(m.outcomes.Total).View(m.outcomes.Done())
	sections = append(sections, sectionStyle.Render("Progress"), progress)

	if len(m.order) > 0 {
		sections = append(sections, sectionStyle.Render("Audits"), m.renderRows())
	}

	summary := components.NewSummary(m.outcomes, m.interrupted).View()
	if m.finished && strings.TrimSpace(summary) != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderRows() string {
	lines := make([]string, 0, len(m.order))
	for _, id := range m.order {
		r := m.rows[id]
		icon := StatusIcon(r.State)
		if r.State == audit.StateOngoing && !m.finished {
			icon = m.spinner.View()
		}
		line := fmt.Sprintf(" %s %s", icon, r.ID)
		if r.StrategyID != "" {
			line += " [" + r.StrategyID + "]"
		}
		switch {
		case r.State == audit.StateSucceeded:
			line += fmt.Sprintf(": %d actions, plan %s", r.Actions, r.PlanID)
		case strings.TrimSpace(r.Reason) != "":
			line += ": " + r.Reason
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) heading() string {
	if strings.TrimSpace(m.title) != "" {
		return m.title
	}
	return "audits"
}

// StatusIcon returns the glyph representing an audit state.
func StatusIcon(state audit.State) string {
	switch state {
	case audit.StateSucceeded:
		return successStyle.Render("✓")
	case audit.StateOngoing:
		return runningStyle.Render("⏳")
	case audit.StateFailed:
		return failureStyle.Render("✗")
	case audit.StateCancelled:
		return skippedStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}
