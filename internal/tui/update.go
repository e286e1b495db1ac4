package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
)

// Update folds audit events and key presses into the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case AuditStartedMsg:
		m.ensure(msg.ID)
		r := m.rows[msg.ID]
		if !r.State.IsTerminal() {
			r.State = audit.StateOngoing
			r.StrategyID = msg.StrategyID
			m.rows[msg.ID] = r
		}
		return m, nil
	case AuditFinishedMsg:
		m.ensure(msg.ID)
		r := m.rows[msg.ID]
		if r.State.IsTerminal() {
			return m, nil
		}
		r.State = msg.State
		r.PlanID = msg.PlanID
		r.Actions = msg.Actions
		r.Reason = msg.Reason
		if msg.StrategyID != "" {
			r.StrategyID = msg.StrategyID
		}
		m.rows[msg.ID] = r

		switch msg.State {
		case audit.StateSucceeded:
			m.outcomes.Succeeded++
			m.outcomes.Actions += msg.Actions
		case audit.StateFailed:
			m.outcomes.Failed++
		case audit.StateCancelled:
			m.outcomes.Cancelled++
		}
		return m, nil
	case DoneMsg:
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.interrupted = true
			m.finished = true
			return m, tea.Quit
		}
	}

	return m, nil
}
