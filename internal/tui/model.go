package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/tui/components"
)

// AuditStartedMsg reports that an audit moved to ONGOING.
type AuditStartedMsg struct {
	ID         string
	StrategyID string
}

// AuditFinishedMsg reports a terminal audit state.
type AuditFinishedMsg struct {
	ID         string
	State      audit.State
	StrategyID string
	PlanID     string
	Actions    int
	Reason     string
}

// DoneMsg tells the model the batch returned and the program may quit.
type DoneMsg struct{}

type row struct {
	ID         string
	State      audit.State
	StrategyID string
	PlanID     string
	Actions    int
	Reason     string
}

// Model is the Bubbletea state of the audit progress view.
type Model struct {
	title       string
	rows        map[string]row
	order       []string
	outcomes    components.Outcomes
	spinner     spinner.Model
	finished    bool
	interrupted bool
}

// NewModel tracks the given audits, all initially PENDING.
func NewModel(title string, ids []string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	m := Model{
		title:   title,
		rows:    make(map[string]row, len(ids)),
		order:   make([]string, 0, len(ids)),
		spinner: s,
	}
	for _, id := range ids {
		m.ensure(id)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Outcomes returns the terminal-state counts observed so far.
func (m Model) Outcomes() components.Outcomes {
	return m.outcomes
}

// IsFinished reports whether the batch completed or was interrupted.
func (m Model) IsFinished() bool {
	return m.finished
}

// Interrupted reports whether the user pressed ctrl+c.
func (m Model) Interrupted() bool {
	return m.interrupted
}

func (m *Model) ensure(id string) {
	if id == "" {
		return
	}
	if _, ok := m.rows[id]; ok {
		return
	}
	m.rows[id] = row{ID: id, State: audit.StatePending}
	m.order = append(m.order, id)
	m.outcomes.Total++
}
