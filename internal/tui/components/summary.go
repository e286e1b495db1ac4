package components

import (
	"fmt"
	"strings"
)

// Outcomes counts terminal audit states of a batch.
type Outcomes struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Actions   int
}

// Done is the number of audits that reached a terminal state.
func (o Outcomes) Done() int { return o.Succeeded + o.Failed + o.Cancelled }

// Summary renders the closing lines of a batch run.
type Summary struct {
	data        Outcomes
	interrupted bool
}

func NewSummary(data Outcomes, interrupted bool) Summary {
	return Summary{data: data, interrupted: interrupted}
}

func (s Summary) View() string {
	if s.data.Total == 0 {
		return ""
	}

	lines := []string{
		fmt.Sprintf("Audits: %d/%d finished", s.data.Done(), s.data.Total),
		fmt.Sprintf("Succeeded: %d  Failed: %d  Cancelled: %d", s.data.Succeeded, s.data.Failed, s.data.Cancelled),
	}
	if s.data.Actions > 0 {
		lines = append(lines, fmt.Sprintf("Actions planned: %d", s.data.Actions))
	}
	if s.interrupted {
		lines = append(lines, "Interrupted")
	}
	return strings.Join(lines, "\n")
}
