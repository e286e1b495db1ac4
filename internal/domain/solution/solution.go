// Package solution holds the raw output of a strategy run: an ordered list of
// proposed actions together with the efficacy indicators describing them.
package solution

import (
	"errors"

	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
)

// ErrFrozen is returned when a frozen solution is mutated.
var ErrFrozen = errors.New("solution is frozen")

// ProposedAction is a single change a strategy recommends. Validation happens
// in the planner, not here.
type ProposedAction struct {
	Type       string                 `json:"action_type"`
	ResourceID string                 `json:"resource_id"`
	Parameters map[string]interface{} `json:"input_parameters,omitempty"`
}

// Clone returns a copy with its own parameter map.
func (a ProposedAction) Clone() ProposedAction {
	out := a
	if a.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(a.Parameters))
		for k, v := range a.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Solution accumulates strategy output until frozen.
type Solution struct {
	actions    []ProposedAction
	indicators efficacy.Set
	global     efficacy.Global
	frozen     bool
}

// New returns an empty, mutable solution.
func New() *Solution {
	return &Solution{}
}

// AddAction appends an action, preserving strategy order.
func (s *Solution) AddAction(a ProposedAction) error {
	if s.frozen {
		return ErrFrozen
	}
	s.actions = append(s.actions, a.Clone())
	return nil
}

// SetIndicators replaces the indicator set.
func (s *Solution) SetIndicators(set efficacy.Set) error {
	if s.frozen {
		return ErrFrozen
	}
	s.indicators = append(efficacy.Set(nil), set...)
	return nil
}

// SetGlobalEfficacy records the aggregated score.
func (s *Solution) SetGlobalEfficacy(g efficacy.Global) error {
	if s.frozen {
		return ErrFrozen
	}
	s.global = g
	return nil
}

// Freeze makes the solution read-only.
func (s *Solution) Freeze() { s.frozen = true }

// Frozen reports whether Freeze was called.
func (s *Solution) Frozen() bool { return s.frozen }

// Actions returns copies of the proposed actions in strategy order.
func (s *Solution) Actions() []ProposedAction {
	out := make([]ProposedAction, len(s.actions))
	for i, a := range s.actions {
		out[i] = a.Clone()
	}
	return out
}

// Len is the number of proposed actions.
func (s *Solution) Len() int { return len(s.actions) }

// Indicators returns a copy of the indicator set.
func (s *Solution) Indicators() efficacy.Set {
	return append(efficacy.Set(nil), s.indicators...)
}

// GlobalEfficacy returns the aggregated score.
func (s *Solution) GlobalEfficacy() efficacy.Global { return s.global }
