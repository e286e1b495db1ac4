package audit

// State captures where an audit is in its execution lifecycle.
type State string

const (
	StatePending   State = "PENDING"
	StateOngoing   State = "ONGOING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

var transitions = map[State][]State{
	StatePending: {StateOngoing, StateCancelled},
	StateOngoing: {StateSucceeded, StateFailed, StateCancelled},
}

// IsValid reports whether the state is recognised.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateOngoing, StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave the state.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources returns the states from which target can be reached.
func Sources(target State) []State {
	var sources []State
	for _, from := range []State{StatePending, StateOngoing} {
		if from.CanTransition(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// TransitionError classifies a refused transition. Starting an audit that is
// already ONGOING yields ALREADY_RUNNING; everything else is INVALID_STATE.
func TransitionError(id string, from, to State) *DomainError {
	if from == StateOngoing && to == StateOngoing {
		return NewAlreadyRunningError(id)
	}
	return NewInvalidStateError(id, from, to)
}
