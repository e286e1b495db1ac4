package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audit is one request to run an optimization and produce an action plan.
type Audit struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Goal          string                 `json:"goal,omitempty"`
	StrategyID    string                 `json:"strategy_id,omitempty"`
	Parameters    map[string]interface{} `json:"parameters"`
	State         State                  `json:"state"`
	FailureCode   ErrorCode              `json:"failure_code,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

// New builds a PENDING audit with a fresh identifier.
func New(name, goal, strategyID string, params map[string]interface{}, now time.Time) (*Audit, error) {
	a := &Audit{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		Goal:       strings.TrimSpace(goal),
		StrategyID: strings.TrimSpace(strategyID),
		Parameters: cloneParams(params),
		State:      StatePending,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	if a.Name == "" {
		a.Name = defaultName(a)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate ensures the audit satisfies its invariants.
func (a Audit) Validate() error {
	if a.ID == "" {
		return NewValidationError("audit id is required", nil)
	}
	if a.Goal == "" && a.StrategyID == "" {
		return NewValidationError("audit requires a goal or a strategy", map[string]interface{}{"audit_id": a.ID})
	}
	if !a.State.IsValid() {
		return NewValidationError("unknown audit state", map[string]interface{}{"audit_id": a.ID, "state": string(a.State)})
	}
	return nil
}

// Transition applies next to the audit when the state machine allows it.
// Failure details are recorded when next is FAILED.
func (a *Audit) Transition(next State, failure *DomainError, now time.Time) error {
	if !a.State.CanTransition(next) {
		return TransitionError(a.ID, a.State, next)
	}
	now = now.UTC()
	a.State = next
	a.UpdatedAt = now
	switch {
	case next == StateOngoing:
		a.StartedAt = &now
	case next.IsTerminal():
		a.FinishedAt = &now
	}
	if next == StateFailed && failure != nil {
		a.FailureCode = failure.Code
		a.FailureReason = failure.Error()
	}
	return nil
}

// Clone returns a defensive copy of the audit.
func (a Audit) Clone() Audit {
	out := a
	out.Parameters = cloneParams(a.Parameters)
	if a.StartedAt != nil {
		t := *a.StartedAt
		out.StartedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func defaultName(a *Audit) string {
	target := a.StrategyID
	if target == "" {
		target = a.Goal
	}
	return target + "-" + a.ID[:8]
}

func cloneParams(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
