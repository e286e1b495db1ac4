// Package actionplan models the persisted output of a successful audit: an
// ordered list of actions annotated with efficacy indicators.
package actionplan

import (
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
)

// State is the lifecycle state of a plan.
type State string

const (
	StateRecommended State = "RECOMMENDED"
	StatePending     State = "PENDING"
	StateOngoing     State = "ONGOING"
	StateSucceeded   State = "SUCCEEDED"
	StateFailed      State = "FAILED"
	StateDeleted     State = "DELETED"
	StateCancelled   State = "CANCELLED"
)

// IsValid reports whether the plan state is recognised.
func (s State) IsValid() bool {
	switch s {
	case StateRecommended, StatePending, StateOngoing, StateSucceeded, StateFailed, StateDeleted, StateCancelled:
		return true
	}
	return false
}

// ActionState is the enforcement state of a single action.
type ActionState string

const (
	ActionPending   ActionState = "PENDING"
	ActionDeleted   ActionState = "DELETED"
	ActionSucceeded ActionState = "SUCCEEDED"
	ActionFailed    ActionState = "FAILED"
)

// Action is one persisted, ordered step of a plan.
type Action struct {
	ID         string                 `json:"id"`
	PlanID     string                 `json:"action_plan_id"`
	Index      int                    `json:"index"`
	Type       string                 `json:"action_type"`
	ResourceID string                 `json:"resource_id"`
	Parameters map[string]interface{} `json:"input_parameters,omitempty"`
	State      ActionState            `json:"state"`
	Parents    []string               `json:"parents"`
	CreatedAt  time.Time              `json:"created_at"`
	DeletedAt  *time.Time             `json:"deleted_at,omitempty"`
}

// ActionPlan groups the ordered actions produced by one audit execution.
type ActionPlan struct {
	ID             string          `json:"id"`
	AuditID        string          `json:"audit_id"`
	StrategyID     string          `json:"strategy_id"`
	State          State           `json:"state"`
	FirstActionID  string          `json:"first_action_id,omitempty"`
	Actions        []Action        `json:"actions"`
	Indicators     efficacy.Set    `json:"efficacy_indicators"`
	GlobalEfficacy efficacy.Global `json:"global_efficacy"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

// Validate checks structural invariants: dense zero-based indices, plan
// ownership of every action and a consistent first action pointer.
func (p ActionPlan) Validate() error {
	if p.ID == "" || p.AuditID == "" {
		return fmt.Errorf("action plan requires id and audit id")
	}
	if !p.State.IsValid() {
		return fmt.Errorf("action plan %s: unknown state %q", p.ID, p.State)
	}
	for i, a := range p.Actions {
		if a.Index != i {
			return fmt.Errorf("action plan %s: action %s has index %d at position %d", p.ID, a.ID, a.Index, i)
		}
		if a.PlanID != p.ID {
			return fmt.Errorf("action plan %s: action %s belongs to plan %s", p.ID, a.ID, a.PlanID)
		}
	}
	switch {
	case len(p.Actions) == 0 && p.FirstActionID != "":
		return fmt.Errorf("action plan %s: first action set on empty plan", p.ID)
	case len(p.Actions) > 0 && p.FirstActionID != p.Actions[0].ID:
		return fmt.Errorf("action plan %s: first action %s is not index 0", p.ID, p.FirstActionID)
	}
	return p.Indicators.Validate()
}

// Deleted reports whether the plan was soft deleted.
func (p ActionPlan) Deleted() bool { return p.DeletedAt != nil }

// MarkDeleted soft deletes the plan and cascades to its actions.
func (p *ActionPlan) MarkDeleted(now time.Time) {
	now = now.UTC()
	p.State = StateDeleted
	p.UpdatedAt = now
	p.DeletedAt = &now
	for i := range p.Actions {
		p.Actions[i].State = ActionDeleted
		p.Actions[i].DeletedAt = &now
	}
}

// Clone returns a deep copy.
func (p ActionPlan) Clone() ActionPlan {
	out := p
	out.Actions = make([]Action, len(p.Actions))
	for i, a := range p.Actions {
		c := a
		c.Parents = append([]string(nil), a.Parents...)
		if a.Parameters != nil {
			c.Parameters = make(map[string]interface{}, len(a.Parameters))
			for k, v := range a.Parameters {
				c.Parameters[k] = v
			}
		}
		if a.DeletedAt != nil {
			t := *a.DeletedAt
			c.DeletedAt = &t
		}
		out.Actions[i] = c
	}
	out.Indicators = append(efficacy.Set(nil), p.Indicators...)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		out.DeletedAt = &t
	}
	return out
}
