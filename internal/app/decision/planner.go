package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithActionTypes replaces the recognised action types.
func WithActionTypes(types *solution.ActionTypes) PlannerOption {
	return func(p *Planner) {
		if types != nil {
			p.types = types
		}
	}
}

// WithPlannerClock overrides the planner's time source.
func WithPlannerClock(now func() time.Time) PlannerOption {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator overrides plan and action id generation.
func WithIDGenerator(newID func() string) PlannerOption {
	return func(p *Planner) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// Planner turns a frozen solution into an action plan and persists it.
// Actions keep the strategy's order; nothing is reordered, merged or
// deduplicated.
type Planner struct {
	store ports.PlanStore
	types *solution.ActionTypes
	now   func() time.Time
	newID func() string
}

// NewPlanner returns a planner writing to store.
func NewPlanner(store ports.PlanStore, opts ...PlannerOption) *Planner {
	p := &Planner{
		store: store,
		types: solution.DefaultActionTypes(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build validates every action and assembles the plan without persisting it.
// The first invalid action rejects the whole plan with INVALID_ACTION.
func (p *Planner) Build(a *audit.Audit, strategyID string, sol *solution.Solution) (*actionplan.ActionPlan, error) {
	if a == nil || sol == nil {
		return nil, audit.NewError(audit.ErrCodeInternal, "planner requires an audit and a solution", nil, nil)
	}
	if !sol.Frozen() {
		return nil, audit.NewError(audit.ErrCodeInternal, "solution must be frozen before planning", nil, map[string]interface{}{"audit_id": a.ID})
	}

	proposed := sol.Actions()
	for i, pa := range proposed {
		if reason := p.check(pa); reason != "" {
			return nil, audit.NewInvalidActionError(i, reason).WithContext(map[string]interface{}{
				"audit_id":    a.ID,
				"strategy_id": strategyID,
				"action_type": pa.Type,
			})
		}
	}

	now := p.now().UTC()
	plan := &actionplan.ActionPlan{
		ID:             p.newID(),
		AuditID:        a.ID,
		StrategyID:     strategyID,
		State:          actionplan.StateRecommended,
		Actions:        make([]actionplan.Action, 0, len(proposed)),
		Indicators:     sol.Indicators(),
		GlobalEfficacy: sol.GlobalEfficacy(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var previous string
	for i, pa := range proposed {
		action := actionplan.Action{
			ID:         p.newID(),
			PlanID:     plan.ID,
			Index:      i,
			Type:       pa.Type,
			ResourceID: pa.ResourceID,
			Parameters: pa.Parameters,
			State:      actionplan.ActionPending,
			Parents:    []string{},
			CreatedAt:  now,
		}
		if previous != "" {
			action.Parents = []string{previous}
		}
		previous = action.ID
		plan.Actions = append(plan.Actions, action)
	}
	if len(plan.Actions) > 0 {
		plan.FirstActionID = plan.Actions[0].ID
	}

	if err := plan.Validate(); err != nil {
		return nil, audit.NewError(audit.ErrCodeInternal, "assembled plan is inconsistent", err, map[string]interface{}{"audit_id": a.ID})
	}
	return plan, nil
}

// Plan builds the plan and commits it together with the audit's move to
// SUCCEEDED. Storage failures surface as PERSISTENCE_ERROR; a refused commit
// keeps the store's state error.
func (p *Planner) Plan(ctx context.Context, a *audit.Audit, strategyID string, sol *solution.Solution) (*actionplan.ActionPlan, error) {
	plan, err := p.Build(a, strategyID, sol)
	if err != nil {
		return nil, err
	}
	if err := p.store.CommitPlan(ctx, plan); err != nil {
		if audit.CodeOf(err) == "" {
			return nil, audit.NewPersistenceError("commit action plan", err)
		}
		return nil, err
	}
	return plan, nil
}

func (p *Planner) check(pa solution.ProposedAction) string {
	if strings.TrimSpace(pa.ResourceID) == "" {
		return "resource id is empty"
	}
	at, ok := p.types.Get(pa.Type)
	if !ok {
		return fmt.Sprintf("unknown action type %q", pa.Type)
	}
	if err := at.ValidateParameters(pa.Parameters); err != nil {
		return err.Error()
	}
	return ""
}
