// Package storetest holds the behavioural suite every ports.Store
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) ports.Store

var base = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// NewAudit builds a PENDING audit for goal.
func NewAudit(t *testing.T, goal string) *audit.Audit {
	t.Helper()
	a, err := audit.New("", goal, "", map[string]interface{}{"threshold": 0.5}, base)
	require.NoError(t, err)
	return a
}

// NewPlan builds a valid plan of n nop actions for auditID.
func NewPlan(auditID string, n int, createdAt time.Time) *actionplan.ActionPlan {
	p := &actionplan.ActionPlan{
		ID:         uuid.NewString(),
		AuditID:    auditID,
		StrategyID: "dummy",
		State:      actionplan.StateRecommended,
		Indicators: efficacy.Set{{Name: "actions_count", Unit: "actions", Value: float64(n)}},
		GlobalEfficacy: efficacy.Global{
			Name:  "actions_count",
			Unit:  "actions",
			Value: float64(n),
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	prev := ""
	for i := 0; i < n; i++ {
		a := actionplan.Action{
			ID:         uuid.NewString(),
			PlanID:     p.ID,
			Index:      i,
			Type:       "nop",
			ResourceID: "resource-" + string(rune('a'+i)),
			Parameters: map[string]interface{}{"message": "step"},
			State:      actionplan.ActionPending,
			CreatedAt:  createdAt,
		}
		if prev != "" {
			a.Parents = []string{prev}
		}
		prev = a.ID
		p.Actions = append(p.Actions, a)
	}
	if n > 0 {
		p.FirstActionID = p.Actions[0].ID
	}
	return p
}

func start(t *testing.T, s ports.Store, a *audit.Audit) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateAudit(ctx, a))
	_, err := s.TransitionAudit(ctx, a.ID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
	require.NoError(t, err)
}

var planCmp = []cmp.Option{
	cmpopts.EquateApproxTime(time.Millisecond),
	cmpopts.EquateEmpty(),
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("audit round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := NewAudit(t, "dummy")
		require.NoError(t, s.CreateAudit(ctx, a))

		got, err := s.GetAudit(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Goal, got.Goal)
		assert.Equal(t, audit.StatePending, got.State)
		assert.Equal(t, 0.5, got.Parameters["threshold"])

		_, err = s.GetAudit(ctx, "missing")
		assert.ErrorIs(t, err, audit.ErrNotFound)
	})

	t.Run("transition compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := NewAudit(t, "dummy")
		require.NoError(t, s.CreateAudit(ctx, a))

		started, err := s.TransitionAudit(ctx, a.ID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
		require.NoError(t, err)
		assert.Equal(t, audit.StateOngoing, started.State)
		assert.NotNil(t, started.StartedAt)

		_, err = s.TransitionAudit(ctx, a.ID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
		assert.ErrorIs(t, err, audit.ErrAlreadyRunning)

		failure := audit.NewStrategyExecutionError("dummy", nil)
		failed, err := s.TransitionAudit(ctx, a.ID, []audit.State{audit.StateOngoing}, audit.StateFailed, failure)
		require.NoError(t, err)
		assert.Equal(t, audit.ErrCodeStrategyExecution, failed.FailureCode)

		_, err = s.TransitionAudit(ctx, a.ID, audit.Sources(audit.StateCancelled), audit.StateCancelled, nil)
		assert.ErrorIs(t, err, audit.ErrInvalidState)

		persisted, err := s.GetAudit(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.StateFailed, persisted.State)
		assert.Equal(t, audit.ErrCodeStrategyExecution, persisted.FailureCode)
		assert.NotEmpty(t, persisted.FailureReason)
	})

	t.Run("only one concurrent start wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := NewAudit(t, "dummy")
		require.NoError(t, s.CreateAudit(ctx, a))

		const callers = 8
		var wg sync.WaitGroup
		results := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.TransitionAudit(ctx, a.ID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, audit.ErrAlreadyRunning)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("commit plan persists ordered actions and succeeds audit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := NewAudit(t, "dummy")
		start(t, s, a)

		plan := NewPlan(a.ID, 3, base)
		require.NoError(t, s.CommitPlan(ctx, plan))

		got, err := s.GetActionPlan(ctx, plan.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(*plan, *got, planCmp...); diff != "" {
			t.Fatalf("plan mismatch (-want +got):\n%s", diff)
		}
		for i, action := range got.Actions {
			assert.Equal(t, i, action.Index)
		}

		forAudit, err := s.GetPlanForAudit(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, plan.ID, forAudit.ID)

		persisted, err := s.GetAudit(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.StateSucceeded, persisted.State)
		assert.NotNil(t, persisted.FinishedAt)
	})

	t.Run("commit plan refused unless audit ongoing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := NewAudit(t, "dummy")
		start(t, s, a)
		_, err := s.TransitionAudit(ctx, a.ID, audit.Sources(audit.StateCancelled), audit.StateCancelled, nil)
		require.NoError(t, err)

		plan := NewPlan(a.ID, 2, base)
		err = s.CommitPlan(ctx, plan)
		assert.ErrorIs(t, err, audit.ErrInvalidState)

		_, err = s.GetActionPlan(ctx, plan.ID)
		assert.ErrorIs(t, err, audit.ErrNotFound)
		plans, err := s.ListActionPlans(ctx, actionplan.Filter{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Empty(t, plans)

		persisted, err := s.GetAudit(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.StateCancelled, persisted.State)
	})

	t.Run("empty plan is allowed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := NewAudit(t, "dummy")
		start(t, s, a)

		plan := NewPlan(a.ID, 0, base)
		require.NoError(t, s.CommitPlan(ctx, plan))
		got, err := s.GetActionPlan(ctx, plan.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Actions)
		assert.Empty(t, got.FirstActionID)
	})

	t.Run("list and soft delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var planIDs []string
		for i := 0; i < 3; i++ {
			a := NewAudit(t, "dummy")
			start(t, s, a)
			plan := NewPlan(a.ID, 1, base.Add(time.Duration(i)*time.Hour))
			require.NoError(t, s.CommitPlan(ctx, plan))
			planIDs = append(planIDs, plan.ID)
		}

		plans, err := s.ListActionPlans(ctx, actionplan.Filter{SortDesc: true})
		require.NoError(t, err)
		require.Len(t, plans, 3)
		assert.Equal(t, planIDs[2], plans[0].ID)

		require.NoError(t, s.SoftDeleteActionPlan(ctx, planIDs[0]))
		assert.ErrorIs(t, s.SoftDeleteActionPlan(ctx, planIDs[0]), audit.ErrNotFound)
		assert.ErrorIs(t, s.SoftDeleteActionPlan(ctx, "missing"), audit.ErrNotFound)

		plans, err = s.ListActionPlans(ctx, actionplan.Filter{Limit: 5})
		require.NoError(t, err)
		assert.Len(t, plans, 2)

		deleted, err := s.GetActionPlan(ctx, planIDs[0])
		require.NoError(t, err)
		assert.Equal(t, actionplan.StateDeleted, deleted.State)
		require.NotNil(t, deleted.DeletedAt)
		for _, action := range deleted.Actions {
			assert.Equal(t, actionplan.ActionDeleted, action.State)
			assert.NotNil(t, action.DeletedAt)
		}

		plans, err = s.ListActionPlans(ctx, actionplan.Filter{State: actionplan.StateDeleted})
		require.NoError(t, err)
		require.Len(t, plans, 1)

		_, err = s.GetPlanForAudit(ctx, deleted.AuditID)
		assert.ErrorIs(t, err, audit.ErrNotFound)
	})

	t.Run("list pages with marker", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		offsets := []time.Duration{0, time.Hour, time.Hour, 2 * time.Hour, 3 * time.Hour}
		var deletedID string
		for i, offset := range offsets {
			a := NewAudit(t, "dummy")
			start(t, s, a)
			plan := NewPlan(a.ID, 1, base.Add(offset))
			require.NoError(t, s.CommitPlan(ctx, plan))
			if i == 3 {
				deletedID = plan.ID
			}
		}
		require.NoError(t, s.SoftDeleteActionPlan(ctx, deletedID))

		for _, desc := range []bool{false, true} {
			all, err := s.ListActionPlans(ctx, actionplan.Filter{SortDesc: desc})
			require.NoError(t, err)
			require.Len(t, all, 4)

			var paged []string
			filter := actionplan.Filter{SortDesc: desc, Limit: 3}
			for {
				page, err := s.ListActionPlans(ctx, filter)
				require.NoError(t, err)
				for _, p := range page {
					paged = append(paged, p.ID)
				}
				if len(page) < filter.Limit {
					break
				}
				filter.Marker = page[len(page)-1].ID
			}
			want := make([]string, len(all))
			for i, p := range all {
				want[i] = p.ID
			}
			assert.Equal(t, want, paged, "desc=%v", desc)
		}

		rest, err := s.ListActionPlans(ctx, actionplan.Filter{Marker: deletedID})
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.True(t, rest[0].CreatedAt.Equal(base.Add(3*time.Hour)))

		_, err = s.ListActionPlans(ctx, actionplan.Filter{Marker: "missing"})
		assert.Equal(t, audit.ErrCodeValidation, audit.CodeOf(err))
	})

	t.Run("list audits filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := NewAudit(t, "dummy")
		second := NewAudit(t, "server_consolidation")
		require.NoError(t, s.CreateAudit(ctx, first))
		require.NoError(t, s.CreateAudit(ctx, second))
		_, err := s.TransitionAudit(ctx, second.ID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
		require.NoError(t, err)

		all, err := s.ListAudits(ctx, audit.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		ongoing, err := s.ListAudits(ctx, audit.Filter{State: audit.StateOngoing})
		require.NoError(t, err)
		require.Len(t, ongoing, 1)
		assert.Equal(t, second.ID, ongoing[0].ID)

		byGoal, err := s.ListAudits(ctx, audit.Filter{Goal: "dummy"})
		require.NoError(t, err)
		require.Len(t, byGoal, 1)
		assert.Equal(t, first.ID, byGoal[0].ID)
	})
}
