package actionplan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() ActionPlan {
	return ActionPlan{
		ID:            "plan-1",
		AuditID:       "audit-1",
		StrategyID:    "dummy",
		State:         StateRecommended,
		FirstActionID: "a0",
		Actions: []Action{
			{ID: "a0", PlanID: "plan-1", Index: 0, Type: "nop", ResourceID: "r0", State: ActionPending},
			{ID: "a1", PlanID: "plan-1", Index: 1, Type: "nop", ResourceID: "r1", State: ActionPending, Parents: []string{"a0"}},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, samplePlan().Validate())

	p := samplePlan()
	p.Actions[1].Index = 5
	assert.Error(t, p.Validate())

	p = samplePlan()
	p.FirstActionID = "a1"
	assert.Error(t, p.Validate())

	p = samplePlan()
	p.Actions[0].PlanID = "other"
	assert.Error(t, p.Validate())

	p = samplePlan()
	p.State = "BOGUS"
	assert.Error(t, p.Validate())
}

func TestMarkDeletedCascades(t *testing.T) {
	p := samplePlan()
	p.MarkDeleted(time.Now())

	assert.True(t, p.Deleted())
	assert.Equal(t, StateDeleted, p.State)
	for _, a := range p.Actions {
		assert.Equal(t, ActionDeleted, a.State)
		assert.NotNil(t, a.DeletedAt)
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := samplePlan()
	c := p.Clone()
	c.Actions[1].Parents[0] = "x"
	assert.Equal(t, "a0", p.Actions[1].Parents[0])
}

func TestFilterApply(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deleted := base
	plans := []ActionPlan{
		{ID: "p2", AuditID: "a", State: StateRecommended, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "p1", AuditID: "a", State: StateRecommended, CreatedAt: base.Add(time.Hour)},
		{ID: "p3", AuditID: "b", State: StateDeleted, CreatedAt: base, DeletedAt: &deleted},
	}

	f, err := Filter{}.Normalize()
	require.NoError(t, err)
	got, err := f.Apply(plans)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)

	f, err = Filter{IncludeDeleted: true, SortDesc: true, Limit: 2}.Normalize()
	require.NoError(t, err)
	got, err = f.Apply(plans)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].ID)
	assert.Equal(t, "p1", got[1].ID)

	f, err = Filter{AuditID: "b", State: StateDeleted}.Normalize()
	require.NoError(t, err)
	got, err = f.Apply(plans)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p3", got[0].ID)
}

func TestFilterApplyResumesAfterMarker(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deleted := base
	plans := []ActionPlan{
		{ID: "p3", State: StateRecommended, CreatedAt: base},
		{ID: "p1", State: StateRecommended, CreatedAt: base},
		{ID: "p4", State: StateDeleted, CreatedAt: base.Add(time.Minute), DeletedAt: &deleted},
		{ID: "p2", State: StateSucceeded, CreatedAt: base.Add(2 * time.Minute)},
	}
	ids := func(in []ActionPlan) []string {
		out := make([]string, len(in))
		for i, p := range in {
			out[i] = p.ID
		}
		return out
	}

	f, err := Filter{Limit: 2}.Normalize()
	require.NoError(t, err)
	page, err := f.Apply(plans)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, ids(page))

	f.Marker = page[len(page)-1].ID
	page, err = f.Apply(plans)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(page))

	// A marker excluded by the filter still positions the page.
	f.Marker = "p4"
	page, err = f.Apply(plans)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(page))

	f, err = Filter{SortKey: SortByState, SortDesc: true, Marker: "p2"}.Normalize()
	require.NoError(t, err)
	page, err = f.Apply(plans)
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p1"}, ids(page))

	f.Marker = "missing"
	_, err = f.Apply(plans)
	assert.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestFilterNormalizeRejectsBadInput(t *testing.T) {
	_, err := Filter{SortKey: "colour"}.Normalize()
	assert.Error(t, err)
	_, err = Filter{Limit: -1}.Normalize()
	assert.Error(t, err)
	_, err = Filter{State: "nope"}.Normalize()
	assert.Error(t, err)
}
