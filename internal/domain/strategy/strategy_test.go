package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
)

func validDescriptor() Descriptor {
	return Descriptor{
		ID:          "basic_consolidation",
		DisplayName: "Basic consolidation",
		Goals:       []string{"server_consolidation"},
		Priority:    10,
		Requirements: Requirements{
			ModelKinds: []cluster.Kind{cluster.KindCompute},
		},
		Indicators: []efficacy.Spec{{Name: "released_nodes_count"}},
	}
}

func TestDescriptorValidate(t *testing.T) {
	require.NoError(t, validDescriptor().Validate())

	d := validDescriptor()
	d.ID = "Bad ID"
	assert.Error(t, d.Validate())

	d = validDescriptor()
	d.Goals = nil
	assert.Error(t, d.Validate())

	d = validDescriptor()
	d.Requirements.ModelKinds = []cluster.Kind{"network"}
	assert.Error(t, d.Validate())

	d = validDescriptor()
	d.Indicators = []efficacy.Spec{{Name: "Bad Name"}}
	assert.Error(t, d.Validate())
}

func TestRankOrdersByPriorityThenID(t *testing.T) {
	ranked := Rank([]Descriptor{
		{ID: "b", Priority: 5},
		{ID: "c", Priority: 10},
		{ID: "a", Priority: 5},
	})

	ids := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestMissingKinds(t *testing.T) {
	d := validDescriptor()
	d.Requirements.ModelKinds = []cluster.Kind{cluster.KindCompute, cluster.KindStorage}

	m, err := cluster.NewModel(cluster.Snapshot{Nodes: []cluster.Node{{ID: "n1"}}})
	require.NoError(t, err)

	assert.Equal(t, []cluster.Kind{cluster.KindStorage}, d.MissingKinds(m))
	assert.True(t, d.ServesGoal("server_consolidation"))
	assert.False(t, d.ServesGoal("dummy"))
}

func TestCloneIsDeep(t *testing.T) {
	d := validDescriptor()
	c := d.Clone()
	c.Goals[0] = "changed"
	assert.Equal(t, "server_consolidation", d.Goals[0])
}
