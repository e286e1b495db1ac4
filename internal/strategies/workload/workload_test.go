package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
)

func busy(id string, vcpus int, util float64) cluster.Instance {
	return cluster.Instance{ID: id, Usage: cluster.Resources{VCPUs: vcpus}, CPUUtil: util}
}

func testModel(t *testing.T) *cluster.Model {
	t.Helper()
	capacity := cluster.Resources{VCPUs: 10, MemoryMB: 1 << 20, DiskGB: 1000}
	m, err := cluster.NewModel(cluster.Snapshot{Nodes: []cluster.Node{
		{ID: "hot", Capacity: capacity, Instances: []cluster.Instance{busy("a", 4, 1.0), busy("b", 2, 1.0), busy("c", 3, 1.0)}},
		{ID: "cool", Capacity: capacity, Instances: []cluster.Instance{busy("d", 2, 0.5)}},
		{ID: "warm", Capacity: capacity, Instances: []cluster.Instance{busy("e", 5, 1.0)}},
	}})
	require.NoError(t, err)
	return m
}

func TestBalancerMovesSmallestInstancesFirst(t *testing.T) {
	s, err := New(testModel(t), map[string]interface{}{"threshold": 0.8})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.PreExecute(ctx))
	actions, err := s.DoExecute(ctx)
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, solution.ActionMigrate, actions[0].Type)
	assert.Equal(t, "b", actions[0].ResourceID)
	assert.Equal(t, "hot", actions[0].Parameters["source_node"])
	assert.Equal(t, "cool", actions[0].Parameters["destination_node"])

	indicators, err := s.PostExecute(ctx, actions)
	require.NoError(t, err)
	set := efficacy.Set(indicators)
	require.NoError(t, set.CheckAgainst(Descriptor().Indicators))
	assert.InDelta(t, 90.0, set.Value("peak_cpu_load_before"), 1e-9)
	assert.InDelta(t, 70.0, set.Value("peak_cpu_load_after"), 1e-9)

	global, err := s.ComputeGlobalEfficacy(indicators)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, global.Value, 1e-9)
}

func TestBalancerNothingToDoUnderThreshold(t *testing.T) {
	s, err := New(testModel(t), map[string]interface{}{"threshold": 1})
	require.NoError(t, err)
	actions, err := s.DoExecute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestBalancerRejectsBadThreshold(t *testing.T) {
	_, err := New(testModel(t), map[string]interface{}{"threshold": 1.5})
	assert.Error(t, err)
	_, err = New(testModel(t), map[string]interface{}{"threshold": "high"})
	assert.Error(t, err)
}

func TestGlobalEfficacyNeedsIndicators(t *testing.T) {
	s, err := New(testModel(t), nil)
	require.NoError(t, err)
	_, err = s.ComputeGlobalEfficacy(nil)
	assert.Error(t, err)
}
