package strategies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/catalog"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/requirement"
)

// contractModel satisfies every built-in strategy's requirements and gives
// each of them something to do.
func contractModel(t *testing.T) *cluster.Model {
	t.Helper()
	capacity := cluster.Resources{VCPUs: 10, MemoryMB: 16384, DiskGB: 200}
	m, err := cluster.NewModel(cluster.Snapshot{
		Nodes: []cluster.Node{
			{ID: "n1", Capacity: capacity, Instances: []cluster.Instance{
				{ID: "i1", Usage: cluster.Resources{VCPUs: 1, MemoryMB: 1024}, CPUUtil: 0.2},
			}},
			{ID: "n2", Capacity: capacity, Instances: []cluster.Instance{
				{ID: "i2", Usage: cluster.Resources{VCPUs: 5, MemoryMB: 4096}, CPUUtil: 1.0},
				{ID: "i3", Usage: cluster.Resources{VCPUs: 4, MemoryMB: 4096}, CPUUtil: 1.0},
			}},
			{ID: "n3", Capacity: capacity},
		},
		Pools: []cluster.Pool{
			{ID: "p1", CapacityGB: 100, Volumes: []cluster.Volume{{ID: "v1", SizeGB: 60}, {ID: "v2", SizeGB: 30}}},
			{ID: "p2", CapacityGB: 100},
		},
	})
	require.NoError(t, err)
	return m
}

func TestBuiltinsHonourStrategyContract(t *testing.T) {
	model := contractModel(t)
	types := solution.DefaultActionTypes()
	eval, err := requirement.NewEvaluator()
	require.NoError(t, err)

	for _, b := range Builtins() {
		t.Run(b.Descriptor.ID, func(t *testing.T) {
			require.NoError(t, b.Descriptor.Validate())
			assert.Empty(t, b.Descriptor.MissingKinds(model))
			require.NoError(t, eval.Check(context.Background(), model, b.Descriptor.Requirements.Expressions))

			s, err := b.Factory(model, nil)
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, s.PreExecute(ctx))
			actions, err := s.DoExecute(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, actions)

			for i, a := range actions {
				assert.NotEmpty(t, a.ResourceID, "action %d", i)
				at, ok := types.Get(a.Type)
				require.True(t, ok, "action %d type %q", i, a.Type)
				assert.NoError(t, at.ValidateParameters(a.Parameters), "action %d", i)
			}

			indicators, err := s.PostExecute(ctx, actions)
			require.NoError(t, err)
			set := efficacy.Set(indicators)
			require.NoError(t, set.Validate())
			require.NoError(t, set.CheckAgainst(b.Descriptor.Indicators))

			first, err := s.ComputeGlobalEfficacy(indicators)
			require.NoError(t, err)
			require.NoError(t, first.Validate())
			second, err := s.ComputeGlobalEfficacy(append([]efficacy.Indicator(nil), indicators...))
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestBuiltinsRejectUnknownParameters(t *testing.T) {
	for _, b := range Builtins() {
		_, err := b.Factory(contractModel(t), map[string]interface{}{"no_such_parameter": true})
		assert.Error(t, err, b.Descriptor.ID)
	}
}

func TestRegisterAll(t *testing.T) {
	reg := catalog.NewRegistry()
	require.NoError(t, RegisterAll(reg))
	assert.Len(t, reg.List(), len(Builtins()))
	assert.Equal(t, []string{"dummy", "server_consolidation", "storage_balancing", "workload_balancing"}, reg.Goals())

	assert.Error(t, RegisterAll(reg))
}
