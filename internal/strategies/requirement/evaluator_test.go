package requirement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
)

func testModel(t *testing.T) *cluster.Model {
	t.Helper()
	m, err := cluster.NewModel(cluster.Snapshot{
		Nodes: []cluster.Node{
			{ID: "n1", Capacity: cluster.Resources{VCPUs: 4}, Instances: []cluster.Instance{{ID: "i1", Usage: cluster.Resources{VCPUs: 2}, CPUUtil: 0.5}}},
			{ID: "n2", State: cluster.NodeDisabled},
		},
		Pools: []cluster.Pool{{ID: "p1", CapacityGB: 100, Volumes: []cluster.Volume{{ID: "v1", SizeGB: 10}}}},
	})
	require.NoError(t, err)
	return m
}

func TestCheck(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	m := testModel(t)
	ctx := context.Background()

	assert.NoError(t, e.Check(ctx, m, nil))
	assert.NoError(t, e.Check(ctx, m, []string{
		"cluster.enabled_nodes == 1",
		"cluster.instance_count > 0",
		"cluster.pools.exists(p, p.used_gb == 10)",
		"cluster.nodes.all(n, n.cpu_load < 1.0)",
	}))

	err = e.Check(ctx, m, []string{"cluster.enabled_nodes >= 2"})
	var unmet *Unmet
	require.ErrorAs(t, err, &unmet)
	assert.Equal(t, "cluster.enabled_nodes >= 2", unmet.Expression)
}

func TestCompileErrors(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	_, err = e.Compile("cluster.enabled_nodes >=")
	assert.Error(t, err)

	_, err = e.Compile("1 + 2")
	assert.ErrorContains(t, err, "must evaluate to bool")

	err = e.Check(context.Background(), testModel(t), []string{"unknown_var"})
	assert.Error(t, err)
}

func TestCompileCaches(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	first, err := e.Compile("true")
	require.NoError(t, err)
	second, err := e.Compile("true")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, e.programs, 1)
}

func TestCheckWithoutModel(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	assert.Error(t, e.Check(context.Background(), nil, []string{"true"}))
}
