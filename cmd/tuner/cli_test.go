package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/config"
	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
)

const testSnapshot = `
nodes:
  - id: n1
    capacity: {vcpus: 8, memory_mb: 8192, disk_gb: 100}
    instances:
      - id: i1
        usage: {vcpus: 2, memory_mb: 2048}
  - id: n2
    capacity: {vcpus: 8, memory_mb: 8192, disk_gb: 100}
    instances:
      - id: i2
        usage: {vcpus: 4, memory_mb: 4096}
`

type testEnv struct {
	dir        string
	configPath string
}

// newTestEnv writes a config pointing at a fresh SQLite file. extra is
// appended verbatim to the YAML document.
func newTestEnv(t *testing.T, withSnapshot bool, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	var doc strings.Builder
	fmt.Fprintf(&doc, "log:\n  level: error\n  format: json\n")
	fmt.Fprintf(&doc, "store:\n  driver: sqlite\n  path: %s\n", filepath.Join(dir, "tuner.db"))
	if withSnapshot {
		snapshot := filepath.Join(dir, "cluster.yaml")
		require.NoError(t, os.WriteFile(snapshot, []byte(testSnapshot), 0o600))
		fmt.Fprintf(&doc, "cluster:\n  snapshot_path: %s\n", snapshot)
	}
	doc.WriteString(extra)

	configPath := filepath.Join(dir, "tuner.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(doc.String()), 0o600))
	return &testEnv{dir: dir, configPath: configPath}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (e *testEnv) createAudit(t *testing.T, args ...string) audit.Audit {
	t.Helper()
	out, err := e.run(t, append([]string{"audit", "create", "--json"}, args...)...)
	require.NoError(t, err)
	var a audit.Audit
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	return a
}

func TestAuditCreateAndRunDummy(t *testing.T) {
	env := newTestEnv(t, false, "")

	out, err := env.run(t, "audit", "create", "--goal", "dummy", "--param", "message=hi", "--run", "--json")
	require.NoError(t, err)

	var results []runResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, audit.StateSucceeded, results[0].State)
	require.NotNil(t, results[0].ActionPlan)
	assert.Len(t, results[0].ActionPlan.Actions, 3)

	out, err = env.run(t, "audit", "show", results[0].AuditID, "--json")
	require.NoError(t, err)
	var shown auditShowJSON
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, audit.StateSucceeded, shown.Audit.State)
	assert.Equal(t, "hi", shown.Audit.Parameters["message"])
	require.NotNil(t, shown.ActionPlan)
	assert.Equal(t, results[0].ActionPlan.ID, shown.ActionPlan.ID)
}

func TestPlanCommands(t *testing.T) {
	env := newTestEnv(t, false, "")
	a := env.createAudit(t, "--strategy", "dummy")

	out, err := env.run(t, "audit", "run", a.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCEEDED")

	out, err = env.run(t, "plan", "list", "--json")
	require.NoError(t, err)
	var plans []actionplan.ActionPlan
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 1)
	planID := plans[0].ID

	out, err = env.run(t, "plan", "show", "--audit", a.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Action plan "+planID)
	assert.Contains(t, out, "sleep")
	assert.Contains(t, out, "dummy_score")

	_, err = env.run(t, "plan", "show")
	require.Error(t, err)

	out, err = env.run(t, "plan", "delete", planID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted action plan "+planID)

	out, err = env.run(t, "plan", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No action plans.")

	out, err = env.run(t, "plan", "list", "--include-deleted")
	require.NoError(t, err)
	assert.Contains(t, out, string(actionplan.StateDeleted))

	out, err = env.run(t, "plan", "list", "--include-deleted", "--marker", planID, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = env.run(t, "plan", "list", "--marker", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marker not found")

	_, err = env.run(t, "plan", "delete", planID)
	require.Error(t, err)
}

func TestConsolidationAgainstSnapshot(t *testing.T) {
	env := newTestEnv(t, true, "")
	a := env.createAudit(t, "--goal", "server_consolidation", "-p", "migration_type=cold")

	_, err := env.run(t, "audit", "run", a.ID)
	require.NoError(t, err)

	out, err := env.run(t, "plan", "show", "--audit", a.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "migrate")
	assert.Contains(t, out, "change_node_state")
	assert.Contains(t, out, "released_nodes_ratio")
}

func TestRunReportsFailures(t *testing.T) {
	env := newTestEnv(t, false, "")

	tests := []struct {
		name string
		args []string
		code audit.ErrorCode
	}{
		{"unknown goal", []string{"--goal", "no_such_goal"}, audit.ErrCodeNoStrategyForGoal},
		{"unknown strategy", []string{"--strategy", "no_such_strategy"}, audit.ErrCodeNoSuchStrategy},
		{"no cluster model", []string{"--goal", "server_consolidation"}, audit.ErrCodeModelUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := env.createAudit(t, tt.args...)

			out, err := env.run(t, "audit", "run", a.ID)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "1 of 1 audits did not succeed")
			assert.Contains(t, err.Error(), "tuner strategy list")
			assert.Contains(t, out, string(audit.StateFailed))
			assert.Contains(t, out, string(tt.code))

			out, err = env.run(t, "audit", "show", a.ID)
			require.NoError(t, err)
			assert.Contains(t, out, string(tt.code))
		})
	}
}

func TestAuditCreateValidation(t *testing.T) {
	env := newTestEnv(t, false, "")

	_, err := env.run(t, "audit", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Suggestion")

	_, err = env.run(t, "audit", "create", "--goal", "dummy", "--param", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}

func TestAuditCancelAndList(t *testing.T) {
	env := newTestEnv(t, false, "")

	out, err := env.run(t, "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No audits yet.")

	a := env.createAudit(t, "--goal", "dummy", "--name", "to-cancel")
	out, err = env.run(t, "audit", "cancel", a.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "is CANCELLED")

	_, err = env.run(t, "audit", "cancel", a.ID)
	require.Error(t, err)

	_, err = env.run(t, "audit", "run", a.ID)
	require.Error(t, err)

	out, err = env.run(t, "audit", "list", "--state", "cancelled", "--json")
	require.NoError(t, err)
	var listed []audit.Audit
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "to-cancel", listed[0].Name)

	_, err = env.run(t, "audit", "list", "--state", "bogus")
	require.Error(t, err)
}

func TestStrategyListHonoursOverrides(t *testing.T) {
	env := newTestEnv(t, false, "strategies:\n  storage_balance:\n    enabled: false\n  dummy:\n    priority: 50\n")

	out, err := env.run(t, "strategy", "list", "--json")
	require.NoError(t, err)
	var descs []strategy.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &descs))

	ids := make(map[string]int, len(descs))
	for _, d := range descs {
		ids[d.ID] = d.Priority
	}
	assert.NotContains(t, ids, "storage_balance")
	assert.Equal(t, 50, ids["dummy"])

	out, err = env.run(t, "strategy", "list", "--goal", "server_consolidation")
	require.NoError(t, err)
	assert.Contains(t, out, "basic_consolidation")
	assert.NotContains(t, out, "workload_balance")

	out, err = env.run(t, "strategy", "list", "--goal", "tidy_up")
	require.NoError(t, err)
	assert.Contains(t, out, `No strategy serves goal "tidy_up".`)
	assert.Contains(t, out, "Known goals: dummy, server_consolidation")
	assert.NotContains(t, out, "storage_balancing")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	env := newTestEnv(t, false, "runner:\n  parallelism: 0\n")

	_, err := env.run(t, "strategy", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner.parallelism")
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"threshold=0.7", "max_released_nodes=2", "live=true", "migration_type=cold", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"threshold":          0.7,
		"max_released_nodes": 2,
		"live":               true,
		"migration_type":     "cold",
		"empty":              "",
	}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"=x"})
	require.Error(t, err)
}

func TestPlanDiff(t *testing.T) {
	env := newTestEnv(t, false, "")

	var planIDs []string
	for _, msg := range []string{"first", "first", "second"} {
		out, err := env.run(t, "audit", "create", "--goal", "dummy", "-p", "message="+msg, "--run", "--json")
		require.NoError(t, err)
		var results []runResultJSON
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		require.NotNil(t, results[0].ActionPlan)
		planIDs = append(planIDs, results[0].ActionPlan.ID)
	}

	out, err := env.run(t, "plan", "diff", planIDs[0], planIDs[1])
	require.NoError(t, err)
	assert.Contains(t, out, "Plans recommend the same actions.")

	out, err = env.run(t, "plan", "diff", planIDs[0], planIDs[2])
	require.NoError(t, err)
	assert.Contains(t, out, "--- "+planIDs[0])

	_, err = env.run(t, "plan", "diff", planIDs[0], "missing")
	require.Error(t, err)
}

func TestActionTypesExtendBuiltins(t *testing.T) {
	zero := 0.0
	types, err := actionTypes(map[string]config.ActionTypeConfig{
		"evacuate": {
			Description: "Moves every instance off a node",
			Params: []config.ActionParamConfig{
				{Name: "mode", Kind: "string", Required: true, OneOf: []string{"live", "cold"}},
				{Name: "batch", Kind: "number", Min: &zero},
			},
		},
		solution.ActionNop: {Params: []config.ActionParamConfig{{Name: "message", Kind: "string", Required: true}}},
	})
	require.NoError(t, err)

	evacuate, ok := types.Get("evacuate")
	require.True(t, ok)
	assert.NoError(t, evacuate.ValidateParameters(map[string]interface{}{"mode": "live", "batch": 2}))
	assert.Error(t, evacuate.ValidateParameters(map[string]interface{}{"mode": "warp"}))
	assert.Error(t, evacuate.ValidateParameters(map[string]interface{}{"mode": "cold", "batch": -1}))

	nop, ok := types.Get(solution.ActionNop)
	require.True(t, ok)
	assert.Error(t, nop.ValidateParameters(nil))

	_, ok = types.Get(solution.ActionMigrate)
	assert.True(t, ok)
}

func TestDeclaredActionTypesLoadFromConfig(t *testing.T) {
	env := newTestEnv(t, false, "action_types:\n  evacuate:\n    description: drain a node\n    params:\n      - name: mode\n        kind: string\n        required: true\n")
	a := env.createAudit(t, "--strategy", "dummy")

	_, err := env.run(t, "audit", "run", "--json", a.ID)
	require.NoError(t, err)

	bad := newTestEnv(t, false, "action_types:\n  evacuate:\n    params:\n      - name: mode\n        kind: enum\n")
	_, err = bad.run(t, "strategy", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind")
}

func TestPlanLinesOrderIndicatorsByName(t *testing.T) {
	plan := &actionplan.ActionPlan{
		StrategyID:     "dummy",
		Indicators:     efficacy.Set{{Name: "released_nodes", Value: 1}, {Name: "action_count", Value: 2}},
		GlobalEfficacy: efficacy.Global{Name: "score", Unit: "%", Value: 50},
	}
	assert.Equal(t, []string{
		"strategy dummy",
		"indicator action_count = 2",
		"indicator released_nodes = 1",
		"global score = 50 %",
	}, planLines(plan))
}
