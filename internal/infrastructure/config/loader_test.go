package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alexisbeaulieu97/tuner/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	res, err := Loader{SearchPaths: []string{t.TempDir()}}.Load()
	require.NoError(t, err)

	assert.Empty(t, res.File)
	assert.Equal(t, "info", res.Config.Log.Level)
	assert.Equal(t, "sqlite", res.Config.Store.Driver)
	assert.Equal(t, 4, res.Config.Runner.Parallelism)
	assert.Equal(t, "127.0.0.1:8088", res.Config.Server.Addr)
}

func TestLoadFileAndStrategyOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tuner.yaml", `
log:
  level: debug
  format: json
store:
  driver: memory
cluster:
  snapshot_path: /tmp/cluster.yaml
selector:
  strict_goals: true
runner:
  parallelism: 2
strategies:
  basic_consolidation:
    priority: 50
    enabled: false
    parameters:
      migration_attempts: 3
`)

	res, err := Loader{SearchPaths: []string{dir}}.Load()
	require.NoError(t, err)

	cfg := res.Config
	assert.Equal(t, filepath.Join(dir, "tuner.yaml"), res.File)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "/tmp/cluster.yaml", cfg.Cluster.SnapshotPath)
	assert.True(t, cfg.Selector.StrictGoals)
	assert.Equal(t, 2, cfg.Runner.Parallelism)

	sc, ok := cfg.Strategies["basic_consolidation"]
	require.True(t, ok)
	require.NotNil(t, sc.Priority)
	require.NotNil(t, sc.Enabled)
	assert.Equal(t, 50, *sc.Priority)
	assert.False(t, *sc.Enabled)
	assert.EqualValues(t, 3, sc.Parameters["migration_attempts"])
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yaml", "runner:\n  parallelism: 2\n")
	t.Setenv("TUNER_RUNNER_PARALLELISM", "8")
	t.Setenv("TUNER_LOG_LEVEL", "warn")

	res, err := Loader{Path: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, 8, res.Config.Runner.Parallelism)
	assert.Equal(t, "warn", res.Config.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Loader{Path: filepath.Join(dir, "missing.yaml")}.Load()
	var parseErr *apperrors.ParseError
	require.ErrorAs(t, err, &parseErr)

	bad := writeFile(t, dir, "bad.yaml", "log: [unterminated\n")
	_, err = Loader{Path: bad}.Load()
	require.ErrorAs(t, err, &parseErr)

	invalid := writeFile(t, dir, "invalid.yaml", "runner:\n  parallelism: 0\n")
	_, err = Loader{Path: invalid}.Load()
	var valErr *apperrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "runner.parallelism", valErr.Field)
}
