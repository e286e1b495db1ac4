// Package config defines tuner's configuration model and its validation
// rules. Loading lives in internal/infrastructure/config.
package config

import (
	"os"
	"path/filepath"
)

// Config is the root configuration document.
type Config struct {
	Log        LogConfig                 `mapstructure:"log"`
	Store      StoreConfig               `mapstructure:"store"`
	Cluster    ClusterConfig             `mapstructure:"cluster"`
	Selector   SelectorConfig            `mapstructure:"selector"`
	Runner     RunnerConfig              `mapstructure:"runner"`
	Server     ServerConfig              `mapstructure:"server"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies" validate:"dive,keys,strategy_id,endkeys"`
	// ActionTypes declares action types beyond the built-in ones. An entry
	// named like a built-in type replaces its schema.
	ActionTypes map[string]ActionTypeConfig `mapstructure:"action_types" validate:"dive,keys,action_type,endkeys"`
}

// LogConfig selects verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite memory"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

// ClusterConfig points at the cluster snapshot.
type ClusterConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// SelectorConfig tunes goal resolution.
type SelectorConfig struct {
	// StrictGoals fails with AMBIGUOUS_GOAL instead of breaking priority ties by id.
	StrictGoals bool `mapstructure:"strict_goals"`
}

// RunnerConfig bounds concurrent audit executions.
type RunnerConfig struct {
	Parallelism int `mapstructure:"parallelism" validate:"min=1,max=64"`
}

// ServerConfig configures `tuner serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,listen_addr"`
}

// StrategyConfig overrides a built-in strategy.
type StrategyConfig struct {
	Priority   *int                   `mapstructure:"priority"`
	Enabled    *bool                  `mapstructure:"enabled"`
	Parameters map[string]interface{} `mapstructure:"parameters"`
}

// ActionTypeConfig is the parameter schema of a declared action type.
type ActionTypeConfig struct {
	Description string              `mapstructure:"description" validate:"max=255"`
	Params      []ActionParamConfig `mapstructure:"params" validate:"dive"`
}

// ActionParamConfig describes one action parameter.
type ActionParamConfig struct {
	Name     string   `mapstructure:"name" validate:"required"`
	Kind     string   `mapstructure:"kind" validate:"required,oneof=string number bool duration"`
	Required bool     `mapstructure:"required"`
	OneOf    []string `mapstructure:"one_of"`
	Min      *float64 `mapstructure:"min"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info", Format: "console"},
		Store:    StoreConfig{Driver: "sqlite", Path: DefaultStorePath()},
		Runner:   RunnerConfig{Parallelism: 4},
		Server:   ServerConfig{Addr: "127.0.0.1:8088"},
		Selector: SelectorConfig{},
	}
}

// DefaultStorePath is the SQLite file under the user's config directory, or
// the working directory when that cannot be determined.
func DefaultStorePath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "tuner.db"
	}
	return filepath.Join(base, "tuner", "tuner.db")
}
