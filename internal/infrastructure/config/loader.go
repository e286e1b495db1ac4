// Package config loads tuner's configuration from file, environment and
// defaults through viper.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/alexisbeaulieu97/tuner/internal/config"
	apperrors "github.com/alexisbeaulieu97/tuner/pkg/errors"
)

// EnvPrefix namespaces environment overrides, e.g. TUNER_STORE_DRIVER.
const EnvPrefix = "TUNER"

// Loader resolves a config.Config. The zero value searches the default
// locations.
type Loader struct {
	// Path forces a specific file. A missing forced file is an error.
	Path string
	// SearchPaths replaces the default search directories.
	SearchPaths []string
}

// Result carries the loaded configuration and the file it came from, if any.
type Result struct {
	Config config.Config
	File   string
}

// Load merges defaults, the config file and TUNER_* environment variables,
// then validates the result.
func (l Loader) Load() (*Result, error) {
	v := viper.New()
	setDefaults(v, config.Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.Path != "" {
		v.SetConfigFile(l.Path)
	} else {
		v.SetConfigName("tuner")
		v.SetConfigType("yaml")
		for _, dir := range l.searchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.Path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewYAMLParseError(l.describe(v), err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewParseError(l.describe(v), 0, err)
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, File: v.ConfigFileUsed()}, nil
}

func (l Loader) searchPaths() []string {
	if len(l.SearchPaths) > 0 {
		return l.SearchPaths
	}
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "tuner"))
	}
	return paths
}

func (l Loader) describe(v *viper.Viper) string {
	if used := v.ConfigFileUsed(); used != "" {
		return used
	}
	if l.Path != "" {
		return l.Path
	}
	return "tuner.yaml"
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("cluster.snapshot_path", d.Cluster.SnapshotPath)
	v.SetDefault("selector.strict_goals", d.Selector.StrictGoals)
	v.SetDefault("runner.parallelism", d.Runner.Parallelism)
	v.SetDefault("server.addr", d.Server.Addr)
}
