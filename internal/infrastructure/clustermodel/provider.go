// Package clustermodel supplies cluster snapshots to the selector.
package clustermodel

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
	apperrors "github.com/alexisbeaulieu97/tuner/pkg/errors"
)

// FileProvider reads a YAML snapshot from disk on every call so each audit
// sees the file's current contents.
type FileProvider struct {
	path   string
	logger ports.Logger
	now    func() time.Time
}

// NewFileProvider creates a provider for the snapshot at path.
func NewFileProvider(path string, logger ports.Logger) *FileProvider {
	return &FileProvider{path: path, logger: logger, now: time.Now}
}

// CurrentModel implements ports.ClusterModelProvider.
func (p *FileProvider) CurrentModel(ctx context.Context) (*cluster.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.path == "" {
		return nil, fmt.Errorf("no cluster snapshot configured")
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, apperrors.NewParseError(p.path, 0, err)
	}
	model, err := Decode(p.path, data, p.now())
	if err != nil {
		return nil, err
	}
	if p.logger != nil {
		p.logger.Debug(ctx, "cluster snapshot loaded", "path", p.path, "nodes", len(model.Nodes()), "pools", len(model.Pools()))
	}
	return model, nil
}

// Decode parses YAML snapshot bytes. Snapshots without captured_at are
// stamped with fallback.
func Decode(path string, data []byte, fallback time.Time) (*cluster.Model, error) {
	var snap cluster.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.NewYAMLParseError(path, err)
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = fallback
	}
	model, err := cluster.NewModel(snap)
	if err != nil {
		return nil, apperrors.NewValidationError(path, "invalid cluster snapshot", err)
	}
	return model, nil
}

// StaticProvider always returns the same model, or the same error.
type StaticProvider struct {
	mu    sync.RWMutex
	model *cluster.Model
	err   error
}

// NewStaticProvider wraps a pre-built model.
func NewStaticProvider(model *cluster.Model) *StaticProvider {
	return &StaticProvider{model: model}
}

// Set swaps the served model and error.
func (p *StaticProvider) Set(model *cluster.Model, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
	p.err = err
}

// CurrentModel implements ports.ClusterModelProvider.
func (p *StaticProvider) CurrentModel(ctx context.Context) (*cluster.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.model == nil {
		return nil, fmt.Errorf("no cluster model available")
	}
	return p.model, nil
}

var (
	_ ports.ClusterModelProvider = (*FileProvider)(nil)
	_ ports.ClusterModelProvider = (*StaticProvider)(nil)
)
