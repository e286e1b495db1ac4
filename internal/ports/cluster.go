package ports

import (
	"context"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
)

// ClusterModelProvider yields a fresh, immutable snapshot per call.
type ClusterModelProvider interface {
	CurrentModel(ctx context.Context) (*cluster.Model, error)
}
