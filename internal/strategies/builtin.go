// Package strategies bundles the built-in optimization strategies.
package strategies

import (
	"fmt"

	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/consolidation"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/dummy"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/storagebalance"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/workload"
)

// Builtin pairs a descriptor with its factory.
type Builtin struct {
	Descriptor strategy.Descriptor
	Factory    strategy.Factory
}

// Registrar is satisfied by the catalog registry.
type Registrar interface {
	Register(desc strategy.Descriptor, factory strategy.Factory) error
}

// Builtins lists the strategies shipped with tuner.
func Builtins() []Builtin {
	return []Builtin{
		{Descriptor: dummy.Descriptor(), Factory: dummy.New},
		{Descriptor: consolidation.Descriptor(), Factory: consolidation.New},
		{Descriptor: workload.Descriptor(), Factory: workload.New},
		{Descriptor: storagebalance.Descriptor(), Factory: storagebalance.New},
	}
}

// RegisterAll registers every built-in strategy.
func RegisterAll(r Registrar) error {
	for _, b := range Builtins() {
		if err := r.Register(b.Descriptor, b.Factory); err != nil {
			return fmt.Errorf("register %s: %w", b.Descriptor.ID, err)
		}
	}
	return nil
}
