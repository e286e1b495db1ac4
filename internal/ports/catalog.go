package ports

import (
	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
)

// StrategyCatalog resolves strategies by id or goal. Catalogs are populated
// at startup and must be safe for concurrent reads.
type StrategyCatalog interface {
	Get(id string) (strategy.Descriptor, bool)
	ListByGoal(goal string) []strategy.Descriptor
	List() []strategy.Descriptor
	Instantiate(id string, model *cluster.Model, params map[string]interface{}) (strategy.Strategy, error)
}
