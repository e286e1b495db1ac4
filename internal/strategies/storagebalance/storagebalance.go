// Package storagebalance moves volumes off storage pools whose utilisation
// exceeds a threshold.
package storagebalance

import (
	"context"
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/params"
)

const (
	ID   = "storage_balance"
	Goal = "storage_balancing"

	paramThreshold = "threshold"

	indicatorMigrations = "volume_migrations_count"
	indicatorMovedGB    = "migrated_capacity_gb"
	indicatorPeakBefore = "peak_pool_utilisation_before"
	indicatorPeakAfter  = "peak_pool_utilisation_after"
)

// Descriptor returns the selection metadata.
func Descriptor() strategy.Descriptor {
	zero := 0.0
	return strategy.Descriptor{
		ID:          ID,
		DisplayName: "Storage capacity balance",
		Goals:       []string{Goal},
		Priority:    10,
		Requirements: strategy.Requirements{
			ModelKinds:  []cluster.Kind{cluster.KindStorage},
			Expressions: []string{"size(cluster.pools) >= 2"},
		},
		Indicators: []efficacy.Spec{
			{Name: indicatorMigrations, Unit: "volumes", Min: &zero},
			{Name: indicatorMovedGB, Unit: "GB", Min: &zero},
			{Name: indicatorPeakBefore, Unit: "%", Min: &zero},
			{Name: indicatorPeakAfter, Unit: "%", Min: &zero},
		},
	}
}

type balancer struct {
	model     *cluster.Model
	threshold float64
}

// New is the strategy.Factory for storage balancing.
func New(model *cluster.Model, p map[string]interface{}) (strategy.Strategy, error) {
	if err := params.Unknown(p, paramThreshold); err != nil {
		return nil, err
	}
	threshold, err := params.Ratio(p, paramThreshold, 0.8)
	if err != nil {
		return nil, err
	}
	return &balancer{model: model, threshold: threshold}, nil
}

func (b *balancer) PreExecute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.model == nil {
		return fmt.Errorf("no cluster model")
	}
	pools := b.model.Pools()
	if len(pools) < 2 {
		return fmt.Errorf("storage balancing needs at least two pools, found %d", len(pools))
	}
	for _, p := range pools {
		if p.CapacityGB <= 0 {
			return fmt.Errorf("pool %s reports no capacity", p.ID)
		}
	}
	return nil
}

type pool struct {
	cluster.Pool
	used int
}

func (p *pool) utilisation() float64 {
	return float64(p.used) / float64(p.CapacityGB)
}

func (b *balancer) pools() []*pool {
	var out []*pool
	for _, p := range b.model.Pools() {
		out = append(out, &pool{Pool: p, used: p.UsedGB()})
	}
	return out
}

func (b *balancer) DoExecute(ctx context.Context) ([]solution.ProposedAction, error) {
	pools := b.pools()
	var actions []solution.ProposedAction

	for _, src := range pools {
		if src.utilisation() <= b.threshold {
			continue
		}
		volumes := append([]cluster.Volume(nil), src.Volumes...)
		sort.SliceStable(volumes, func(i, j int) bool {
			if volumes[i].SizeGB != volumes[j].SizeGB {
				return volumes[i].SizeGB > volumes[j].SizeGB
			}
			return volumes[i].ID < volumes[j].ID
		})

		for _, vol := range volumes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if src.utilisation() <= b.threshold {
				break
			}
			dst := b.destination(pools, src, vol)
			if dst == nil {
				continue
			}
			src.used -= vol.SizeGB
			dst.used += vol.SizeGB
			actions = append(actions, solution.ProposedAction{
				Type:       solution.ActionVolumeMigrate,
				ResourceID: vol.ID,
				Parameters: map[string]interface{}{"destination_pool": dst.ID},
			})
		}
	}
	return actions, nil
}

// destination is the least utilised pool that stays under the threshold
// after receiving vol.
func (b *balancer) destination(pools []*pool, src *pool, vol cluster.Volume) *pool {
	var best *pool
	for _, p := range pools {
		if p == src {
			continue
		}
		if float64(p.used+vol.SizeGB)/float64(p.CapacityGB) > b.threshold {
			continue
		}
		if best == nil || p.utilisation() < best.utilisation() {
			best = p
		}
	}
	return best
}

func peak(pools []*pool) float64 {
	var max float64
	for _, p := range pools {
		if u := p.utilisation(); u > max {
			max = u
		}
	}
	return max * 100
}

func (b *balancer) PostExecute(_ context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error) {
	pools := b.pools()
	before := peak(pools)

	owner := make(map[string]*pool)
	sizes := make(map[string]int)
	byID := make(map[string]*pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
		for _, v := range p.Volumes {
			owner[v.ID] = p
			sizes[v.ID] = v.SizeGB
		}
	}

	moved, migrations := 0, 0
	for _, a := range actions {
		if a.Type != solution.ActionVolumeMigrate {
			continue
		}
		dstID, _ := a.Parameters["destination_pool"].(string)
		src, dst := owner[a.ResourceID], byID[dstID]
		if src == nil || dst == nil {
			return nil, fmt.Errorf("volume migration of %s references unknown pool or volume", a.ResourceID)
		}
		src.used -= sizes[a.ResourceID]
		dst.used += sizes[a.ResourceID]
		owner[a.ResourceID] = dst
		moved += sizes[a.ResourceID]
		migrations++
	}

	return []efficacy.Indicator{
		{Name: indicatorMigrations, Description: "Volume migrations", Unit: "volumes", Value: float64(migrations)},
		{Name: indicatorMovedGB, Description: "Capacity moved between pools", Unit: "GB", Value: float64(moved)},
		{Name: indicatorPeakBefore, Description: "Highest pool utilisation before", Unit: "%", Value: before},
		{Name: indicatorPeakAfter, Description: "Highest pool utilisation after", Unit: "%", Value: peak(pools)},
	}, nil
}

func (b *balancer) ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error) {
	set := efficacy.Set(indicators)
	if _, ok := set.Get(indicatorPeakAfter); !ok {
		return efficacy.Global{}, fmt.Errorf("indicator %s missing", indicatorPeakAfter)
	}
	return efficacy.Global{
		Name:        "peak_pool_utilisation_reduction",
		Description: "Reduction of the highest pool utilisation",
		Unit:        "%",
		Value:       set.Value(indicatorPeakBefore) - set.Value(indicatorPeakAfter),
	}, nil
}
