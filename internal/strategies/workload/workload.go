// Package workload implements CPU workload balancing: instances move off
// compute nodes whose load exceeds a threshold onto the least loaded node
// that stays under it.
package workload

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
	ID   = "workload_balance"
	Goal = "workload_balancing"

	paramThreshold     = "threshold"
	paramMigrationType = "migration_type"

	indicatorMigrations = "instance_migrations_count"
	indicatorPeakBefore = "peak_cpu_load_before"
	indicatorPeakAfter  = "peak_cpu_load_after"
)

// Descriptor returns the selection metadata.
func Descriptor() strategy.Descriptor {
	zero, hundred := 0.0, 100.0
	return strategy.Descriptor{
		ID:          ID,
		DisplayName: "Workload balance migration",
		Goals:       []string{Goal},
		Priority:    10,
		Requirements: strategy.Requirements{
			ModelKinds:  []cluster.Kind{cluster.KindCompute},
			Expressions: []string{"cluster.enabled_nodes >= 2", "cluster.instance_count > 0"},
		},
		Indicators: []efficacy.Spec{
			{Name: indicatorMigrations, Unit: "instances", Min: &zero},
			{Name: indicatorPeakBefore, Unit: "%", Min: &zero},
			{Name: indicatorPeakAfter, Unit: "%", Min: &zero, Max: &hundred},
		},
	}
}

type balancer struct {
	model         *cluster.Model
	threshold     float64
	migrationType string
}

// New is the strategy.Factory for workload balancing.
func New(model *cluster.Model, p map[string]interface{}) (strategy.Strategy, error) {
	if err := params.Unknown(p, paramThreshold, paramMigrationType); err != nil {
		return nil, err
	}
	threshold, err := params.Ratio(p, paramThreshold, 0.8)
	if err != nil {
		return nil, err
	}
	mt, err := params.OneOf(p, paramMigrationType, "live", "live", "cold")
	if err != nil {
		return nil, err
	}
	return &balancer{model: model, threshold: threshold, migrationType: mt}, nil
}

func (b *balancer) PreExecute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.model == nil {
		return fmt.Errorf("no cluster model")
	}
	hosts := b.hosts()
	if len(hosts) < 2 {
		return fmt.Errorf("workload balancing needs at least two enabled compute nodes, found %d", len(hosts))
	}
	for _, h := range hosts {
		if h.node.Capacity.VCPUs <= 0 {
			return fmt.Errorf("node %s reports no vcpu capacity", h.node.ID)
		}
	}
	return nil
}

type host struct {
	node cluster.Node
	used cluster.Resources
	// busy is the absolute CPU demand in vcpus.
	busy float64
}

func (h *host) load() float64 {
	return h.busy / float64(h.node.Capacity.VCPUs)
}

func demand(inst cluster.Instance) float64 {
	return inst.CPUUtil * float64(inst.Usage.VCPUs)
}

func (b *balancer) hosts() []*host {
	var out []*host
	for _, n := range b.model.Nodes() {
		if n.State != cluster.NodeEnabled {
			continue
		}
		h := &host{node: n, used: n.Used()}
		for _, inst := range n.Instances {
			h.busy += demand(inst)
		}
		out = append(out, h)
	}
	return out
}

func (b *balancer) DoExecute(ctx context.Context) ([]solution.ProposedAction, error) {
	hosts := b.hosts()
	overloaded := make([]*host, 0, len(hosts))
	for _, h := range hosts {
		if h.load() > b.threshold {
			overloaded = append(overloaded, h)
		}
	}
	sort.SliceStable(overloaded, func(i, j int) bool {
		if overloaded[i].load() != overloaded[j].load() {
			return overloaded[i].load() > overloaded[j].load()
		}
		return overloaded[i].node.ID < overloaded[j].node.ID
	})

	var actions []solution.ProposedAction
	for _, src := range overloaded {
		candidates := append([]cluster.Instance(nil), src.node.Instances...)
		sort.SliceStable(candidates, func(i, j int) bool {
			if demand(candidates[i]) != demand(candidates[j]) {
				return demand(candidates[i]) < demand(candidates[j])
			}
			return candidates[i].ID < candidates[j].ID
		})

		for _, inst := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if src.load() <= b.threshold {
				break
			}
			if !inst.IsMovable() || demand(inst) == 0 {
				continue
			}
			dst := b.destination(hosts, src, inst)
			if dst == nil {
				continue
			}
			src.busy -= demand(inst)
			src.used = subtract(src.used, inst.Usage)
			dst.busy += demand(inst)
			dst.used = dst.used.Add(inst.Usage)
			actions = append(actions, solution.ProposedAction{
				Type:       solution.ActionMigrate,
				ResourceID: inst.ID,
				Parameters: map[string]interface{}{
					"migration_type":   b.migrationType,
					"source_node":      src.node.ID,
					"destination_node": dst.node.ID,
				},
			})
		}
	}
	return actions, nil
}

// destination picks the least loaded host that fits inst and stays at or
// under the threshold afterwards.
func (b *balancer) destination(hosts []*host, src *host, inst cluster.Instance) *host {
	var best *host
	for _, h := range hosts {
		if h == src {
			continue
		}
		if !h.used.Add(inst.Usage).Fits(h.node.Capacity) {
			continue
		}
		if (h.busy+demand(inst))/float64(h.node.Capacity.VCPUs) > b.threshold {
			continue
		}
		if best == nil || h.load() < best.load() || (h.load() == best.load() && h.node.ID < best.node.ID) {
			best = h
		}
	}
	return best
}

func subtract(a, b cluster.Resources) cluster.Resources {
	return cluster.Resources{VCPUs: a.VCPUs - b.VCPUs, MemoryMB: a.MemoryMB - b.MemoryMB, DiskGB: a.DiskGB - b.DiskGB}
}

func peak(hosts []*host) float64 {
	var max float64
	for _, h := range hosts {
		if l := h.load(); l > max {
			max = l
		}
	}
	return max * 100
}

func (b *balancer) PostExecute(_ context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error) {
	hosts := b.hosts()
	before := peak(hosts)

	byID := make(map[string]*host, len(hosts))
	for _, h := range hosts {
		byID[h.node.ID] = h
	}
	migrations := 0
	for _, a := range actions {
		if a.Type != solution.ActionMigrate {
			continue
		}
		src, _ := a.Parameters["source_node"].(string)
		dstID, _ := a.Parameters["destination_node"].(string)
		from, to := byID[src], byID[dstID]
		if from == nil || to == nil {
			return nil, fmt.Errorf("migration of %s references unknown node", a.ResourceID)
		}
		for _, inst := range from.node.Instances {
			if inst.ID == a.ResourceID {
				from.busy -= demand(inst)
				to.busy += demand(inst)
			}
		}
		migrations++
	}

	return []efficacy.Indicator{
		{Name: indicatorMigrations, Description: "Instance migrations", Unit: "instances", Value: float64(migrations)},
		{Name: indicatorPeakBefore, Description: "Highest node CPU load before", Unit: "%", Value: before},
		{Name: indicatorPeakAfter, Description: "Highest node CPU load after", Unit: "%", Value: peak(hosts)},
	}, nil
}

func (b *balancer) ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error) {
	set := efficacy.Set(indicators)
	if _, ok := set.Get(indicatorPeakAfter); !ok {
		return efficacy.Global{}, fmt.Errorf("indicator %s missing", indicatorPeakAfter)
	}
	return efficacy.Global{
		Name:        "peak_cpu_load_reduction",
		Description: "Reduction of the highest node CPU load",
		Unit:        "%",
		Value:       set.Value(indicatorPeakBefore) - set.Value(indicatorPeakAfter),
	}, nil
}
