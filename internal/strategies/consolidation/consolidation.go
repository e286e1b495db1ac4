// Package consolidation implements basic server consolidation: empty the
// least loaded compute nodes onto the others and disable them.
package consolidation

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
	ID   = "basic_consolidation"
	Goal = "server_consolidation"

	paramMigrationType = "migration_type"
	paramMaxReleased   = "max_released_nodes"

	indicatorReleased   = "released_nodes_count"
	indicatorMigrations = "instance_migrations_count"
	indicatorNodes      = "compute_nodes_count"
)

// Descriptor returns the selection metadata.
func Descriptor() strategy.Descriptor {
	zero := 0.0
	return strategy.Descriptor{
		ID:          ID,
		DisplayName: "Basic offline consolidation",
		Goals:       []string{Goal},
		Priority:    10,
		Requirements: strategy.Requirements{
			ModelKinds:  []cluster.Kind{cluster.KindCompute},
			Expressions: []string{"cluster.enabled_nodes >= 2"},
		},
		Indicators: []efficacy.Spec{
			{Name: indicatorReleased, Unit: "nodes", Min: &zero},
			{Name: indicatorMigrations, Unit: "instances", Min: &zero},
			{Name: indicatorNodes, Unit: "nodes", Min: &zero},
		},
	}
}

type consolidation struct {
	model         *cluster.Model
	migrationType string
	maxReleased   int
}

// New is the strategy.Factory for basic consolidation.
func New(model *cluster.Model, p map[string]interface{}) (strategy.Strategy, error) {
	if err := params.Unknown(p, paramMigrationType, paramMaxReleased); err != nil {
		return nil, err
	}
	mt, err := params.OneOf(p, paramMigrationType, "live", "live", "cold")
	if err != nil {
		return nil, err
	}
	maxReleased, err := params.NonNegativeInt(p, paramMaxReleased, 0)
	if err != nil {
		return nil, err
	}
	return &consolidation{model: model, migrationType: mt, maxReleased: maxReleased}, nil
}

func (c *consolidation) PreExecute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.model == nil {
		return fmt.Errorf("no cluster model")
	}
	enabled := 0
	for _, n := range c.model.Nodes() {
		if n.State == cluster.NodeEnabled {
			enabled++
		}
	}
	if enabled < 2 {
		return fmt.Errorf("consolidation needs at least two enabled compute nodes, found %d", enabled)
	}
	return nil
}

type placement struct {
	node     cluster.Node
	used     cluster.Resources
	released bool
	received bool
}

func (c *consolidation) DoExecute(ctx context.Context) ([]solution.ProposedAction, error) {
	var hosts []*placement
	for _, n := range c.model.Nodes() {
		if n.State == cluster.NodeEnabled {
			hosts = append(hosts, &placement{node: n, used: n.Used()})
		}
	}

	sources := append([]*placement(nil), hosts...)
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].used.VCPUs != sources[j].used.VCPUs {
			return sources[i].used.VCPUs < sources[j].used.VCPUs
		}
		return sources[i].node.ID < sources[j].node.ID
	})

	var actions []solution.ProposedAction
	released := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.maxReleased > 0 && released >= c.maxReleased {
			break
		}
		if src.received || remaining(hosts, src) == 0 {
			continue
		}
		moves, ok := c.evacuate(hosts, src)
		if !ok {
			continue
		}
		actions = append(actions, moves...)
		actions = append(actions, solution.ProposedAction{
			Type:       solution.ActionChangeNodeState,
			ResourceID: src.node.ID,
			Parameters: map[string]interface{}{"state": string(cluster.NodeDisabled), "reason": "consolidated"},
		})
		src.released = true
		released++
	}
	return actions, nil
}

// remaining counts enabled hosts other than src that are still in service.
func remaining(hosts []*placement, src *placement) int {
	n := 0
	for _, h := range hosts {
		if h != src && !h.released {
			n++
		}
	}
	return n
}

// evacuate places every instance of src on the fullest host that still fits
// it. Usage is only committed when the whole node can be emptied.
func (c *consolidation) evacuate(hosts []*placement, src *placement) ([]solution.ProposedAction, bool) {
	instances := append([]cluster.Instance(nil), src.node.Instances...)
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].Usage.VCPUs != instances[j].Usage.VCPUs {
			return instances[i].Usage.VCPUs > instances[j].Usage.VCPUs
		}
		return instances[i].ID < instances[j].ID
	})

	tentative := make(map[*placement]cluster.Resources, len(hosts))
	for _, h := range hosts {
		tentative[h] = h.used
	}

	moves := make([]solution.ProposedAction, 0, len(instances))
	dests := make([]*placement, 0, len(instances))
	for _, inst := range instances {
		if !inst.IsMovable() {
			return nil, false
		}
		var best *placement
		for _, h := range hosts {
			if h == src || h.released {
				continue
			}
			if !tentative[h].Add(inst.Usage).Fits(h.node.Capacity) {
				continue
			}
			if best == nil || tentative[h].VCPUs > tentative[best].VCPUs ||
				(tentative[h].VCPUs == tentative[best].VCPUs && h.node.ID < best.node.ID) {
				best = h
			}
		}
		if best == nil {
			return nil, false
		}
		tentative[best] = tentative[best].Add(inst.Usage)
		dests = append(dests, best)
		moves = append(moves, solution.ProposedAction{
			Type:       solution.ActionMigrate,
			ResourceID: inst.ID,
			Parameters: map[string]interface{}{
				"migration_type":   c.migrationType,
				"source_node":      src.node.ID,
				"destination_node": best.node.ID,
			},
		})
	}

	for h, used := range tentative {
		h.used = used
	}
	for _, d := range dests {
		d.received = true
	}
	src.used = cluster.Resources{}
	return moves, true
}

func (c *consolidation) PostExecute(_ context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error) {
	var releasedCount, migrations int
	for _, a := range actions {
		switch a.Type {
		case solution.ActionChangeNodeState:
			releasedCount++
		case solution.ActionMigrate:
			migrations++
		}
	}
	enabled := 0
	for _, n := range c.model.Nodes() {
		if n.State == cluster.NodeEnabled {
			enabled++
		}
	}
	return []efficacy.Indicator{
		{Name: indicatorReleased, Description: "Compute nodes released", Unit: "nodes", Value: float64(releasedCount)},
		{Name: indicatorMigrations, Description: "Instance migrations", Unit: "instances", Value: float64(migrations)},
		{Name: indicatorNodes, Description: "Enabled compute nodes before consolidation", Unit: "nodes", Value: float64(enabled)},
	}, nil
}

func (c *consolidation) ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error) {
	set := efficacy.Set(indicators)
	nodes := set.Value(indicatorNodes)
	if nodes <= 0 {
		return efficacy.Global{}, fmt.Errorf("indicator %s must be positive", indicatorNodes)
	}
	return efficacy.Global{
		Name:        "released_nodes_ratio",
		Description: "Share of enabled compute nodes released",
		Unit:        "%",
		Value:       set.Value(indicatorReleased) / nodes * 100,
	}, nil
}
