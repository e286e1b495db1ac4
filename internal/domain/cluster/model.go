// Package cluster models the read-only snapshot of the system being
// optimized. Strategies receive a *Model at instantiation and must treat it
// as immutable; accessors hand out copies.
package cluster

import (
	"fmt"
	"sort"
	"time"
)

// Kind names a section of the data model a strategy may require.
type Kind string

const (
	KindCompute Kind = "compute"
	KindStorage Kind = "storage"
)

// NodeState reports whether a compute node accepts workloads.
type NodeState string

const (
	NodeEnabled  NodeState = "enabled"
	NodeDisabled NodeState = "disabled"
)

// Resources is a capacity or usage triple.
type Resources struct {
	VCPUs    int `yaml:"vcpus" json:"vcpus"`
	MemoryMB int `yaml:"memory_mb" json:"memory_mb"`
	DiskGB   int `yaml:"disk_gb" json:"disk_gb"`
}

// Add returns the element-wise sum.
func (r Resources) Add(o Resources) Resources {
	return Resources{VCPUs: r.VCPUs + o.VCPUs, MemoryMB: r.MemoryMB + o.MemoryMB, DiskGB: r.DiskGB + o.DiskGB}
}

// Fits reports whether r fits inside capacity.
func (r Resources) Fits(capacity Resources) bool {
	return r.VCPUs <= capacity.VCPUs && r.MemoryMB <= capacity.MemoryMB && r.DiskGB <= capacity.DiskGB
}

// Instance is a workload placed on a node.
type Instance struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Flavor   string    `yaml:"flavor" json:"flavor"`
	Usage    Resources `yaml:"usage" json:"usage"`
	CPUUtil  float64   `yaml:"cpu_util" json:"cpu_util"`
	Movable  *bool     `yaml:"movable,omitempty" json:"movable,omitempty"`
	Attached []string  `yaml:"volumes,omitempty" json:"volumes,omitempty"`
}

// IsMovable defaults to true when unset.
func (i Instance) IsMovable() bool {
	return i.Movable == nil || *i.Movable
}

// Node is a compute host.
type Node struct {
	ID        string     `yaml:"id" json:"id"`
	Zone      string     `yaml:"zone" json:"zone"`
	State     NodeState  `yaml:"state" json:"state"`
	Capacity  Resources  `yaml:"capacity" json:"capacity"`
	Instances []Instance `yaml:"instances" json:"instances"`
}

// Used sums instance usage on the node.
func (n Node) Used() Resources {
	var used Resources
	for _, inst := range n.Instances {
		used = used.Add(inst.Usage)
	}
	return used
}

// CPULoad is the summed CPU utilisation of the node's instances weighted by
// their vCPUs, relative to node capacity (0..1).
func (n Node) CPULoad() float64 {
	if n.Capacity.VCPUs == 0 {
		return 0
	}
	var load float64
	for _, inst := range n.Instances {
		load += inst.CPUUtil * float64(inst.Usage.VCPUs)
	}
	return load / float64(n.Capacity.VCPUs)
}

func (n Node) clone() Node {
	out := n
	out.Instances = make([]Instance, len(n.Instances))
	for i, inst := range n.Instances {
		c := inst
		c.Attached = append([]string(nil), inst.Attached...)
		if inst.Movable != nil {
			m := *inst.Movable
			c.Movable = &m
		}
		out.Instances[i] = c
	}
	return out
}

// Volume is a block device stored in a pool.
type Volume struct {
	ID     string `yaml:"id" json:"id"`
	SizeGB int    `yaml:"size_gb" json:"size_gb"`
}

// Pool is a storage backend pool.
type Pool struct {
	ID         string   `yaml:"id" json:"id"`
	CapacityGB int      `yaml:"capacity_gb" json:"capacity_gb"`
	Volumes    []Volume `yaml:"volumes" json:"volumes"`
}

// UsedGB sums the volume sizes in the pool.
func (p Pool) UsedGB() int {
	total := 0
	for _, v := range p.Volumes {
		total += v.SizeGB
	}
	return total
}

// Utilisation returns used/capacity (0 when capacity is unknown).
func (p Pool) Utilisation() float64 {
	if p.CapacityGB == 0 {
		return 0
	}
	return float64(p.UsedGB()) / float64(p.CapacityGB)
}

// Model is an immutable snapshot of the cluster.
type Model struct {
	capturedAt time.Time
	nodes      []Node
	pools      []Pool
	kinds      map[Kind]struct{}
}

// Snapshot is the mutable builder form used by providers.
type Snapshot struct {
	CapturedAt time.Time `yaml:"captured_at" json:"captured_at"`
	Nodes      []Node    `yaml:"nodes" json:"nodes"`
	Pools      []Pool    `yaml:"pools" json:"pools"`
}

// NewModel freezes a snapshot after validating identifiers.
func NewModel(s Snapshot) (*Model, error) {
	m := &Model{capturedAt: s.CapturedAt.UTC(), kinds: make(map[Kind]struct{})}

	nodeIDs := make(map[string]struct{}, len(s.Nodes))
	instanceIDs := make(map[string]struct{})
	for _, n := range s.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("cluster snapshot: node without id")
		}
		if _, dup := nodeIDs[n.ID]; dup {
			return nil, fmt.Errorf("cluster snapshot: duplicate node %q", n.ID)
		}
		nodeIDs[n.ID] = struct{}{}
		for _, inst := range n.Instances {
			if inst.ID == "" {
				return nil, fmt.Errorf("cluster snapshot: instance without id on node %q", n.ID)
			}
			if _, dup := instanceIDs[inst.ID]; dup {
				return nil, fmt.Errorf("cluster snapshot: instance %q placed twice", inst.ID)
			}
			instanceIDs[inst.ID] = struct{}{}
		}
		if n.State == "" {
			n.State = NodeEnabled
		}
		m.nodes = append(m.nodes, n.clone())
	}

	poolIDs := make(map[string]struct{}, len(s.Pools))
	for _, p := range s.Pools {
		if p.ID == "" {
			return nil, fmt.Errorf("cluster snapshot: pool without id")
		}
		if _, dup := poolIDs[p.ID]; dup {
			return nil, fmt.Errorf("cluster snapshot: duplicate pool %q", p.ID)
		}
		poolIDs[p.ID] = struct{}{}
		cp := p
		cp.Volumes = append([]Volume(nil), p.Volumes...)
		m.pools = append(m.pools, cp)
	}

	sort.Slice(m.nodes, func(i, j int) bool { return m.nodes[i].ID < m.nodes[j].ID })
	sort.Slice(m.pools, func(i, j int) bool { return m.pools[i].ID < m.pools[j].ID })

	if len(m.nodes) > 0 {
		m.kinds[KindCompute] = struct{}{}
	}
	if len(m.pools) > 0 {
		m.kinds[KindStorage] = struct{}{}
	}
	return m, nil
}

// CapturedAt is the snapshot time.
func (m *Model) CapturedAt() time.Time { return m.capturedAt }

// Has reports whether the snapshot carries the given section.
func (m *Model) Has(kind Kind) bool {
	if m == nil {
		return false
	}
	_, ok := m.kinds[kind]
	return ok
}

// Nodes returns copies of the compute nodes ordered by id.
func (m *Model) Nodes() []Node {
	out := make([]Node, len(m.nodes))
	for i, n := range m.nodes {
		out[i] = n.clone()
	}
	return out
}

// Node looks up a node by id.
func (m *Model) Node(id string) (Node, bool) {
	for _, n := range m.nodes {
		if n.ID == id {
			return n.clone(), true
		}
	}
	return Node{}, false
}

// Pools returns copies of the storage pools ordered by id.
func (m *Model) Pools() []Pool {
	out := make([]Pool, len(m.pools))
	for i, p := range m.pools {
		cp := p
		cp.Volumes = append([]Volume(nil), p.Volumes...)
		out[i] = cp
	}
	return out
}

// InstanceCount is the number of instances across all nodes.
func (m *Model) InstanceCount() int {
	total := 0
	for _, n := range m.nodes {
		total += len(n.Instances)
	}
	return total
}

// Facts flattens the snapshot into plain maps for expression evaluation.
func (m *Model) Facts() map[string]interface{} {
	nodes := make([]interface{}, 0, len(m.nodes))
	enabled := 0
	for _, n := range m.nodes {
		if n.State == NodeEnabled {
			enabled++
		}
		nodes = append(nodes, map[string]interface{}{
			"id":        n.ID,
			"zone":      n.Zone,
			"state":     string(n.State),
			"instances": int64(len(n.Instances)),
			"cpu_load":  n.CPULoad(),
		})
	}
	pools := make([]interface{}, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, map[string]interface{}{
			"id":          p.ID,
			"capacity_gb": int64(p.CapacityGB),
			"used_gb":     int64(p.UsedGB()),
			"volumes":     int64(len(p.Volumes)),
		})
	}
	return map[string]interface{}{
		"nodes":          nodes,
		"pools":          pools,
		"enabled_nodes":  int64(enabled),
		"instance_count": int64(m.InstanceCount()),
	}
}
