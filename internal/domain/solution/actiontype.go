package solution

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Built-in action types.
const (
	ActionNop             = "nop"
	ActionSleep           = "sleep"
	ActionMigrate         = "migrate"
	ActionChangeNodeState = "change_node_state"
	ActionResize          = "resize"
	ActionVolumeMigrate   = "volume_migrate"
)

// ParamKind is the expected dynamic type of a parameter value.
type ParamKind string

const (
	KindString   ParamKind = "string"
	KindNumber   ParamKind = "number"
	KindBool     ParamKind = "bool"
	KindDuration ParamKind = "duration"
)

// ParamSpec describes one input parameter of an action type.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	OneOf    []string
	Min      *float64
}

// ActionType is a recognised action with its parameter schema.
type ActionType struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// ValidateParameters checks params against the schema and returns a short
// human-readable reason on the first violation.
func (t ActionType) ValidateParameters(params map[string]interface{}) error {
	known := make(map[string]struct{}, len(t.Params))
	for _, spec := range t.Params {
		known[spec.Name] = struct{}{}
		raw, ok := params[spec.Name]
		if !ok || raw == nil {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", spec.Name)
			}
			continue
		}
		if err := spec.check(raw); err != nil {
			return err
		}
	}
	var unknown []string
	for name := range params {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown parameter(s) %s for action type %s", strings.Join(unknown, ", "), t.Name)
	}
	return nil
}

func (p ParamSpec) check(raw interface{}) error {
	switch p.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
		if p.Required && strings.TrimSpace(s) == "" {
			return fmt.Errorf("parameter %q must not be empty", p.Name)
		}
		if len(p.OneOf) > 0 && !contains(p.OneOf, s) {
			return fmt.Errorf("parameter %q must be one of %s", p.Name, strings.Join(p.OneOf, "|"))
		}
	case KindNumber:
		f, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("parameter %q must be a finite number", p.Name)
		}
		if p.Min != nil && f < *p.Min {
			return fmt.Errorf("parameter %q must be >= %v", p.Name, *p.Min)
		}
	case KindBool:
		if _, ok := raw.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	case KindDuration:
		var d time.Duration
		switch v := raw.(type) {
		case string:
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parameter %q is not a duration: %v", p.Name, err)
			}
			d = parsed
		default:
			f, ok := toFloat(raw)
			if !ok {
				return fmt.Errorf("parameter %q must be a duration or number of seconds", p.Name)
			}
			if math.Abs(f) > maxDurationSeconds {
				return fmt.Errorf("parameter %q is out of range", p.Name)
			}
			d = time.Duration(f * float64(time.Second))
		}
		if d < 0 {
			return fmt.Errorf("parameter %q must not be negative", p.Name)
		}
	}
	return nil
}

// maxDurationSeconds is the largest number of seconds a time.Duration holds.
var maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// toFloat converts numeric parameters. NaN and infinities are rejected.
func toFloat(raw interface{}) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		f = float64(v)
	case float64:
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// ActionTypes is a concurrency-safe registry of recognised action types.
type ActionTypes struct {
	mu    sync.RWMutex
	types map[string]ActionType
}

// NewActionTypes builds a registry seeded with the given types.
func NewActionTypes(types ...ActionType) *ActionTypes {
	r := &ActionTypes{types: make(map[string]ActionType, len(types))}
	for _, t := range types {
		r.types[t.Name] = t
	}
	return r
}

// DefaultActionTypes returns a registry with the built-in action types.
func DefaultActionTypes() *ActionTypes {
	zero := 0.0
	return NewActionTypes(
		ActionType{
			Name:        ActionNop,
			Description: "Logs a message and does nothing else",
			Params:      []ParamSpec{{Name: "message", Kind: KindString}},
		},
		ActionType{
			Name:        ActionSleep,
			Description: "Waits for the given duration",
			Params:      []ParamSpec{{Name: "duration", Kind: KindDuration, Required: true, Min: &zero}},
		},
		ActionType{
			Name:        ActionMigrate,
			Description: "Moves an instance between compute nodes",
			Params: []ParamSpec{
				{Name: "migration_type", Kind: KindString, Required: true, OneOf: []string{"live", "cold"}},
				{Name: "source_node", Kind: KindString, Required: true},
				{Name: "destination_node", Kind: KindString},
			},
		},
		ActionType{
			Name:        ActionChangeNodeState,
			Description: "Enables or disables a compute node",
			Params: []ParamSpec{
				{Name: "state", Kind: KindString, Required: true, OneOf: []string{"enabled", "disabled"}},
				{Name: "reason", Kind: KindString},
			},
		},
		ActionType{
			Name:        ActionResize,
			Description: "Changes the flavor of an instance",
			Params:      []ParamSpec{{Name: "flavor", Kind: KindString, Required: true}},
		},
		ActionType{
			Name:        ActionVolumeMigrate,
			Description: "Moves a volume to another storage pool",
			Params:      []ParamSpec{{Name: "destination_pool", Kind: KindString, Required: true}},
		},
	)
}

// Register adds or replaces an action type.
func (r *ActionTypes) Register(t ActionType) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("action type name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
	return nil
}

// Get looks up an action type by name.
func (r *ActionTypes) Get(name string) (ActionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// List returns all action types ordered by name.
func (r *ActionTypes) List() []ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActionType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
