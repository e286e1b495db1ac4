package audit

import (
	"sort"
	"strings"
)

// Filter narrows an audit listing.
type Filter struct {
	State      State
	Goal       string
	StrategyID string
	Limit      int
}

// Normalize upper-cases the state and rejects unknown values.
func (f Filter) Normalize() (Filter, error) {
	f.State = State(strings.ToUpper(string(f.State)))
	if f.State != "" && !f.State.IsValid() {
		return f, NewValidationError("unknown audit state", map[string]interface{}{"state": string(f.State)})
	}
	if f.Limit < 0 {
		return f, NewValidationError("limit must not be negative", map[string]interface{}{"limit": f.Limit})
	}
	return f, nil
}

// Matches reports whether a passes the filter.
func (f Filter) Matches(a Audit) bool {
	if f.State != "" && a.State != f.State {
		return false
	}
	if f.Goal != "" && a.Goal != f.Goal {
		return false
	}
	if f.StrategyID != "" && a.StrategyID != f.StrategyID {
		return false
	}
	return true
}

// Apply filters audits and orders them newest first.
func (f Filter) Apply(audits []Audit) []Audit {
	out := make([]Audit, 0, len(audits))
	for _, a := range audits {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
