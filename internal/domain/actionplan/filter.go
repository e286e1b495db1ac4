package actionplan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMarkerNotFound is returned when a listing marker names no stored plan.
var ErrMarkerNotFound = errors.New("marker not found")

// SortKey selects the ordering column of a listing.
type SortKey string

const (
	SortByCreatedAt SortKey = "created_at"
	SortByID        SortKey = "id"
	SortByState     SortKey = "state"
)

// Filter narrows a plan listing.
type Filter struct {
	AuditID        string
	State          State
	IncludeDeleted bool
	Limit          int
	SortKey        SortKey
	SortDesc       bool
	// Marker is the id of the last plan of the previous page. The listing
	// resumes right after it in the requested order.
	Marker string
}

// Normalize fills defaults and rejects unknown sort keys.
func (f Filter) Normalize() (Filter, error) {
	if f.SortKey == "" {
		f.SortKey = SortByCreatedAt
	}
	switch f.SortKey {
	case SortByCreatedAt, SortByID, SortByState:
	default:
		return f, fmt.Errorf("unsupported sort key %q", f.SortKey)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("limit must not be negative")
	}
	f.State = State(strings.ToUpper(string(f.State)))
	if f.State != "" && !f.State.IsValid() {
		return f, fmt.Errorf("unknown plan state %q", f.State)
	}
	return f, nil
}

// Matches reports whether p passes the filter (ordering and limit aside).
func (f Filter) Matches(p ActionPlan) bool {
	if !f.IncludeDeleted && p.Deleted() && f.State != StateDeleted {
		return false
	}
	if f.AuditID != "" && p.AuditID != f.AuditID {
		return false
	}
	if f.State != "" && p.State != f.State {
		return false
	}
	return true
}

// Apply filters, sorts, pages and truncates plans in memory. The marker is
// looked up among all of plans, including those the filter excludes.
func (f Filter) Apply(plans []ActionPlan) ([]ActionPlan, error) {
	var marker *ActionPlan
	if f.Marker != "" {
		for i := range plans {
			if plans[i].ID == f.Marker {
				marker = &plans[i]
				break
			}
		}
		if marker == nil {
			return nil, fmt.Errorf("%w: %s", ErrMarkerNotFound, f.Marker)
		}
	}

	out := make([]ActionPlan, 0, len(plans))
	for _, p := range plans {
		if !f.Matches(p) {
			continue
		}
		if marker != nil && !f.Before(*marker, p) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return f.Before(out[i], out[j]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Before reports whether a is listed before b. Ties on the sort key are
// broken by id in the same direction, so the order is total.
func (f Filter) Before(a, b ActionPlan) bool {
	var cmp int
	switch f.SortKey {
	case SortByID:
	case SortByState:
		cmp = strings.Compare(string(a.State), string(b.State))
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}
	if f.SortDesc {
		return cmp > 0
	}
	return cmp < 0
}
