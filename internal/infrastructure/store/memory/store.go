// Package memory is an in-process implementation of the audit and plan
// stores, used by tests and by `store.driver: memory`.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// Store keeps audits and plans in maps guarded by one mutex, which makes
// every compare-and-swap and plan commit atomic.
type Store struct {
	mu     sync.RWMutex
	audits map[string]audit.Audit
	plans  map[string]actionplan.ActionPlan
	now    func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		audits: make(map[string]audit.Audit),
		plans:  make(map[string]actionplan.ActionPlan),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAudit stores a new audit.
func (s *Store) CreateAudit(ctx context.Context, a *audit.Audit) error {
	if err := ctx.Err(); err != nil {
		return audit.NewPersistenceError("create audit", err)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.audits[a.ID]; exists {
		return audit.NewValidationError("audit already exists", map[string]interface{}{"audit_id": a.ID})
	}
	s.audits[a.ID] = a.Clone()
	return nil
}

// GetAudit returns a copy of the audit.
func (s *Store) GetAudit(ctx context.Context, id string) (*audit.Audit, error) {
	if err := ctx.Err(); err != nil {
		return nil, audit.NewPersistenceError("get audit", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[id]
	if !ok {
		return nil, audit.NewNotFoundError("audit", id)
	}
	out := a.Clone()
	return &out, nil
}

// ListAudits returns audits matching filter, newest first.
func (s *Store) ListAudits(ctx context.Context, filter audit.Filter) ([]audit.Audit, error) {
	if err := ctx.Err(); err != nil {
		return nil, audit.NewPersistenceError("list audits", err)
	}
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]audit.Audit, 0, len(s.audits))
	for _, a := range s.audits {
		all = append(all, a.Clone())
	}
	s.mu.RUnlock()
	return filter.Apply(all), nil
}

// TransitionAudit implements the compare-and-swap of ports.AuditStore.
func (s *Store) TransitionAudit(ctx context.Context, id string, from []audit.State, to audit.State, failure *audit.DomainError) (*audit.Audit, error) {
	if err := ctx.Err(); err != nil {
		return nil, audit.NewPersistenceError("transition audit", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.audits[id]
	if !ok {
		return nil, audit.NewNotFoundError("audit", id)
	}
	if !stateIn(a.State, from) {
		return nil, audit.TransitionError(id, a.State, to)
	}
	if err := a.Transition(to, failure, s.now()); err != nil {
		return nil, err
	}
	s.audits[id] = a
	out := a.Clone()
	return &out, nil
}

// CommitPlan stores the plan and marks its audit SUCCEEDED in one step.
func (s *Store) CommitPlan(ctx context.Context, plan *actionplan.ActionPlan) error {
	if err := ctx.Err(); err != nil {
		return audit.NewPersistenceError("commit plan", err)
	}
	if err := plan.Validate(); err != nil {
		return audit.NewPersistenceError("commit plan", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.audits[plan.AuditID]
	if !ok {
		return audit.NewNotFoundError("audit", plan.AuditID)
	}
	if a.State != audit.StateOngoing {
		return audit.TransitionError(a.ID, a.State, audit.StateSucceeded)
	}
	if _, exists := s.plans[plan.ID]; exists {
		return audit.NewPersistenceError("commit plan", errDuplicatePlan(plan.ID))
	}

	staged := a
	if err := staged.Transition(audit.StateSucceeded, nil, s.now()); err != nil {
		return err
	}
	s.plans[plan.ID] = plan.Clone()
	s.audits[a.ID] = staged
	return nil
}

// GetActionPlan returns a plan by id, including soft-deleted ones.
func (s *Store) GetActionPlan(ctx context.Context, id string) (*actionplan.ActionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, audit.NewPersistenceError("get action plan", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, audit.NewNotFoundError("action plan", id)
	}
	out := p.Clone()
	return &out, nil
}

// GetPlanForAudit returns the most recent live plan produced by the audit.
func (s *Store) GetPlanForAudit(ctx context.Context, auditID string) (*actionplan.ActionPlan, error) {
	plans, err := s.ListActionPlans(ctx, actionplan.Filter{AuditID: auditID, SortDesc: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, audit.NewNotFoundError("action plan for audit", auditID)
	}
	return &plans[0], nil
}

// ListActionPlans returns plans matching filter.
func (s *Store) ListActionPlans(ctx context.Context, filter actionplan.Filter) ([]actionplan.ActionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, audit.NewPersistenceError("list action plans", err)
	}
	filter, err := filter.Normalize()
	if err != nil {
		return nil, audit.NewValidationError(err.Error(), nil)
	}
	s.mu.RLock()
	all := make([]actionplan.ActionPlan, 0, len(s.plans))
	for _, p := range s.plans {
		all = append(all, p.Clone())
	}
	s.mu.RUnlock()
	plans, err := filter.Apply(all)
	if err != nil {
		return nil, audit.NewValidationError(err.Error(), map[string]interface{}{"marker": filter.Marker})
	}
	return plans, nil
}

// SoftDeleteActionPlan marks the plan and its actions DELETED.
func (s *Store) SoftDeleteActionPlan(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return audit.NewPersistenceError("delete action plan", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok || p.Deleted() {
		return audit.NewNotFoundError("action plan", id)
	}
	p = p.Clone()
	p.MarkDeleted(s.now())
	s.plans[id] = p
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func stateIn(state audit.State, set []audit.State) bool {
	for _, candidate := range set {
		if candidate == state {
			return true
		}
	}
	return false
}

type errDuplicatePlan string

func (e errDuplicatePlan) Error() string { return "action plan " + string(e) + " already exists" }

var _ ports.Store = (*Store)(nil)
