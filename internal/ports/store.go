package ports

import (
	"context"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
)

// AuditStore persists audits. Implementations map missing rows to
// audit.ErrCodeNotFound and storage failures to audit.ErrCodePersistence.
type AuditStore interface {
	CreateAudit(ctx context.Context, a *audit.Audit) error
	GetAudit(ctx context.Context, id string) (*audit.Audit, error)
	ListAudits(ctx context.Context, filter audit.Filter) ([]audit.Audit, error)

	// TransitionAudit atomically moves the audit to `to` when its current
	// state is one of `from`. When the state does not match, the returned
	// error is audit.TransitionError for the observed state. failure is
	// recorded when `to` is FAILED.
	TransitionAudit(ctx context.Context, id string, from []audit.State, to audit.State, failure *audit.DomainError) (*audit.Audit, error)
}

// PlanStore persists action plans.
type PlanStore interface {
	// CommitPlan writes the plan, its actions and indicators and moves the
	// audit from ONGOING to SUCCEEDED in one transaction. When the audit is
	// no longer ONGOING nothing is written and the transition error is
	// returned.
	CommitPlan(ctx context.Context, plan *actionplan.ActionPlan) error
	GetActionPlan(ctx context.Context, id string) (*actionplan.ActionPlan, error)
	GetPlanForAudit(ctx context.Context, auditID string) (*actionplan.ActionPlan, error)
	ListActionPlans(ctx context.Context, filter actionplan.Filter) ([]actionplan.ActionPlan, error)
	SoftDeleteActionPlan(ctx context.Context, id string) error
}

// Store bundles both persistence ports behind one lifecycle.
type Store interface {
	AuditStore
	PlanStore
	Close() error
}
