package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// Stages at which the runner re-reads the audit for cancellation.
const (
	StageSelection = "selection"
	StageLifecycle = "lifecycle"
	StagePlanning  = "planning"
)

// Execution outcomes recorded on tuner_audit_executions_total.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

// Attempts made to record a terminal FAILED state before giving up.
const settleAttempts = 3

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l ports.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEvents sets the publisher receiving audit and plan events.
func WithEvents(p ports.EventPublisher) RunnerOption {
	return func(r *Runner) { r.events = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithParallelism bounds ExecuteMany. Values below one are ignored.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithClock overrides the time source used for new audits and durations.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner owns the audit state machine. Each Execute moves one audit from
// PENDING to exactly one terminal state.
type Runner struct {
	store       ports.AuditStore
	selector    *Selector
	lifecycle   *Lifecycle
	planner     *Planner
	events      ports.EventPublisher
	metrics     ports.MetricsCollector
	logger      ports.Logger
	parallelism int
	now         func() time.Time

	settleBackoff time.Duration
}

// NewRunner wires a runner. The lifecycle shares the runner's logger and
// metrics.
func NewRunner(store ports.AuditStore, selector *Selector, planner *Planner, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:       store,
		selector:    selector,
		planner:     planner,
		metrics:     metrics.NoOp{},
		logger:      logging.NewNoOpLogger(),
		parallelism: 4,
		now:         time.Now,

		settleBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lifecycle = NewLifecycle(r.logger, r.metrics)
	r.lifecycle.now = r.now
	return r
}

// CreateRequest describes a new audit.
type CreateRequest struct {
	Name       string
	Goal       string
	StrategyID string
	Parameters map[string]interface{}
}

// Create persists a PENDING audit. Strategy resolution is deferred to
// Execute.
func (r *Runner) Create(ctx context.Context, req CreateRequest) (*audit.Audit, error) {
	a, err := audit.New(req.Name, req.Goal, req.StrategyID, req.Parameters, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateAudit(ctx, a); err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "audit created", "audit_id", a.ID, "goal", a.Goal, "strategy_id", a.StrategyID)
	return a, nil
}

// Execute runs the audit end to end and returns the persisted plan.
//
// ALREADY_RUNNING and INVALID_STATE are returned without touching the
// audit. Selection, lifecycle and planning failures mark it FAILED with the
// cause recorded. A cancellation observed between stages, or through ctx,
// leaves it CANCELLED without a plan.
//
// When the FAILED state itself cannot be written the error is
// PERSISTENCE_ERROR wrapping both the store error and the stage failure.
// The audit is then still ONGOING; Cancel moves it to CANCELLED.
func (r *Runner) Execute(ctx context.Context, auditID string) (*actionplan.ActionPlan, error) {
	if logging.GetCorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	}
	start := r.now()

	a, err := r.store.TransitionAudit(ctx, auditID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
	if err != nil {
		r.metrics.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{metrics.LabelStatus: StatusRejected})
		r.logger.Warn(ctx, "audit not started", "audit_id", auditID, "error", err)
		return nil, err
	}

	r.metrics.AddGauge(ctx, ports.MetricActiveExecutions, 1, nil)
	defer func() {
		r.metrics.AddGauge(ctx, ports.MetricActiveExecutions, -1, nil)
		r.metrics.ObserveHistogram(ctx, ports.MetricExecutionDuration, r.now().Sub(start).Seconds(), nil)
	}()

	r.logger.Info(ctx, "audit started", "audit_id", a.ID, "goal", a.Goal, "strategy_id", a.StrategyID)
	r.publish(ctx, ports.EventAuditStarted, map[string]interface{}{
		"audit_id":    a.ID,
		"goal":        a.Goal,
		"strategy_id": a.StrategyID,
	})

	if err := r.checkpoint(ctx, a.ID, StageSelection); err != nil {
		return nil, r.abort(ctx, a, StageSelection, "", err, start)
	}
	bound, err := r.selector.Select(ctx, a)
	if err != nil {
		return nil, r.abort(ctx, a, StageSelection, a.StrategyID, err, start)
	}
	sid := bound.Descriptor.ID

	if err := r.checkpoint(ctx, a.ID, StageLifecycle); err != nil {
		return nil, r.abort(ctx, a, StageLifecycle, sid, err, start)
	}
	sol, err := r.lifecycle.Run(ctx, bound)
	if err != nil {
		return nil, r.abort(ctx, a, StageLifecycle, sid, err, start)
	}

	if err := r.checkpoint(ctx, a.ID, StagePlanning); err != nil {
		return nil, r.abort(ctx, a, StagePlanning, sid, err, start)
	}
	plan, err := r.planner.Plan(ctx, a, sid, sol)
	if err != nil {
		return nil, r.abort(ctx, a, StagePlanning, sid, err, start)
	}

	for _, action := range plan.Actions {
		r.metrics.IncCounter(ctx, ports.MetricActionsPlanned, map[string]string{metrics.LabelActionType: action.Type})
	}
	r.metrics.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{metrics.LabelStatus: StatusSucceeded})
	r.logger.Info(ctx, "audit succeeded",
		"audit_id", a.ID,
		"strategy_id", sid,
		"action_plan_id", plan.ID,
		"actions", len(plan.Actions),
		"global_efficacy", plan.GlobalEfficacy.Value,
		"duration_ms", r.now().Sub(start).Milliseconds(),
	)
	r.publish(ctx, ports.EventActionPlanCreated, map[string]interface{}{
		"audit_id":       a.ID,
		"action_plan_id": plan.ID,
		"strategy_id":    sid,
		"actions":        len(plan.Actions),
	})
	r.publish(ctx, ports.EventAuditSucceeded, map[string]interface{}{
		"audit_id":       a.ID,
		"action_plan_id": plan.ID,
		"strategy_id":    sid,
	})
	return plan, nil
}

// Cancel moves a PENDING or ONGOING audit to CANCELLED. A running execution
// notices at its next stage boundary or when its commit is refused.
func (r *Runner) Cancel(ctx context.Context, auditID string) (*audit.Audit, error) {
	a, err := r.store.TransitionAudit(ctx, auditID, audit.Sources(audit.StateCancelled), audit.StateCancelled, nil)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "audit cancelled", "audit_id", a.ID)
	r.publish(ctx, ports.EventAuditCancelled, map[string]interface{}{"audit_id": a.ID, "requested": true})
	return a, nil
}

// Result is the outcome of one audit in ExecuteMany.
type Result struct {
	AuditID string
	Plan    *actionplan.ActionPlan
	Err     error
}

// ExecuteMany runs distinct audits concurrently, at most parallelism at a
// time. Results keep the order of ids; one failure does not stop the others.
func (r *Runner) ExecuteMany(ctx context.Context, ids []string) []Result {
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, id := range ids {
		g.Go(func() error {
			plan, err := r.Execute(ctx, id)
			results[i] = Result{AuditID: id, Plan: plan, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkpoint fails with CANCELLED when ctx is done or the stored audit was
// cancelled.
func (r *Runner) checkpoint(ctx context.Context, auditID, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := r.store.GetAudit(ctx, auditID)
	if err != nil {
		return err
	}
	if current.State == audit.StateCancelled {
		return audit.NewCancelledError(auditID, stage)
	}
	return nil
}

// abort settles the audit after a failed stage and returns the error the
// caller sees. Cancellation wins over any other failure.
func (r *Runner) abort(ctx context.Context, a *audit.Audit, stage, strategyID string, cause error, start time.Time) error {
	// The audit must reach a terminal state even when the caller's context
	// is already done.
	settle := context.WithoutCancel(ctx)
	elapsed := r.now().Sub(start).Milliseconds()

	if errors.Is(cause, audit.ErrCancelled) || ctx.Err() != nil {
		return r.settleCancelled(settle, a, stage, strategyID, cause, elapsed)
	}

	derr := asDomainError(cause)
	var recordErr error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		_, recordErr = r.store.TransitionAudit(settle, a.ID, []audit.State{audit.StateOngoing}, audit.StateFailed, derr)
		if recordErr == nil {
			break
		}
		if current, getErr := r.store.GetAudit(settle, a.ID); getErr == nil && current.State == audit.StateCancelled {
			return r.settleCancelled(settle, a, stage, strategyID, cause, elapsed)
		}
		r.logger.Warn(ctx, "recording audit failure failed",
			"audit_id", a.ID,
			"attempt", attempt,
			"error", recordErr,
		)
		if errors.Is(recordErr, audit.ErrInvalidState) || errors.Is(recordErr, audit.ErrNotFound) {
			break
		}
		if attempt < settleAttempts && r.settleBackoff > 0 {
			time.Sleep(time.Duration(attempt) * r.settleBackoff)
		}
	}
	if recordErr != nil {
		r.metrics.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{metrics.LabelStatus: StatusFailed})
		r.logger.Error(ctx, "audit left ongoing, cancel it to release",
			"audit_id", a.ID,
			"strategy_id", strategyID,
			"phase", stage,
			"error", recordErr,
			"cause", derr,
		)
		return audit.NewPersistenceError("record audit failure", errors.Join(recordErr, derr)).WithContext(map[string]interface{}{
			"audit_id": a.ID,
			"state":    string(audit.StateOngoing),
			"code":     string(derr.Code),
		})
	}

	r.metrics.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{metrics.LabelStatus: StatusFailed})
	r.logger.Error(ctx, "audit failed",
		"audit_id", a.ID,
		"strategy_id", strategyID,
		"phase", stage,
		"code", string(derr.Code),
		"duration_ms", elapsed,
		"error", derr,
	)
	r.publish(ctx, ports.EventAuditFailed, map[string]interface{}{
		"audit_id":    a.ID,
		"strategy_id": strategyID,
		"phase":       stage,
		"code":        string(derr.Code),
		"error":       derr.Error(),
	})
	return derr
}

func (r *Runner) settleCancelled(ctx context.Context, a *audit.Audit, stage, strategyID string, cause error, elapsed int64) error {
	cancelled := audit.NewCancelledError(a.ID, stage)
	if !errors.Is(cause, audit.ErrCancelled) {
		cancelled.Cause = cause
	}

	_, err := r.store.TransitionAudit(ctx, a.ID, []audit.State{audit.StateOngoing}, audit.StateCancelled, nil)
	requested := err != nil
	if err != nil && !errors.Is(err, audit.ErrInvalidState) {
		r.logger.Error(ctx, "failed to record audit cancellation", "audit_id", a.ID, "error", err)
	}

	r.metrics.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{metrics.LabelStatus: StatusCancelled})
	r.logger.Info(ctx, "audit execution stopped",
		"audit_id", a.ID,
		"strategy_id", strategyID,
		"phase", stage,
		"duration_ms", elapsed,
	)
	if !requested {
		r.publish(ctx, ports.EventAuditCancelled, map[string]interface{}{"audit_id": a.ID, "phase": stage, "requested": false})
	}
	return cancelled
}

func asDomainError(err error) *audit.DomainError {
	var derr *audit.DomainError
	if errors.As(err, &derr) {
		return derr
	}
	return audit.NewError(audit.ErrCodeInternal, fmt.Sprintf("unexpected failure: %v", err), err, nil)
}

func (r *Runner) publish(ctx context.Context, eventType string, payload map[string]interface{}) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, events.New(eventType, payload)); err != nil {
		r.logger.Warn(ctx, "failed to publish domain event", "event_type", eventType, "error", err)
	}
}
