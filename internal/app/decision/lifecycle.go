package decision

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// Lifecycle phases, in execution order.
const (
	PhasePreExecute     = "pre_execute"
	PhaseDoExecute      = "do_execute"
	PhasePostExecute    = "post_execute"
	PhaseGlobalEfficacy = "global_efficacy"
)

// Lifecycle drives a bound strategy through its four phases and assembles
// the frozen solution. Partial results are discarded on failure.
type Lifecycle struct {
	logger  ports.Logger
	metrics ports.MetricsCollector
	now     func() time.Time
}

// NewLifecycle returns a lifecycle driver. Nil collaborators are replaced by
// no-ops.
func NewLifecycle(logger ports.Logger, collector ports.MetricsCollector) *Lifecycle {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &Lifecycle{logger: logger, metrics: collector, now: time.Now}
}

// Run executes PreExecute, DoExecute, PostExecute and ComputeGlobalEfficacy
// exactly once each, stopping at the first failure.
func (l *Lifecycle) Run(ctx context.Context, bound *BoundStrategy) (*solution.Solution, error) {
	if bound == nil || bound.Strategy == nil {
		return nil, audit.NewError(audit.ErrCodeInternal, "no strategy bound", nil, nil)
	}
	sid := bound.Descriptor.ID
	impl := bound.Strategy

	if err := l.phase(ctx, sid, PhasePreExecute, func() error {
		return impl.PreExecute(ctx)
	}); err != nil {
		return nil, audit.NewPreconditionError(sid, err)
	}

	var actions []solution.ProposedAction
	if err := l.phase(ctx, sid, PhaseDoExecute, func() error {
		var err error
		actions, err = impl.DoExecute(ctx)
		return err
	}); err != nil {
		return nil, audit.NewStrategyExecutionError(sid, err)
	}

	sol := solution.New()
	for _, a := range actions {
		if err := sol.AddAction(a); err != nil {
			return nil, audit.NewStrategyExecutionError(sid, err)
		}
	}

	var indicators []efficacy.Indicator
	if err := l.phase(ctx, sid, PhasePostExecute, func() error {
		var err error
		indicators, err = impl.PostExecute(ctx, sol.Actions())
		if err != nil {
			return err
		}
		set := efficacy.Set(indicators)
		if err := set.Validate(); err != nil {
			return err
		}
		return set.CheckAgainst(bound.Descriptor.Indicators)
	}); err != nil {
		return nil, audit.NewEfficacyReportingError(sid, err)
	}

	var global efficacy.Global
	if err := l.phase(ctx, sid, PhaseGlobalEfficacy, func() error {
		var err error
		global, err = impl.ComputeGlobalEfficacy(append([]efficacy.Indicator(nil), indicators...))
		if err != nil {
			return err
		}
		return global.Validate()
	}); err != nil {
		return nil, audit.NewEfficacyReportingError(sid, err)
	}

	if err := sol.SetIndicators(efficacy.Set(indicators)); err != nil {
		return nil, audit.NewEfficacyReportingError(sid, err)
	}
	if err := sol.SetGlobalEfficacy(global); err != nil {
		return nil, audit.NewEfficacyReportingError(sid, err)
	}
	sol.Freeze()
	l.logger.Debug(ctx, "solution ready",
		"strategy_id", sid,
		"actions", sol.Len(),
		"indicators", len(indicators),
		"global_efficacy", global.Value,
	)
	return sol, nil
}

// phase runs fn with timing, metrics and panic recovery. The context is
// checked before and after fn so a cancelled audit never reaches the next
// phase.
func (l *Lifecycle) phase(ctx context.Context, strategyID, name string, fn func() error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := l.now()
	labels := map[string]string{metrics.LabelStrategy: strategyID, metrics.LabelPhase: name}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(ctx, "strategy panicked",
				"strategy_id", strategyID,
				"phase", name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
		if err == nil {
			err = ctx.Err()
		}

		elapsed := l.now().Sub(start)
		l.metrics.ObserveHistogram(ctx, ports.MetricPhaseDuration, elapsed.Seconds(), labels)
		if err != nil {
			l.metrics.IncCounter(ctx, ports.MetricPhaseFailures, labels)
			l.logger.Warn(ctx, "strategy phase failed",
				"strategy_id", strategyID,
				"phase", name,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
			return
		}
		l.logger.Debug(ctx, "strategy phase complete",
			"strategy_id", strategyID,
			"phase", name,
			"duration_ms", elapsed.Milliseconds(),
		)
	}()

	return fn()
}
