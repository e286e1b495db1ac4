// Package decision runs audits: it selects a strategy, drives it through its
// lifecycle and turns the resulting solution into a persisted action plan.
package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/requirement"
)

// BoundStrategy is a strategy instance bound to the snapshot it will read.
type BoundStrategy struct {
	Descriptor strategy.Descriptor
	Strategy   strategy.Strategy
	Model      *cluster.Model
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithStrictGoals makes a shared top priority fail with AMBIGUOUS_GOAL
// instead of falling back to the smallest id.
func WithStrictGoals(strict bool) SelectorOption {
	return func(s *Selector) { s.strict = strict }
}

// WithSelectorLogger sets the selector's logger.
func WithSelectorLogger(l ports.Logger) SelectorOption {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// Selector resolves an audit to a bound strategy. It has no side effects on
// the audit.
type Selector struct {
	catalog      ports.StrategyCatalog
	models       ports.ClusterModelProvider
	requirements *requirement.Evaluator
	strict       bool
	logger       ports.Logger
}

// NewSelector builds a selector over a catalog and a model provider.
func NewSelector(catalog ports.StrategyCatalog, models ports.ClusterModelProvider, opts ...SelectorOption) (*Selector, error) {
	if catalog == nil || models == nil {
		return nil, fmt.Errorf("selector requires a strategy catalog and a cluster model provider")
	}
	s := &Selector{catalog: catalog, models: models, logger: logging.NewNoOpLogger()}
	for _, opt := range opts {
		opt(s)
	}
	eval, err := requirement.NewEvaluator()
	if err != nil {
		return nil, err
	}
	s.requirements = eval
	return s, nil
}

// Select picks the strategy for a, fetches a fresh snapshot and instantiates
// the strategy with the audit parameters. An explicit strategy wins over the
// goal.
func (s *Selector) Select(ctx context.Context, a *audit.Audit) (*BoundStrategy, error) {
	if a == nil {
		return nil, audit.NewValidationError("audit is required", nil)
	}

	desc, err := s.resolve(ctx, a)
	if err != nil {
		return nil, err
	}

	model, err := s.models.CurrentModel(ctx)
	if err != nil {
		return nil, audit.NewModelUnavailableError(err, map[string]interface{}{"strategy_id": desc.ID})
	}
	if model == nil {
		return nil, audit.NewModelUnavailableError(errors.New("provider returned no snapshot"), map[string]interface{}{"strategy_id": desc.ID})
	}
	if missing := desc.MissingKinds(model); len(missing) > 0 {
		return nil, audit.NewModelUnavailableError(
			fmt.Errorf("snapshot lacks required model kinds %v", missing),
			map[string]interface{}{"strategy_id": desc.ID, "missing_kinds": missing},
		)
	}

	if err := s.requirements.Check(ctx, model, desc.Requirements.Expressions); err != nil {
		return nil, audit.NewPreconditionError(desc.ID, err)
	}

	instance, err := s.catalog.Instantiate(desc.ID, model, a.Parameters)
	if err != nil {
		return nil, audit.NewPreconditionError(desc.ID, err)
	}

	s.logger.Debug(ctx, "strategy selected",
		"audit_id", a.ID,
		"strategy_id", desc.ID,
		"goal", a.Goal,
		"priority", desc.Priority,
	)
	return &BoundStrategy{Descriptor: desc, Strategy: instance, Model: model}, nil
}

func (s *Selector) resolve(ctx context.Context, a *audit.Audit) (strategy.Descriptor, error) {
	if a.StrategyID != "" {
		desc, ok := s.catalog.Get(a.StrategyID)
		if !ok {
			return strategy.Descriptor{}, audit.NewNoSuchStrategyError(a.StrategyID)
		}
		return desc, nil
	}
	if a.Goal == "" {
		return strategy.Descriptor{}, audit.NewValidationError("audit requires a goal or a strategy", map[string]interface{}{"audit_id": a.ID})
	}

	candidates := strategy.Rank(s.catalog.ListByGoal(a.Goal))
	if len(candidates) == 0 {
		return strategy.Descriptor{}, audit.NewNoStrategyForGoalError(a.Goal)
	}

	top := candidates[0]
	if len(candidates) > 1 && candidates[1].Priority == top.Priority {
		var tied []string
		for _, c := range candidates {
			if c.Priority == top.Priority {
				tied = append(tied, c.ID)
			}
		}
		if s.strict {
			return strategy.Descriptor{}, audit.NewAmbiguousGoalError(a.Goal, tied)
		}
		s.logger.Warn(ctx, "several strategies share the top priority, using smallest id",
			"goal", a.Goal,
			"candidates", tied,
			"strategy_id", top.ID,
		)
	}
	return top, nil
}
