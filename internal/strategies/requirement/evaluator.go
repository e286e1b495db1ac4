// Package requirement evaluates the CEL precondition expressions a strategy
// declares against a cluster snapshot.
//
// Expressions see a single variable, cluster, holding the model facts:
//
//	cluster.enabled_nodes >= 2
//	cluster.pools.exists(p, p.used_gb > 0)
package requirement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
)

// Evaluator compiles and caches boolean CEL programs. It is safe for
// concurrent use.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator creates an evaluator with the cluster variable declared.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("cluster", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile parses and type-checks expr. Only boolean expressions are accepted.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression %q compilation failed: %w", expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(types.BoolType) && !out.IsExactType(types.DynType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("expression %q: failed to create program: %w", expr, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Unmet is an expression that evaluated to false.
type Unmet struct {
	Expression string
}

func (u *Unmet) Error() string {
	return fmt.Sprintf("requirement not met: %s", u.Expression)
}

// Check evaluates every expression against the model and returns the first
// failure. A false result is reported as *Unmet; compile and runtime
// failures are returned as-is.
func (e *Evaluator) Check(ctx context.Context, model *cluster.Model, exprs []string) error {
	if len(exprs) == 0 {
		return nil
	}
	if model == nil {
		return fmt.Errorf("no cluster model to evaluate requirements against")
	}

	vars := map[string]interface{}{"cluster": model.Facts()}
	for _, expr := range exprs {
		prg, err := e.Compile(expr)
		if err != nil {
			return err
		}
		val, _, err := prg.ContextEval(ctx, vars)
		if err != nil {
			return fmt.Errorf("expression %q evaluation failed: %w", expr, err)
		}
		ok, isBool := val.Value().(bool)
		if !isBool {
			return fmt.Errorf("expression %q returned non-boolean type: %s", expr, val.Type())
		}
		if !ok {
			return &Unmet{Expression: expr}
		}
	}
	return nil
}
