// Package strategy defines the contract every optimization strategy
// implements and the descriptor used to select one.
package strategy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
)

// Strategy is driven through four phases, in order, exactly once per audit.
// Implementations receive the cluster model at construction time.
type Strategy interface {
	// PreExecute checks preconditions. A non-nil error prevents DoExecute.
	PreExecute(ctx context.Context) error
	// DoExecute produces the ordered list of proposed actions.
	DoExecute(ctx context.Context) ([]solution.ProposedAction, error)
	// PostExecute measures the efficacy indicators of the actions.
	PostExecute(ctx context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error)
	// ComputeGlobalEfficacy aggregates indicators. It must be pure.
	ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error)
}

// Factory builds a strategy bound to a model snapshot and audit parameters.
type Factory func(model *cluster.Model, params map[string]interface{}) (Strategy, error)

// Requirements lists what a strategy needs from the cluster model.
type Requirements struct {
	ModelKinds  []cluster.Kind `yaml:"model_kinds" json:"model_kinds,omitempty"`
	Expressions []string       `yaml:"expressions" json:"expressions,omitempty"`
}

// Descriptor is the immutable selection metadata of a strategy.
type Descriptor struct {
	ID           string          `json:"id" validate:"required,strategy_id"`
	DisplayName  string          `json:"display_name" validate:"required,max=128"`
	Goals        []string        `json:"goals" validate:"required,min=1,dive,required,strategy_id"`
	Priority     int             `json:"priority"`
	Requirements Requirements    `json:"requirements"`
	Indicators   []efficacy.Spec `json:"indicators,omitempty"`
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
	idPattern     = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("strategy_id", func(fl validator.FieldLevel) bool {
			return idPattern.MatchString(fl.Field().String())
		})
		validateInst = v
	})
	return validateInst
}

// Validate checks the descriptor's fields.
func (d Descriptor) Validate() error {
	if err := validatorInstance().Struct(d); err != nil {
		return fmt.Errorf("strategy descriptor %q invalid: %w", d.ID, err)
	}
	for _, kind := range d.Requirements.ModelKinds {
		if kind != cluster.KindCompute && kind != cluster.KindStorage {
			return fmt.Errorf("strategy descriptor %q: unknown model kind %q", d.ID, kind)
		}
	}
	for _, spec := range d.Indicators {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("strategy descriptor %q: %w", d.ID, err)
		}
	}
	return nil
}

// ServesGoal reports whether the strategy is affiliated with goal.
func (d Descriptor) ServesGoal(goal string) bool {
	for _, g := range d.Goals {
		if g == goal {
			return true
		}
	}
	return false
}

// MissingKinds returns the required model kinds absent from m.
func (d Descriptor) MissingKinds(m *cluster.Model) []cluster.Kind {
	var missing []cluster.Kind
	for _, kind := range d.Requirements.ModelKinds {
		if !m.Has(kind) {
			missing = append(missing, kind)
		}
	}
	return missing
}

// Clone returns a deep copy so callers cannot alter registered metadata.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Goals = append([]string(nil), d.Goals...)
	out.Requirements.ModelKinds = append([]cluster.Kind(nil), d.Requirements.ModelKinds...)
	out.Requirements.Expressions = append([]string(nil), d.Requirements.Expressions...)
	out.Indicators = append([]efficacy.Spec(nil), d.Indicators...)
	return out
}

// Rank orders descriptors by descending priority then ascending id.
func Rank(descs []Descriptor) []Descriptor {
	out := append([]Descriptor(nil), descs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
