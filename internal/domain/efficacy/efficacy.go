// Package efficacy holds the value types strategies use to report how good
// a solution is: individual indicators and the global efficacy score derived
// from them.
package efficacy

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("indicator_name", func(fl validator.FieldLevel) bool {
			return namePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		})
		validateInst = v
	})
	return validateInst
}

// Spec declares an indicator a strategy promises to report.
type Spec struct {
	Name        string   `validate:"required,indicator_name"`
	Description string   `validate:"max=255"`
	Unit        string   `validate:"max=32"`
	Min         *float64 `validate:"omitempty,finite"`
	Max         *float64 `validate:"omitempty,finite"`
}

// Validate checks the declaration itself.
func (s Spec) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return convertValidationError("indicator spec", err)
	}
	if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return fmt.Errorf("indicator spec %s: min %v greater than max %v", s.Name, *s.Min, *s.Max)
	}
	return nil
}

// Check verifies a measured indicator against the declared bounds.
func (s Spec) Check(ind Indicator) error {
	if ind.Name != s.Name {
		return fmt.Errorf("indicator %s does not match spec %s", ind.Name, s.Name)
	}
	if s.Min != nil && ind.Value < *s.Min {
		return fmt.Errorf("indicator %s value %v below minimum %v", ind.Name, ind.Value, *s.Min)
	}
	if s.Max != nil && ind.Value > *s.Max {
		return fmt.Errorf("indicator %s value %v above maximum %v", ind.Name, ind.Value, *s.Max)
	}
	return nil
}

// Indicator is one named, measured efficacy value.
type Indicator struct {
	Name        string  `json:"name" validate:"required,indicator_name"`
	Description string  `json:"description,omitempty" validate:"max=255"`
	Unit        string  `json:"unit,omitempty" validate:"max=32"`
	Value       float64 `json:"value" validate:"finite"`
}

// Validate checks the indicator's fields.
func (i Indicator) Validate() error {
	if err := validatorInstance().Struct(i); err != nil {
		return convertValidationError("indicator", err)
	}
	return nil
}

// Global is the single summary score computed from an indicator set.
type Global struct {
	Name        string  `json:"name" validate:"required,indicator_name"`
	Description string  `json:"description,omitempty" validate:"max=255"`
	Unit        string  `json:"unit,omitempty" validate:"max=32"`
	Value       float64 `json:"value" validate:"finite"`
}

// Validate checks the global efficacy fields.
func (g Global) Validate() error {
	if err := validatorInstance().Struct(g); err != nil {
		return convertValidationError("global efficacy", err)
	}
	return nil
}

// Set is an indicator collection keyed by name.
type Set []Indicator

// Validate ensures every indicator is well formed and names are unique.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, ind := range s {
		if err := ind.Validate(); err != nil {
			return err
		}
		if _, ok := seen[ind.Name]; ok {
			return fmt.Errorf("duplicate indicator %q", ind.Name)
		}
		seen[ind.Name] = struct{}{}
	}
	return nil
}

// Get returns the indicator with the given name.
func (s Set) Get(name string) (Indicator, bool) {
	for _, ind := range s {
		if ind.Name == name {
			return ind, true
		}
	}
	return Indicator{}, false
}

// Value returns the named indicator's value, or zero when absent.
func (s Set) Value(name string) float64 {
	ind, _ := s.Get(name)
	return ind.Value
}

// Sorted returns a copy ordered by name so aggregation never depends on
// reporting order.
func (s Set) Sorted() Set {
	out := append(Set(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckAgainst validates the set against declared specs; every declared
// indicator must be present and within bounds.
func (s Set) CheckAgainst(specs []Spec) error {
	for _, spec := range specs {
		ind, ok := s.Get(spec.Name)
		if !ok {
			return fmt.Errorf("declared indicator %q not reported", spec.Name)
		}
		if err := spec.Check(ind); err != nil {
			return err
		}
	}
	return nil
}

func convertValidationError(kind string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%s: %w", kind, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%s invalid: %s", kind, strings.Join(parts, ", "))
}
