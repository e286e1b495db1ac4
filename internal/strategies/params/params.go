// Package params reads typed strategy parameters out of the loosely typed
// maps that arrive from configuration, the CLI and the HTTP API.
package params

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Error reports a parameter with the wrong type or value.
type Error struct {
	Name   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
}

// Number returns the named parameter as float64 or def when absent.
func Number(p map[string]interface{}, name string, def float64) (float64, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &Error{Name: name, Reason: fmt.Sprintf("%q is not a number", v)}
		}
		return f, nil
	}
	return 0, &Error{Name: name, Reason: fmt.Sprintf("expected number, got %T", raw)}
}

// Ratio is a Number constrained to (0, 1].
func Ratio(p map[string]interface{}, name string, def float64) (float64, error) {
	v, err := Number(p, name, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > 1 {
		return 0, &Error{Name: name, Reason: fmt.Sprintf("%v is outside (0, 1]", v)}
	}
	return v, nil
}

// NonNegativeInt is a whole Number >= 0.
func NonNegativeInt(p map[string]interface{}, name string, def int) (int, error) {
	v, err := Number(p, name, float64(def))
	if err != nil {
		return 0, err
	}
	if v < 0 || v != float64(int(v)) {
		return 0, &Error{Name: name, Reason: fmt.Sprintf("%v is not a non-negative integer", v)}
	}
	return int(v), nil
}

// String returns the named parameter as a string or def when absent.
func String(p map[string]interface{}, name, def string) (string, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &Error{Name: name, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return s, nil
}

// OneOf is a String restricted to allowed values.
func OneOf(p map[string]interface{}, name, def string, allowed ...string) (string, error) {
	s, err := String(p, name, def)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", &Error{Name: name, Reason: fmt.Sprintf("%q must be one of %s", s, strings.Join(allowed, ", "))}
}

// Duration accepts seconds as a number or a Go duration string.
func Duration(p map[string]interface{}, name string, def time.Duration) (time.Duration, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return def, nil
	}
	if s, isString := raw.(string); isString {
		if d, err := time.ParseDuration(s); err == nil {
			if d < 0 {
				return 0, &Error{Name: name, Reason: "must not be negative"}
			}
			return d, nil
		}
	}
	secs, err := Number(p, name, 0)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, &Error{Name: name, Reason: "must not be negative"}
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Unknown rejects parameters a strategy does not declare.
func Unknown(p map[string]interface{}, known ...string) error {
	allowed := make(map[string]struct{}, len(known))
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	for name := range p {
		if _, ok := allowed[name]; !ok {
			return &Error{Name: name, Reason: "not accepted by this strategy"}
		}
	}
	return nil
}
