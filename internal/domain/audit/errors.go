package audit

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known failure categories of the decision engine.
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeAlreadyRunning    ErrorCode = "ALREADY_RUNNING"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
	ErrCodeNoSuchStrategy    ErrorCode = "NO_SUCH_STRATEGY"
	ErrCodeNoStrategyForGoal ErrorCode = "NO_STRATEGY_FOR_GOAL"
	ErrCodeAmbiguousGoal     ErrorCode = "AMBIGUOUS_GOAL"
	ErrCodeModelUnavailable  ErrorCode = "CLUSTER_MODEL_UNAVAILABLE"
	ErrCodePrecondition      ErrorCode = "PRECONDITION_FAILED"
	ErrCodeStrategyExecution ErrorCode = "STRATEGY_EXECUTION_ERROR"
	ErrCodeEfficacyReporting ErrorCode = "EFFICACY_REPORTING_FAILED"
	ErrCodeInvalidAction     ErrorCode = "INVALID_ACTION"
	ErrCodePersistence       ErrorCode = "PERSISTENCE_ERROR"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// IsSelection reports whether the code belongs to the strategy selection family.
func (c ErrorCode) IsSelection() bool {
	switch c {
	case ErrCodeNoSuchStrategy, ErrCodeNoStrategyForGoal, ErrCodeAmbiguousGoal, ErrCodeModelUnavailable:
		return true
	}
	return false
}

// DomainError represents a typed error enriched with contextual data.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any DomainError carrying the same code. A target without a code
// matches every DomainError.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == "" || e.Code == other.Code
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

// Sentinel values usable with errors.Is.
var (
	ErrInvalidState      = &DomainError{Code: ErrCodeInvalidState}
	ErrAlreadyRunning    = &DomainError{Code: ErrCodeAlreadyRunning}
	ErrNotFound          = &DomainError{Code: ErrCodeNotFound}
	ErrCancelled         = &DomainError{Code: ErrCodeCancelled}
	ErrNoSuchStrategy    = &DomainError{Code: ErrCodeNoSuchStrategy}
	ErrNoStrategyForGoal = &DomainError{Code: ErrCodeNoStrategyForGoal}
	ErrAmbiguousGoal     = &DomainError{Code: ErrCodeAmbiguousGoal}
	ErrModelUnavailable  = &DomainError{Code: ErrCodeModelUnavailable}
	ErrPrecondition      = &DomainError{Code: ErrCodePrecondition}
	ErrStrategyExecution = &DomainError{Code: ErrCodeStrategyExecution}
	ErrEfficacyReporting = &DomainError{Code: ErrCodeEfficacyReporting}
	ErrInvalidAction     = &DomainError{Code: ErrCodeInvalidAction}
	ErrPersistence       = &DomainError{Code: ErrCodePersistence}
)

// NewError constructs a DomainError with the supplied code and message.
func NewError(code ErrorCode, message string, cause error, context map[string]interface{}) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// CodeOf extracts the error code of the first DomainError in err's chain.
func CodeOf(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Helper constructors to simplify error creation throughout the engine.

func NewValidationError(message string, context map[string]interface{}) *DomainError {
	return NewError(ErrCodeValidation, message, nil, context)
}

func NewNotFoundError(kind, id string) *DomainError {
	return NewError(ErrCodeNotFound, kind+" not found", nil, map[string]interface{}{"id": id})
}

func NewInvalidStateError(id string, from, to State) *DomainError {
	return NewError(ErrCodeInvalidState, "invalid audit state transition", nil, map[string]interface{}{
		"audit_id": id,
		"from":     string(from),
		"to":       string(to),
	})
}

func NewAlreadyRunningError(id string) *DomainError {
	return NewError(ErrCodeAlreadyRunning, "audit is already running", nil, map[string]interface{}{"audit_id": id})
}

func NewCancelledError(id string, stage string) *DomainError {
	return NewError(ErrCodeCancelled, "audit cancelled", nil, map[string]interface{}{
		"audit_id": id,
		"stage":    stage,
	})
}

func NewNoSuchStrategyError(strategyID string) *DomainError {
	return NewError(ErrCodeNoSuchStrategy, "strategy not registered", nil, map[string]interface{}{"strategy_id": strategyID})
}

func NewNoStrategyForGoalError(goal string) *DomainError {
	return NewError(ErrCodeNoStrategyForGoal, "no strategy affiliated with goal", nil, map[string]interface{}{"goal": goal})
}

func NewAmbiguousGoalError(goal string, candidates []string) *DomainError {
	return NewError(ErrCodeAmbiguousGoal, "several strategies share the highest priority for goal", nil, map[string]interface{}{
		"goal":       goal,
		"candidates": candidates,
	})
}

func NewModelUnavailableError(cause error, context map[string]interface{}) *DomainError {
	return NewError(ErrCodeModelUnavailable, "cluster data model unavailable", cause, context)
}

func NewPreconditionError(strategyID string, cause error) *DomainError {
	return NewError(ErrCodePrecondition, "strategy precondition failed", cause, map[string]interface{}{"strategy_id": strategyID})
}

func NewStrategyExecutionError(strategyID string, cause error) *DomainError {
	return NewError(ErrCodeStrategyExecution, "strategy execution failed", cause, map[string]interface{}{"strategy_id": strategyID})
}

func NewEfficacyReportingError(strategyID string, cause error) *DomainError {
	return NewError(ErrCodeEfficacyReporting, "efficacy reporting failed", cause, map[string]interface{}{"strategy_id": strategyID})
}

func NewInvalidActionError(index int, reason string) *DomainError {
	return NewError(ErrCodeInvalidAction, fmt.Sprintf("invalid action at index %d: %s", index, reason), nil, map[string]interface{}{
		"index":  index,
		"reason": reason,
	})
}

func NewPersistenceError(operation string, cause error) *DomainError {
	return NewError(ErrCodePersistence, "persistence failure", cause, map[string]interface{}{"operation": operation})
}
