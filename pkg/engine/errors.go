package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/graphpatch/pkg/script"
)

// ErrorClass groups errors by the stage that produced them.
type ErrorClass string

const (
	// ErrorClassParse covers script problems found while planning.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassHandlerMissing indicates an operation whose handler is not registered.
	ErrorClassHandlerMissing ErrorClass = "handler_missing"

	// ErrorClassRuntime covers failures while a handler runs.
	ErrorClassRuntime ErrorClass = "runtime"

	// ErrorClassGate indicates an apply request stopped before execution.
	ErrorClassGate ErrorClass = "gate"

	// ErrorClassPolicy indicates a plan denied by a policy.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassInternal covers store, graph provider and other plumbing failures.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the error for programmatic handling.
	Code string `json:"code,omitempty"`

	// Target is the target ID the error relates to, if any.
	Target string `json:"target,omitempty"`

	// Handler is the handler ID that was running, if any.
	Handler string `json:"handler,omitempty"`

	// Line is the script line the error relates to, if any.
	Line int `json:"line,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var ctx []string
	if e.Target != "" {
		ctx = append(ctx, "target="+e.Target)
	}
	if e.Handler != "" {
		ctx = append(ctx, "handler="+e.Handler)
	}
	if e.Line > 0 {
		ctx = append(ctx, fmt.Sprintf("line=%d", e.Line))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// newError creates an error of the given class.
func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewGateError creates an apply gate rejection.
func NewGateError(code, message string) *EngineError {
	return newError(ErrorClassGate, code, message, nil)
}

// NewRuntimeError creates a handler failure.
func NewRuntimeError(code, message string, err error) *EngineError {
	return newError(ErrorClassRuntime, code, message, err)
}

// NewInternalError creates a plumbing failure.
func NewInternalError(code, message string, err error) *EngineError {
	return newError(ErrorClassInternal, code, message, err)
}

// WithTarget adds target context to an error.
func (e *EngineError) WithTarget(targetID string) *EngineError {
	e.Target = targetID
	return e
}

// WithHandler adds handler context to an error.
func (e *EngineError) WithHandler(handlerID string) *EngineError {
	e.Handler = handlerID
	return e
}

// WithLine adds the script line to an error.
func (e *EngineError) WithLine(line int) *EngineError {
	e.Line = line
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	ErrCodeNoPendingPatch     = "NO_PENDING_PATCH"
	ErrCodePatchExpired       = "PATCH_EXPIRED"
	ErrCodeInvalidCode        = "INVALID_CODE"
	ErrCodeDestructiveBlocked = "DESTRUCTIVE_BLOCKED"
	ErrCodePlanReplaced       = "PLAN_REPLACED"
	ErrCodePlanRejected       = "PLAN_REJECTED"
	ErrCodeEmptyPlan          = "EMPTY_PLAN"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodePolicyError        = "POLICY_ERROR"
	ErrCodeHandlerUnknown     = "HANDLER_UNKNOWN"
	ErrCodeInvalidArguments   = "INVALID_ARGUMENTS"
	ErrCodeHandlerFailed      = "HANDLER_FAILED"
	ErrCodeHandlerPanic       = "HANDLER_PANIC"
	ErrCodeTargetUnavailable  = "TARGET_UNAVAILABLE"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeRegistry           = "REGISTRY_ERROR"
)

// Sentinels for errors.Is. Returned errors are fresh values carrying the
// target; they match these by class and code.
var (
	ErrNoPendingPatch     = NewGateError(ErrCodeNoPendingPatch, "no pending patch")
	ErrPatchExpired       = NewGateError(ErrCodePatchExpired, "pending patch expired")
	ErrInvalidCode        = NewGateError(ErrCodeInvalidCode, "invalid confirmation code")
	ErrDestructiveBlocked = NewGateError(ErrCodeDestructiveBlocked, "patch contains destructive actions")
	ErrPlanReplaced       = NewGateError(ErrCodePlanReplaced, "pending patch changed during apply")
	ErrPlanRejected       = newError(ErrorClassParse, ErrCodePlanRejected, "plan rejected", nil)
	ErrEmptyPlan          = newError(ErrorClassParse, ErrCodeEmptyPlan, "script contains no actions", nil)
	ErrPolicyDenied       = newError(ErrorClassPolicy, ErrCodePolicyDenied, "plan denied by policy", nil)
)

// gateName is the metrics label for a gate error code.
func gateName(code string) string {
	return strings.ToLower(code)
}

// IsGate reports whether err is an apply gate rejection.
func IsGate(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassGate
	}
	return false
}

// ClassOf returns the class of err, or ErrorClassInternal for unclassified errors.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	var rejected *PlanRejectedError
	if errors.As(err, &rejected) {
		return ErrorClassParse
	}
	return ErrorClassInternal
}

// PlanRejectedError is returned by Plan when a script has errors. It holds
// at most the configured number of diagnostics; Total counts all of them.
type PlanRejectedError struct {
	Diagnostics []script.Diagnostic
	Total       int
	// Violations is set when policies denied the plan.
	Violations []Violation
}

// Error implements the error interface.
func (e *PlanRejectedError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("plan denied by %d policy violation(s)", len(e.Violations))
	}
	return fmt.Sprintf("plan rejected: %d error(s)", e.Total)
}

// Is matches ErrPlanRejected, or ErrPolicyDenied when policies rejected the plan.
func (e *PlanRejectedError) Is(target error) bool {
	if target == ErrPlanRejected {
		return true
	}
	return target == ErrPolicyDenied && len(e.Violations) > 0
}

// Lines renders the held diagnostics and violations, then a note about
// any that were left out.
func (e *PlanRejectedError) Lines() []string {
	lines := make([]string, 0, len(e.Diagnostics)+len(e.Violations)+1)
	for _, d := range e.Diagnostics {
		lines = append(lines, d.String())
	}
	for _, v := range e.Violations {
		lines = append(lines, v.String())
	}
	if hidden := e.Total - len(e.Diagnostics); hidden > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more", hidden))
	}
	return lines
}
