package policy

import (
	"github.com/openfroyo/graphpatch/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are shown but do not block a plan.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that reject a plan.
	SeverityError Severity = "error"

	// SeverityCritical is treated like SeverityError.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity rejects a plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module. Its deny rules produce violations at the
// policy's severity; its warn rules always produce warnings.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for deny results.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with graphpatch.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Limits are thresholds exposed to policies as input.limits.
type Limits struct {
	// MaxDestructive caps destructive actions in one plan. Zero disables the check.
	MaxDestructive int `json:"max_destructive"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxDestructive: 25}
}

// PlanInput is the document policies are evaluated against.
type PlanInput struct {
	Target  string         `json:"target"`
	Actor   string         `json:"actor,omitempty"`
	Actions []ActionInput  `json:"actions"`
	Counts  map[string]int `json:"counts"`
	Limits  Limits         `json:"limits"`
}

// ActionInput is one action as seen by a policy.
type ActionInput struct {
	Line        int               `json:"line"`
	Verb        string            `json:"verb"`
	Type        string            `json:"type"`
	Handler     string            `json:"handler"`
	Args        map[string]string `json:"args"`
	Destructive bool              `json:"destructive"`
}

// newPlanInput converts the engine's policy input.
func newPlanInput(in engine.PolicyInput, limits Limits) PlanInput {
	out := PlanInput{
		Target:  in.TargetID,
		Actor:   in.Actor,
		Actions: make([]ActionInput, 0, len(in.Actions)),
		Counts:  make(map[string]int),
		Limits:  limits,
	}
	for _, a := range in.Actions {
		args := a.Arguments
		if args == nil {
			args = map[string]string{}
		}
		out.Actions = append(out.Actions, ActionInput{
			Line:        a.Line,
			Verb:        a.Verb,
			Type:        a.ResourceType,
			Handler:     a.HandlerID,
			Args:        args,
			Destructive: a.Destructive,
		})
		out.Counts[a.HandlerID]++
	}
	return out
}
