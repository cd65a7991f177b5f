package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/graphpatch/pkg/script"
)

// ErrPatchNotFound is returned by PlanStore.Get when a target has no slot.
var ErrPatchNotFound = errors.New("pending patch not found")

// PlanStore holds at most one pending patch per target.
// Implementations must be safe for concurrent use.
type PlanStore interface {
	// Get returns the target's pending patch or ErrPatchNotFound.
	Get(ctx context.Context, targetID string) (*PendingPatch, error)

	// Put stores patch, replacing any patch already held for its target.
	// It reports whether a patch was replaced.
	Put(ctx context.Context, patch *PendingPatch) (bool, error)

	// Consume clears the target's slot only while it still holds planID.
	// It reports false when the slot is empty or holds a different plan, so
	// a patch can be consumed at most once even across processes.
	Consume(ctx context.Context, targetID, planID string) (bool, error)

	// DeleteExpired removes patches created before cutoff and returns them.
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]*PendingPatch, error)
}

// Recorder keeps the history of applies and the audit trail.
type Recorder interface {
	// RecordApply persists a finished run with its per-action results.
	RecordApply(ctx context.Context, result *ApplyResult) error

	// RecordEvent appends an audit trail entry.
	RecordEvent(ctx context.Context, event Event) error
}

// Severity grades a policy violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one policy finding about a plan.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	// Line is the script line the finding refers to, or zero for the whole plan.
	Line int `json:"line,omitempty"`
}

// String renders the violation for display.
func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("line %d: %s (%s)", v.Line, v.Message, v.Policy)
	}
	return fmt.Sprintf("%s (%s)", v.Message, v.Policy)
}

// PolicyInput is what plan policies are evaluated over.
type PolicyInput struct {
	TargetID string
	Actor    string
	Actions  []script.Action
}

// PlanPolicy evaluates a parsed plan before it is stored.
type PlanPolicy interface {
	EvaluatePlan(ctx context.Context, input PolicyInput) ([]Violation, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
