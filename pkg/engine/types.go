package engine

import (
	"time"

	"github.com/openfroyo/graphpatch/pkg/script"
)

// PendingPatch is a planned, not yet confirmed batch of actions for one target.
type PendingPatch struct {
	PlanID              string          `json:"plan_id"`
	TargetID            string          `json:"target_id"`
	Code                string          `json:"code"`
	Actions             []script.Action `json:"actions"`
	CreatedAt           time.Time       `json:"created_at"`
	ContainsDestructive bool            `json:"contains_destructive"`
	// Actor is who planned the patch, when known.
	Actor string `json:"actor,omitempty"`
}

// ExpiresAt returns when the patch stops being applicable.
func (p *PendingPatch) ExpiresAt(ttl time.Duration) time.Time {
	return p.CreatedAt.Add(ttl)
}

// Expired reports whether the patch is older than ttl at now.
func (p *PendingPatch) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}

// ActionResult is the outcome of executing one action.
type ActionResult struct {
	Success    bool          `json:"success"`
	Line       int           `json:"line"`
	HandlerID  string        `json:"handler_id"`
	Error      string        `json:"error,omitempty"`
	AffectedID string        `json:"affected_id,omitempty"`
	Changed    bool          `json:"changed"`
	Duration   time.Duration `json:"duration"`
}

// ApplyResult is the outcome of executing a whole patch.
type ApplyResult struct {
	RunID        string         `json:"run_id"`
	PlanID       string         `json:"plan_id"`
	TargetID     string         `json:"target_id"`
	Actor        string         `json:"actor,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Status       RunStatus      `json:"status"`
	Results      []ActionResult `json:"results"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// Failures returns up to limit failed results in execution order. A
// non-positive limit returns all of them.
func (r *ApplyResult) Failures(limit int) []ActionResult {
	var out []ActionResult
	for _, res := range r.Results {
		if res.Success {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, res)
	}
	return out
}

// PlanResult is returned by a successful Plan.
type PlanResult struct {
	PlanID              string              `json:"plan_id"`
	TargetID            string              `json:"target_id"`
	Summary             string              `json:"summary"`
	Code                string              `json:"code"`
	ContainsDestructive bool                `json:"contains_destructive"`
	ExpiresAt           time.Time           `json:"expires_at"`
	ActionCount         int                 `json:"action_count"`
	Warnings            []script.Diagnostic `json:"warnings,omitempty"`
	// PolicyWarnings are non-blocking policy findings.
	PolicyWarnings []Violation `json:"policy_warnings,omitempty"`
	// Replaced is set when the plan replaced an earlier pending patch.
	Replaced bool `json:"replaced"`
}

// ApplyOptions carries the caller's confirmation flags.
type ApplyOptions struct {
	// AllowDestructive must be set to apply a patch with destructive actions.
	AllowDestructive bool
	// Reason is passed to the graph API as the audit reason.
	Reason string
	// Actor identifies who applied the patch.
	Actor string
}

// PatchStatus describes the pending slot of one target.
type PatchStatus struct {
	Patch     *PendingPatch `json:"patch"`
	ExpiresAt time.Time     `json:"expires_at"`
	Expired   bool          `json:"expired"`
}

// Event is one audit trail entry.
type Event struct {
	Type      EventType `json:"type"`
	TargetID  string    `json:"target_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
