package engine

import (
	"fmt"
)

// RunStatus is the overall outcome of applying a patch.
type RunStatus string

const (
	// RunStatusSucceeded indicates every action succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some actions failed and some succeeded.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates every action failed.
	RunStatusFailed RunStatus = "failed"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// statusOf derives the run status from success and failure counts.
func statusOf(succeeded, failed int) RunStatus {
	switch {
	case failed == 0:
		return RunStatusSucceeded
	case succeeded == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// EventType names an entry in the audit trail.
type EventType string

const (
	EventPlanCreated     EventType = "plan.created"
	EventPlanReplaced    EventType = "plan.replaced"
	EventPlanRejected    EventType = "plan.rejected"
	EventPlanCancelled   EventType = "plan.cancelled"
	EventPlanExpired     EventType = "plan.expired"
	EventApplyRejected   EventType = "apply.rejected"
	EventApplyCompleted  EventType = "apply.completed"
	EventRegistryReload  EventType = "registry.reloaded"
	EventRegistryRejects EventType = "registry.rejected"
)
