// Package model defines the data structures shared by the mcoda job engine:
// identifiers, job and command-run state machines, and status normalization.
package model

import "fmt"

type JobState string

const (
	JobStateQueued        JobState = "queued"
	JobStateRunning       JobState = "running"
	JobStateCheckpointing JobState = "checkpointing"
	JobStatePaused        JobState = "paused"
	JobStateCompleted     JobState = "completed"
	JobStateFailed        JobState = "failed"
	JobStateCancelled     JobState = "cancelled"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

var terminalJobStates = map[JobState]bool{
	JobStateCompleted: true,
	JobStateFailed:    true,
	JobStateCancelled: true,
}

var terminalRunStatuses = map[RunStatus]bool{
	RunStatusCompleted: true,
	RunStatusFailed:    true,
	RunStatusCancelled: true,
}

// Job state transitions. checkpointing is transient: it always collapses back
// to running in the job store. paused is the resumable suspended state.
var validJobTransitions = map[JobState]map[JobState]bool{
	JobStateQueued: {
		JobStateRunning:   true,
		JobStateCancelled: true,
	},
	JobStateRunning: {
		JobStateCheckpointing: true,
		JobStatePaused:        true,
		JobStateCompleted:     true,
		JobStateFailed:        true,
		JobStateCancelled:     true,
	},
	JobStateCheckpointing: {
		JobStateRunning: true,
	},
	JobStatePaused: {
		JobStateRunning:   true,
		JobStateCancelled: true,
	},
}

func IsJobTerminal(s JobState) bool {
	return terminalJobStates[s]
}

func IsRunTerminal(s RunStatus) bool {
	return terminalRunStatuses[s]
}

func ValidateJobTransition(from, to JobState) error {
	if IsJobTerminal(from) {
		return fmt.Errorf("cannot transition from terminal job state %q", from)
	}
	allowed, ok := validJobTransitions[from]
	if !ok {
		return fmt.Errorf("unknown job state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid job transition: %q -> %q", from, to)
	}
	return nil
}

// NormalizeStatus maps the status strings callers attach to checkpoints onto
// the job state machine. Unknown values default to queued.
func NormalizeStatus(raw string) JobState {
	switch raw {
	case "succeeded", "success", "completed", "complete", "done":
		return JobStateCompleted
	case "failed", "error":
		return JobStateFailed
	case "cancelled", "canceled":
		return JobStateCancelled
	case "running", "in_progress", "started":
		return JobStateRunning
	case "checkpointing":
		return JobStateCheckpointing
	case "paused", "suspended":
		return JobStatePaused
	default:
		return JobStateQueued
	}
}
