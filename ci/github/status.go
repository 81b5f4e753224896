package github

import "github.com/conveyorci/conveyor/pkg/data"

// RunStatus is the status field of a workflow run as reported by the CI
// provider. The provider distinguishes far more states than the engine needs.
type RunStatus string

const (
	RunCompleted      RunStatus = "completed"
	RunActionRequired RunStatus = "action_required"
	RunCancelled      RunStatus = "cancelled"
	RunFailure        RunStatus = "failure"
	RunNeutral        RunStatus = "neutral"
	RunSkipped        RunStatus = "skipped"
	RunStale          RunStatus = "stale"
	RunSuccess        RunStatus = "success"
	RunTimedOut       RunStatus = "timed_out"
	RunInProgress     RunStatus = "in_progress"
	RunQueued         RunStatus = "queued"
	RunRequested      RunStatus = "requested"
	RunWaiting        RunStatus = "waiting"
	RunPending        RunStatus = "pending"
)

// Run is one workflow run observed for a commit.
type Run struct {
	ID     int64     `json:"id"`
	Name   string    `json:"name"`
	Status RunStatus `json:"status"`
}

// EnvironmentStatus collapses a run status into the engine's five-state
// vocabulary. Anything the provider considers finished-but-not-successful
// maps to Failure.
func (s RunStatus) EnvironmentStatus() data.EnvironmentStatus {
	switch s {
	case RunCompleted, RunSuccess:
		return data.EnvironmentSuccess
	case RunActionRequired, RunCancelled, RunFailure, RunNeutral, RunSkipped, RunStale, RunTimedOut:
		return data.EnvironmentFailure
	case RunInProgress:
		return data.EnvironmentRunning
	case RunQueued, RunRequested, RunWaiting, RunPending:
		return data.EnvironmentQueued
	}
	// Unknown statuses are treated as still queued rather than failing the
	// stage; the next tick re-observes.
	return data.EnvironmentQueued
}

// Statuses maps runs to environment statuses for aggregation.
func Statuses(runs []Run) []data.EnvironmentStatus {
	out := make([]data.EnvironmentStatus, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Status.EnvironmentStatus())
	}
	return out
}
