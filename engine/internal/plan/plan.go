// Package plan is the pure state machine of the engine. It decides what the
// next processing step for a workflow is and computes the resulting workflow
// state, without performing any I/O. The processor executes the store writes
// and CI calls the plan prescribes.
package plan

import (
	"time"

	"github.com/conveyorci/conveyor/pkg/data"
)

// Rule identifies which transition applies to a workflow.
type Rule int

const (
	// RuleComplete applies when every environment is terminal; the workflow
	// is marked done with FinalStatus.
	RuleComplete Rule = iota
	// RuleStart applies when the next environment is Pending; a deployment
	// is created and the environment moves to Running.
	RuleStart
	// RuleObserve applies when the next environment is Running or Queued;
	// CI runs for the commit are aggregated and applied.
	RuleObserve
)

// Step is the outcome of rule selection for one workflow.
type Step struct {
	Rule Rule
	// Index is the position of the environment the rule acts on. Unset for
	// RuleComplete.
	Index int
	// Final is the terminal workflow status for RuleComplete.
	Final data.Status
}

// Next selects the transition for w. Environments progress strictly in order,
// so the first non-terminal environment is the only one that can change.
func Next(w data.Workflow) Step {
	i, env, ok := w.NextEnvironment()
	if !ok {
		return Step{Rule: RuleComplete, Final: FinalStatus(w)}
	}
	if env.Status == data.EnvironmentPending {
		return Step{Rule: RuleStart, Index: i}
	}
	return Step{Rule: RuleObserve, Index: i}
}

// FinalStatus is the workflow status once no environment remains to process:
// the status of the last terminal environment, or Success when the workflow
// has no terminal environments at all.
func FinalStatus(w data.Workflow) data.Status {
	for i := len(w.Environments) - 1; i >= 0; i-- {
		if w.Environments[i].Status.Terminal() {
			if w.Environments[i].Status == data.EnvironmentFailure {
				return data.StatusFailure
			}
			return data.StatusSuccess
		}
	}
	return data.StatusSuccess
}

// Aggregate collapses the statuses observed across all CI runs for a commit
// into a single environment status by taking the minimum in the order
// Failure < Pending < Running < Success < Queued. An empty observation
// aggregates to Running: the deployment was dispatched and runs have simply
// not appeared yet.
func Aggregate(statuses []data.EnvironmentStatus) data.EnvironmentStatus {
	agg := data.EnvironmentRunning
	for i, s := range statuses {
		if i == 0 || s.Worse(agg) {
			agg = s
		}
	}
	return agg
}

// Commit names the store write an Outcome requires.
type Commit int

const (
	// CommitAdvance overwrites environments and due_to_run, keeping the
	// workflow Running.
	CommitAdvance Commit = iota
	// CommitFail does the same but also marks the workflow Failure.
	CommitFail
)

// Outcome is a computed workflow mutation plus the deployment state to push
// to CI after the store commit succeeds.
type Outcome struct {
	Environments []data.Environment
	DueToRun     data.Time
	Commit       Commit
	// Push is the CI deployment state reflecting the new environment
	// status: queued, in_progress, success or failure.
	Push string
}

// DeploymentState maps an environment status to the CI deployment state
// vocabulary.
func DeploymentState(s data.EnvironmentStatus) string {
	switch s {
	case data.EnvironmentPending, data.EnvironmentQueued:
		return "queued"
	case data.EnvironmentRunning:
		return "in_progress"
	case data.EnvironmentSuccess:
		return "success"
	case data.EnvironmentFailure:
		return "failure"
	}
	return ""
}

// Started computes the RuleStart mutation: environment i becomes Running with
// the created deployment recorded. due_to_run is left unchanged so the next
// tick observes the running environment.
func Started(w data.Workflow, i int, deploymentID int64, now time.Time) Outcome {
	envs := w.CloneEnvironments()
	started := data.NewTime(now)
	envs[i].Status = data.EnvironmentRunning
	envs[i].StartedAt = &started
	envs[i].DeploymentID = &deploymentID
	return Outcome{
		Environments: envs,
		DueToRun:     w.DueToRun,
		Commit:       CommitAdvance,
		Push:         DeploymentState(data.EnvironmentRunning),
	}
}

// Applied computes the RuleObserve mutation for an observed aggregate status.
// Terminal observations stamp finished_at and push due_to_run out by the
// stability period; non-terminal observations record the status and leave
// due_to_run alone.
func Applied(w data.Workflow, i int, observed data.EnvironmentStatus, now time.Time) Outcome {
	envs := w.CloneEnvironments()
	envs[i].Status = observed

	out := Outcome{
		Environments: envs,
		DueToRun:     w.DueToRun,
		Commit:       CommitAdvance,
		Push:         DeploymentState(observed),
	}
	if observed.Terminal() {
		finished := data.NewTime(now)
		envs[i].FinishedAt = &finished
		out.DueToRun = data.NewTime(now).Add(w.StabilityPeriod())
		if observed == data.EnvironmentFailure {
			out.Commit = CommitFail
		}
	}
	return out
}
