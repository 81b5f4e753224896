// Package data holds the domain types for conveyor: a Workflow rolls one
// commit across an ordered list of deployment environments, one at a time,
// pausing for a stability period between stages.
package data

import (
	"errors"
	"fmt"
	"time"
)

// Status is the overall state of a Workflow.
type Status string

const (
	StatusPaused  Status = "Paused"
	StatusRunning Status = "Running"
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// EnvironmentStatus is the state of a single environment within a Workflow.
type EnvironmentStatus string

const (
	EnvironmentPending EnvironmentStatus = "Pending"
	EnvironmentQueued  EnvironmentStatus = "Queued"
	EnvironmentRunning EnvironmentStatus = "Running"
	EnvironmentSuccess EnvironmentStatus = "Success"
	EnvironmentFailure EnvironmentStatus = "Failure"
)

// Terminal reports whether the status can no longer change.
func (s EnvironmentStatus) Terminal() bool {
	return s == EnvironmentSuccess || s == EnvironmentFailure
}

// severity orders environment statuses from worst to best for
// min-aggregation over observed CI runs.
var severity = map[EnvironmentStatus]int{
	EnvironmentFailure: 0,
	EnvironmentPending: 1,
	EnvironmentRunning: 2,
	EnvironmentSuccess: 3,
	EnvironmentQueued:  4,
}

// Worse reports whether s ranks below o in the aggregation order
// Failure < Pending < Running < Success < Queued.
func (s EnvironmentStatus) Worse(o EnvironmentStatus) bool {
	return severity[s] < severity[o]
}

// Environment is one named stage of a Workflow. Environments run in the order
// they appear in Workflow.Environments.
type Environment struct {
	Name         string            `json:"name" dynamodbav:"name"`
	Status       EnvironmentStatus `json:"status" dynamodbav:"status"`
	StartedAt    *Time             `json:"started_at" dynamodbav:"started_at"`
	FinishedAt   *Time             `json:"finished_at" dynamodbav:"finished_at"`
	DeploymentID *int64            `json:"deployment_id" dynamodbav:"deployment_id"`
}

// Workflow is one rollout of one commit. The primary key is (ID, CreatedAt);
// ID is "{owner}/{repo}" so all rollouts for a repository share a partition.
type Workflow struct {
	ID                     string        `json:"id" dynamodbav:"id"`
	CreatedAt              Time          `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt              *Time         `json:"updated_at" dynamodbav:"updated_at"`
	Owner                  string        `json:"owner" dynamodbav:"owner"`
	Repo                   string        `json:"repo" dynamodbav:"repo"`
	GitRef                 string        `json:"git_ref" dynamodbav:"git_ref"`
	SHA                    string        `json:"sha" dynamodbav:"sha"`
	CommitMessage          string        `json:"commit_message" dynamodbav:"commit_message"`
	StabilityPeriodMinutes uint          `json:"stability_period_minutes" dynamodbav:"stability_period_minutes"`
	Environments           []Environment `json:"environments" dynamodbav:"environments"`
	Status                 Status        `json:"status" dynamodbav:"status"`
	DueToRun               Time          `json:"due_to_run" dynamodbav:"due_to_run"`
}

// CreateWorkflowRequest carries the caller-supplied fields for a new Workflow.
type CreateWorkflowRequest struct {
	Owner                  string   `json:"owner"`
	Repo                   string   `json:"repo"`
	GitRef                 string   `json:"git_ref"`
	SHA                    string   `json:"sha"`
	CommitMessage          string   `json:"commit_message"`
	StabilityPeriodMinutes uint     `json:"stability_period_minutes"`
	Environments           []string `json:"environments"`
}

// Validate checks the request against the constraints a Workflow must satisfy
// on insert.
func (r CreateWorkflowRequest) Validate() error {
	var errs []error
	if r.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if r.Repo == "" {
		errs = append(errs, errors.New("repo is required"))
	}
	if r.SHA == "" {
		errs = append(errs, errors.New("sha is required"))
	}
	if len(r.Environments) == 0 {
		errs = append(errs, errors.New("at least one environment is required"))
	}
	seen := map[string]bool{}
	for _, name := range r.Environments {
		if name == "" {
			errs = append(errs, errors.New("environment names must be non-empty"))
			break
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate environment %q", name))
			break
		}
		seen[name] = true
	}
	return errors.Join(errs...)
}

// NewWorkflow builds the initial Workflow for the request: all environments
// Pending, overall status Running, due to run immediately.
func NewWorkflow(r CreateWorkflowRequest, now time.Time) Workflow {
	envs := make([]Environment, 0, len(r.Environments))
	for _, name := range r.Environments {
		envs = append(envs, Environment{Name: name, Status: EnvironmentPending})
	}
	return Workflow{
		ID:                     r.Owner + "/" + r.Repo,
		CreatedAt:              NewTime(now),
		Owner:                  r.Owner,
		Repo:                   r.Repo,
		GitRef:                 r.GitRef,
		SHA:                    r.SHA,
		CommitMessage:          r.CommitMessage,
		StabilityPeriodMinutes: r.StabilityPeriodMinutes,
		Environments:           envs,
		Status:                 StatusRunning,
		DueToRun:               NewTime(now),
	}
}

// NextEnvironment returns the index of the first environment that has not
// reached a terminal status. ok is false when every environment is terminal
// and the workflow is complete.
func (w Workflow) NextEnvironment() (int, Environment, bool) {
	for i, env := range w.Environments {
		if !env.Status.Terminal() {
			return i, env, true
		}
	}
	return 0, Environment{}, false
}

// StabilityPeriod returns the configured stability period as a duration.
func (w Workflow) StabilityPeriod() time.Duration {
	return time.Duration(w.StabilityPeriodMinutes) * time.Minute
}

// CloneEnvironments returns a copy of the environment slice so callers can
// mutate a candidate state without aliasing the original.
func (w Workflow) CloneEnvironments() []Environment {
	envs := make([]Environment, len(w.Environments))
	copy(envs, w.Environments)
	return envs
}
