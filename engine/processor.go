package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/conveyorci/conveyor/backend/dynamo"
	"github.com/conveyorci/conveyor/ci/github"
	"github.com/conveyorci/conveyor/engine/internal/plan"
	"github.com/conveyorci/conveyor/pkg/data"
)

// deploymentEvent is the CI event that identifies runs triggered by our
// deployments.
const deploymentEvent = "deployment"

// Processor advances one workflow by one step: dispatch the next environment,
// or observe a running one and commit the result. All decisions come from the
// plan package; the processor only sequences the I/O.
type Processor struct {
	Log             logr.Logger
	Store           Store
	CI              CI
	NowFunc         func() time.Time
	EmptyRunTimeout time.Duration
}

// Process runs one step for w. A nil return covers both committed progress
// and deliberately dropped ticks (lost conditional updates); errors are
// transient conditions the dispatcher logs and the next tick retries.
func (p *Processor) Process(ctx context.Context, w data.Workflow) error {
	log := p.Log.WithValues("workflow", w.ID, "createdAt", w.CreatedAt.String(), "sha", w.SHA)

	step := plan.Next(w)
	switch step.Rule {
	case plan.RuleComplete:
		return p.complete(ctx, log, w, step.Final)
	case plan.RuleStart:
		return p.start(ctx, log, w, step.Index)
	case plan.RuleObserve:
		return p.observe(ctx, log, w, step.Index)
	}
	return fmt.Errorf("unhandled rule %v for workflow %s", step.Rule, w.ID)
}

// complete marks a workflow whose environments are all terminal.
func (p *Processor) complete(ctx context.Context, log logr.Logger, w data.Workflow, final data.Status) error {
	if err := p.Store.MarkDone(ctx, w, final); err != nil {
		if errors.Is(err, dynamo.ErrConditionalCheckFailed) {
			log.V(1).Info("lost conditional update marking workflow done")
			return nil
		}
		return err
	}
	log.Info("workflow done", "status", final)
	return nil
}

// start creates a deployment for the pending environment and commits the
// Pending -> Running transition. Creating the deployment is not idempotent:
// when the commit loses the conditional-update race, a duplicate deployment
// may exist, which the deployments API tolerates. The id retained is the last
// one written.
func (p *Processor) start(ctx context.Context, log logr.Logger, w data.Workflow, i int) error {
	env := w.Environments[i]
	deploymentID, err := p.CI.CreateDeployment(ctx, github.CreateDeploymentRequest{
		Owner:       w.Owner,
		Repo:        w.Repo,
		GitRef:      w.SHA,
		Environment: env.Name,
		Description: "created by conveyor",
	})
	if err != nil {
		return err
	}
	log.Info("environment dispatched", "environment", env.Name, "deploymentID", deploymentID)

	out := plan.Started(w, i, deploymentID, p.NowFunc())
	if committed := p.commit(ctx, log, w, out); !committed {
		return nil
	}
	p.pushStatus(ctx, log, w, deploymentID, out.Push)
	return nil
}

// observe aggregates the CI runs for the commit and applies the result to the
// running environment.
func (p *Processor) observe(ctx context.Context, log logr.Logger, w data.Workflow, i int) error {
	env := w.Environments[i]
	if env.DeploymentID == nil {
		// Unreachable via the state machine: an environment only leaves
		// Pending with a deployment recorded.
		log.Error(nil, "environment is running without a deployment id, dropping tick", "environment", env.Name)
		return nil
	}

	runs, err := p.CI.ListRuns(ctx, w.Owner, w.Repo, w.SHA, deploymentEvent)
	if err != nil {
		return err
	}

	now := p.NowFunc()
	observed := plan.Aggregate(github.Statuses(runs))
	if len(runs) == 0 {
		if env.StartedAt == nil || now.Before(env.StartedAt.Time.Add(p.EmptyRunTimeout)) {
			// Runs have not appeared yet; keep observing.
			log.V(1).Info("no runs observed yet", "environment", env.Name)
		} else {
			// The deployment triggered nothing within the timeout. Treat
			// the stage as vacuously successful rather than stalling the
			// rollout forever.
			log.Info("no runs appeared within timeout, treating environment as successful",
				"environment", env.Name, "timeout", p.EmptyRunTimeout)
			observed = data.EnvironmentSuccess
		}
	}
	log.V(1).Info("observed environment status", "environment", env.Name, "observed", observed, "runs", len(runs))

	out := plan.Applied(w, i, observed, now)
	if committed := p.commit(ctx, log, w, out); !committed {
		return nil
	}
	if observed.Terminal() {
		log.Info("environment finished", "environment", env.Name, "status", observed, "nextDue", out.DueToRun.String())
	}
	p.pushStatus(ctx, log, w, *env.DeploymentID, out.Push)
	return nil
}

// commit persists an outcome. Returns false when the tick should stop
// without a CI push: a lost race is dropped silently, other store failures
// are logged and retried on a later tick since the row stays due.
func (p *Processor) commit(ctx context.Context, log logr.Logger, w data.Workflow, out plan.Outcome) bool {
	var err error
	switch out.Commit {
	case plan.CommitAdvance:
		_, err = p.Store.AdvanceEnvironment(ctx, w, out.Environments, out.DueToRun)
	case plan.CommitFail:
		_, err = p.Store.FailEnvironment(ctx, w, out.Environments, out.DueToRun)
	}
	if err == nil {
		return true
	}
	if errors.Is(err, dynamo.ErrConditionalCheckFailed) {
		log.V(1).Info("lost conditional update, dropping tick")
		return false
	}
	log.Error(err, "committing workflow state")
	return false
}

// pushStatus reflects the committed environment status onto the deployment.
// Failures here are logged only: the next tick re-observes and re-pushes.
func (p *Processor) pushStatus(ctx context.Context, log logr.Logger, w data.Workflow, deploymentID int64, state string) {
	if err := p.CI.UpdateDeploymentStatus(ctx, w.Owner, w.Repo, deploymentID, state); err != nil {
		log.Error(err, "updating deployment status", "deploymentID", deploymentID, "state", state)
	}
}
