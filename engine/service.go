package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/conveyorci/conveyor/pkg/data"
)

// ErrInvalidRequest wraps a CreateWorkflow validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Service is the inbound API of the engine: creating and listing workflows,
// plus the operator pause/resume controls. Mutating a workflow's progress is
// the processor's job alone; the service only touches rows at the workflow
// level.
type Service struct {
	Log     logr.Logger
	Store   Store
	NowFunc func() time.Time
}

// CreateWorkflow validates the request and inserts a new workflow with every
// environment Pending, due to run immediately.
func (s *Service) CreateWorkflow(ctx context.Context, req data.CreateWorkflowRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	w := data.NewWorkflow(req, s.NowFunc())
	if err := s.Store.PutNew(ctx, w); err != nil {
		return err
	}
	s.Log.Info("workflow created", "workflow", w.ID, "createdAt", w.CreatedAt.String(),
		"environments", len(w.Environments), "stabilityPeriodMinutes", w.StabilityPeriodMinutes)
	return nil
}

// ListWorkflows returns every rollout for the repository, newest first.
func (s *Service) ListWorkflows(ctx context.Context, owner, repo string) ([]data.Workflow, error) {
	return s.Store.ListByRepo(ctx, owner, repo)
}

// PauseWorkflow stops a running workflow from being dispatched. The swap is
// conditional on the workflow still being Running, so pausing a finished or
// already-paused rollout fails with the store's conditional-check error.
func (s *Service) PauseWorkflow(ctx context.Context, owner, repo string, createdAt data.Time) (data.Workflow, error) {
	w := data.Workflow{ID: owner + "/" + repo, CreatedAt: createdAt}
	paused, err := s.Store.SetStatus(ctx, w, data.StatusRunning, data.StatusPaused)
	if err != nil {
		return data.Workflow{}, err
	}
	s.Log.Info("workflow paused", "workflow", paused.ID, "createdAt", paused.CreatedAt.String())
	return paused, nil
}

// ResumeWorkflow puts a paused workflow back into rotation and makes it due
// immediately.
func (s *Service) ResumeWorkflow(ctx context.Context, owner, repo string, createdAt data.Time) (data.Workflow, error) {
	w := data.Workflow{ID: owner + "/" + repo, CreatedAt: createdAt}
	resumed, err := s.Store.SetStatus(ctx, w, data.StatusPaused, data.StatusRunning)
	if err != nil {
		return data.Workflow{}, err
	}
	resumed, err = s.Store.SetDue(ctx, resumed, data.NewTime(s.NowFunc()))
	if err != nil {
		return data.Workflow{}, err
	}
	s.Log.Info("workflow resumed", "workflow", resumed.ID, "createdAt", resumed.CreatedAt.String())
	return resumed, nil
}
