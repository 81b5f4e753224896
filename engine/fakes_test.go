package engine

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/ci/github"
	"github.com/conveyorci/conveyor/pkg/data"
)

// fakeStore implements Store with overridable function fields. Methods without
// an override succeed and return zero values.
type fakeStore struct {
	putNew             func(ctx context.Context, w data.Workflow) error
	listByRepo         func(ctx context.Context, owner, repo string) ([]data.Workflow, error)
	findDue            func(ctx context.Context, now time.Time) ([]data.Workflow, error)
	advanceEnvironment func(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error)
	failEnvironment    func(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error)
	markDone           func(ctx context.Context, w data.Workflow, final data.Status) error
	setStatus          func(ctx context.Context, w data.Workflow, from, to data.Status) (data.Workflow, error)
	setDue             func(ctx context.Context, w data.Workflow, due data.Time) (data.Workflow, error)
}

func (f *fakeStore) PutNew(ctx context.Context, w data.Workflow) error {
	if f.putNew == nil {
		return nil
	}
	return f.putNew(ctx, w)
}

func (f *fakeStore) ListByRepo(ctx context.Context, owner, repo string) ([]data.Workflow, error) {
	if f.listByRepo == nil {
		return nil, nil
	}
	return f.listByRepo(ctx, owner, repo)
}

func (f *fakeStore) FindDue(ctx context.Context, now time.Time) ([]data.Workflow, error) {
	if f.findDue == nil {
		return nil, nil
	}
	return f.findDue(ctx, now)
}

func (f *fakeStore) AdvanceEnvironment(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error) {
	if f.advanceEnvironment == nil {
		return w, nil
	}
	return f.advanceEnvironment(ctx, w, envs, due)
}

func (f *fakeStore) FailEnvironment(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error) {
	if f.failEnvironment == nil {
		return w, nil
	}
	return f.failEnvironment(ctx, w, envs, due)
}

func (f *fakeStore) MarkDone(ctx context.Context, w data.Workflow, final data.Status) error {
	if f.markDone == nil {
		return nil
	}
	return f.markDone(ctx, w, final)
}

func (f *fakeStore) SetStatus(ctx context.Context, w data.Workflow, from, to data.Status) (data.Workflow, error) {
	if f.setStatus == nil {
		return w, nil
	}
	return f.setStatus(ctx, w, from, to)
}

func (f *fakeStore) SetDue(ctx context.Context, w data.Workflow, due data.Time) (data.Workflow, error) {
	if f.setDue == nil {
		return w, nil
	}
	return f.setDue(ctx, w, due)
}

// fakeCI implements CI the same way.
type fakeCI struct {
	createDeployment       func(ctx context.Context, req github.CreateDeploymentRequest) (int64, error)
	updateDeploymentStatus func(ctx context.Context, owner, repo string, deploymentID int64, state string) error
	listRuns               func(ctx context.Context, owner, repo, sha, event string) ([]github.Run, error)
}

func (f *fakeCI) CreateDeployment(ctx context.Context, req github.CreateDeploymentRequest) (int64, error) {
	if f.createDeployment == nil {
		return 1, nil
	}
	return f.createDeployment(ctx, req)
}

func (f *fakeCI) UpdateDeploymentStatus(ctx context.Context, owner, repo string, deploymentID int64, state string) error {
	if f.updateDeploymentStatus == nil {
		return nil
	}
	return f.updateDeploymentStatus(ctx, owner, repo, deploymentID, state)
}

func (f *fakeCI) ListRuns(ctx context.Context, owner, repo, sha, event string) ([]github.Run, error) {
	if f.listRuns == nil {
		return nil, nil
	}
	return f.listRuns(ctx, owner, repo, sha, event)
}
