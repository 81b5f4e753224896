// Package github is the typed client for the CI provider the engine consumes:
// GitHub App authentication with a per-repository installation token cache,
// the deployments API, and workflow-run listing for a commit.
package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const (
	defaultBaseURL   = "https://api.github.com"
	defaultUserAgent = "conveyor"
	apiVersionHeader = "X-GitHub-Api-Version"
	apiVersion       = "2022-11-28"

	// requestTimeout bounds every remote call so a hung request surfaces as
	// a transient error instead of stalling a processor task.
	requestTimeout = 15 * time.Second
)

// Client talks to the CI provider. It is safe for concurrent use and is
// shared across all processor tasks in a process.
type Client struct {
	log        logr.Logger
	baseURL    string
	userAgent  string
	appID      string
	privateKey *rsa.PrivateKey
	http       *http.Client
	now        func() time.Time

	tokenMu sync.Mutex
	tokens  map[string]cachedToken
}

// Option is a functional option for the Client.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint. Tests use this
// with httptest servers.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l logr.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New returns a Client authenticating as the given app with the given signing
// key.
func New(appID string, privateKey *rsa.PrivateKey, opts ...Option) *Client {
	c := &Client{
		log:        logr.Discard(),
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		appID:      appID,
		privateKey: privateKey,
		http:       &http.Client{Timeout: requestTimeout},
		now:        time.Now,
		tokens:     map[string]cachedToken{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateDeploymentRequest identifies the ref and environment to deploy.
type CreateDeploymentRequest struct {
	Owner       string
	Repo        string
	GitRef      string
	Environment string
	Description string
}

// CreateDeployment creates a deployment for the environment and returns its
// id. required_contexts is empty so the deployment is created regardless of
// commit status checks; auto_merge is off so the provider never merges the
// default branch into the ref on our behalf.
func (c *Client) CreateDeployment(ctx context.Context, req CreateDeploymentRequest) (int64, error) {
	body := struct {
		Ref              string   `json:"ref"`
		Environment      string   `json:"environment"`
		Description      string   `json:"description"`
		AutoMerge        bool     `json:"auto_merge"`
		RequiredContexts []string `json:"required_contexts"`
	}{
		Ref:              req.GitRef,
		Environment:      req.Environment,
		Description:      req.Description,
		AutoMerge:        false,
		RequiredContexts: []string{},
	}
	created := struct {
		ID int64 `json:"id"`
	}{}

	path := fmt.Sprintf("/repos/%s/%s/deployments?auto_merge=false", req.Owner, req.Repo)
	err := c.authed(ctx, req.Owner, req.Repo, func(token string) error {
		// The deployments API answers 201 when created directly and 202
		// when creation was queued behind commit status evaluation.
		if err := c.postJSON(ctx, token, path, body, http.StatusCreated, &created); err != nil {
			var retried *wrongStatusError
			if errors.As(err, &retried) && retried.code == http.StatusAccepted {
				return json.Unmarshal(retried.body, &created)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("creating deployment for %s/%s environment %q: %w", req.Owner, req.Repo, req.Environment, err)
	}
	return created.ID, nil
}

// UpdateDeploymentStatus pushes a deployment state: queued, in_progress,
// failure or success.
func (c *Client) UpdateDeploymentStatus(ctx context.Context, owner, repo string, deploymentID int64, state string) error {
	body := struct {
		State string `json:"state"`
	}{State: state}

	path := fmt.Sprintf("/repos/%s/%s/deployments/%d/statuses", owner, repo, deploymentID)
	err := c.authed(ctx, owner, repo, func(token string) error {
		return c.postJSON(ctx, token, path, body, http.StatusCreated, nil)
	})
	if err != nil {
		return fmt.Errorf("updating deployment %d status to %s: %w", deploymentID, state, err)
	}
	return nil
}

// ListRuns returns all workflow runs for the commit that were triggered by
// the given event, first page only (per_page=100).
func (c *Client) ListRuns(ctx context.Context, owner, repo, sha, event string) ([]Run, error) {
	listing := struct {
		TotalCount   int64 `json:"total_count"`
		WorkflowRuns []Run `json:"workflow_runs"`
	}{}

	path := fmt.Sprintf("/repos/%s/%s/actions/runs?head_sha=%s&event=%s&per_page=100", owner, repo, sha, event)
	err := c.authed(ctx, owner, repo, func(token string) error {
		return c.getJSON(ctx, token, path, http.StatusOK, &listing)
	})
	if err != nil {
		return nil, fmt.Errorf("listing workflow runs for %s/%s@%s: %w", owner, repo, sha, err)
	}
	return listing.WorkflowRuns, nil
}

// authed runs call with a cached installation token. A rejected token is
// invalidated and the call retried once with a freshly minted one.
func (c *Client) authed(ctx context.Context, owner, repo string, call func(token string) error) error {
	token, err := c.installationToken(ctx, owner, repo)
	if err != nil {
		return err
	}
	err = call(token)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.log.V(1).Info("installation token rejected, reminting", "repository", owner+"/"+repo)
	c.invalidateToken(owner, repo)
	token, err = c.installationToken(ctx, owner, repo)
	if err != nil {
		return err
	}
	return call(token)
}

func (c *Client) newRequest(ctx context.Context, method, token, path string, body any) (*http.Request, error) {
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(apiVersionHeader, apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
