package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/conveyorci/conveyor/pkg/data"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	return key
}

// fakeProvider is an httptest-backed GitHub API double. It serves the
// installation lookup and token minting endpoints and delegates everything
// else to handle.
type fakeProvider struct {
	srv    *httptest.Server
	mints  atomic.Int64
	handle http.HandlerFunc
}

func newFakeProvider(t *testing.T, handle http.HandlerFunc) *fakeProvider {
	t.Helper()
	f := &fakeProvider{handle: handle}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/installation", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id": 77}`)
	})
	mux.HandleFunc("POST /app/installations/77/access_tokens", func(w http.ResponseWriter, _ *http.Request) {
		n := f.mints.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token": "installation-token-%d", "expires_at": %q}`, n, time.Now().Add(time.Hour).Format(time.RFC3339))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if f.handle == nil {
			http.NotFound(w, r)
			return
		}
		f.handle(w, r)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	return New("1234", testKey(t), append([]Option{WithBaseURL(f.srv.URL)}, opts...)...)
}

func TestCreateDeployment(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	f := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "/deployments") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding deployment request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 9001}`)
	})

	c := f.client(t)
	id, err := c.CreateDeployment(context.Background(), CreateDeploymentRequest{
		Owner:       "octo",
		Repo:        "widgets",
		GitRef:      "abc123",
		Environment: "staging",
		Description: "rollout",
	})
	if err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}
	if id != 9001 {
		t.Errorf("CreateDeployment() id = %d, want 9001", id)
	}
	if gotAuth != "Bearer installation-token-1" {
		t.Errorf("deployment call used %q, want the minted installation token", gotAuth)
	}

	want := map[string]any{
		"ref":               "abc123",
		"environment":       "staging",
		"description":       "rollout",
		"auto_merge":        false,
		"required_contexts": []any{},
	}
	if diff := cmp.Diff(want, gotBody); diff != "" {
		t.Errorf("unexpected deployment request body (-want +got):\n%s", diff)
	}
}

func TestCreateDeployment_AcceptedStatus(t *testing.T) {
	f := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// Deployment creation queued behind commit status evaluation.
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"id": 7}`)
	})

	c := f.client(t)
	id, err := c.CreateDeployment(context.Background(), CreateDeploymentRequest{
		Owner: "octo", Repo: "widgets", GitRef: "abc123", Environment: "staging",
	})
	if err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}
	if id != 7 {
		t.Errorf("CreateDeployment() id = %d, want 7", id)
	}
}

func TestUpdateDeploymentStatus(t *testing.T) {
	var gotPath string
	var gotState string
	f := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body := struct {
			State string `json:"state"`
		}{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotState = body.State
		w.WriteHeader(http.StatusCreated)
	})

	c := f.client(t)
	if err := c.UpdateDeploymentStatus(context.Background(), "octo", "widgets", 9001, "in_progress"); err != nil {
		t.Fatalf("UpdateDeploymentStatus() error = %v", err)
	}
	if gotPath != "/repos/octo/widgets/deployments/9001/statuses" {
		t.Errorf("status pushed to %q", gotPath)
	}
	if gotState != "in_progress" {
		t.Errorf("pushed state %q, want in_progress", gotState)
	}
}

func TestListRuns(t *testing.T) {
	var gotQuery string
	f := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"total_count": 2, "workflow_runs": [
			{"id": 1, "name": "deploy", "status": "completed"},
			{"id": 2, "name": "smoke", "status": "in_progress"}
		]}`)
	})

	c := f.client(t)
	runs, err := c.ListRuns(context.Background(), "octo", "widgets", "abc123", "deployment")
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}

	want := []Run{
		{ID: 1, Name: "deploy", Status: RunCompleted},
		{ID: 2, Name: "smoke", Status: RunInProgress},
	}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("unexpected runs (-want +got):\n%s", diff)
	}
	if !strings.Contains(gotQuery, "head_sha=abc123") || !strings.Contains(gotQuery, "event=deployment") {
		t.Errorf("listing query = %q, want head_sha and event filters", gotQuery)
	}
}

func TestInstallationToken_Cached(t *testing.T) {
	f := newFakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	c := f.client(t)
	for range 3 {
		if err := c.UpdateDeploymentStatus(context.Background(), "octo", "widgets", 1, "queued"); err != nil {
			t.Fatalf("UpdateDeploymentStatus() error = %v", err)
		}
	}

	if got := f.mints.Load(); got != 1 {
		t.Errorf("minted %d tokens across calls, want 1", got)
	}
}

func TestInstallationToken_RefreshesNearExpiry(t *testing.T) {
	f := newFakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	now := time.Now()
	c := f.client(t, WithNowFunc(func() time.Time { return now }))

	if err := c.UpdateDeploymentStatus(context.Background(), "octo", "widgets", 1, "queued"); err != nil {
		t.Fatalf("UpdateDeploymentStatus() error = %v", err)
	}
	// The fake's tokens live one hour; step the clock past expiry minus slack.
	now = now.Add(time.Hour)
	if err := c.UpdateDeploymentStatus(context.Background(), "octo", "widgets", 1, "queued"); err != nil {
		t.Fatalf("UpdateDeploymentStatus() error = %v", err)
	}

	if got := f.mints.Load(); got != 2 {
		t.Errorf("minted %d tokens, want 2", got)
	}
}

func TestAuthed_RetriesOnceOnRejectedToken(t *testing.T) {
	var calls atomic.Int64
	f := newFakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			// Token revoked out from under us.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	c := f.client(t)
	if err := c.UpdateDeploymentStatus(context.Background(), "octo", "widgets", 1, "success"); err != nil {
		t.Fatalf("UpdateDeploymentStatus() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("deployment endpoint called %d times, want 2", got)
	}
	if got := f.mints.Load(); got != 2 {
		t.Errorf("minted %d tokens, want a fresh one after the rejection", got)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := map[string]struct {
		status int
		check  func(error) bool
		kind   string
	}{
		"404 is not found": {
			status: http.StatusNotFound,
			check:  func(err error) bool { return errors.Is(err, ErrNotFound) },
			kind:   "ErrNotFound",
		},
		"403 is rate limited": {
			status: http.StatusForbidden,
			check:  func(err error) bool { return errors.Is(err, ErrRateLimited) },
			kind:   "ErrRateLimited",
		},
		"429 is rate limited": {
			status: http.StatusTooManyRequests,
			check:  func(err error) bool { return errors.Is(err, ErrRateLimited) },
			kind:   "ErrRateLimited",
		},
		"500 is transient": {
			status: http.StatusInternalServerError,
			check:  func(err error) bool { return errors.Is(err, ErrTransient) },
			kind:   "ErrTransient",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			c := f.client(t)
			err := c.UpdateDeploymentStatus(context.Background(), "octo", "widgets", 1, "success")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("error %v does not match %s", err, tt.kind)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	transientErr := &wrongStatusError{op: "GET /x", code: http.StatusBadGateway}
	rateLimitedErr := &wrongStatusError{op: "GET /x", code: http.StatusForbidden}
	notFoundErr := &wrongStatusError{op: "GET /x", code: http.StatusNotFound}

	if !IsTransient(transientErr) {
		t.Error("5xx should be transient")
	}
	if !IsTransient(rateLimitedErr) {
		t.Error("rate limiting should be treated as transient by callers")
	}
	if IsTransient(notFoundErr) {
		t.Error("not found is not transient")
	}
}

func TestRunStatus_EnvironmentStatus(t *testing.T) {
	tests := map[RunStatus]data.EnvironmentStatus{
		RunCompleted:      data.EnvironmentSuccess,
		RunSuccess:        data.EnvironmentSuccess,
		RunActionRequired: data.EnvironmentFailure,
		RunCancelled:      data.EnvironmentFailure,
		RunFailure:        data.EnvironmentFailure,
		RunNeutral:        data.EnvironmentFailure,
		RunSkipped:        data.EnvironmentFailure,
		RunStale:          data.EnvironmentFailure,
		RunTimedOut:       data.EnvironmentFailure,
		RunInProgress:     data.EnvironmentRunning,
		RunQueued:         data.EnvironmentQueued,
		RunRequested:      data.EnvironmentQueued,
		RunWaiting:        data.EnvironmentQueued,
		RunPending:        data.EnvironmentQueued,
		"something_new":   data.EnvironmentQueued,
	}

	for status, want := range tests {
		if got := status.EnvironmentStatus(); got != want {
			t.Errorf("EnvironmentStatus(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestStatuses(t *testing.T) {
	runs := []Run{
		{ID: 1, Status: RunInProgress},
		{ID: 2, Status: RunQueued},
		{ID: 3, Status: RunFailure},
	}

	want := []data.EnvironmentStatus{
		data.EnvironmentRunning,
		data.EnvironmentQueued,
		data.EnvironmentFailure,
	}
	if diff := cmp.Diff(want, Statuses(runs)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}
}

func TestParsePrivateKey(t *testing.T) {
	if _, err := ParsePrivateKey([]byte("not a key")); err == nil {
		t.Error("expected error for malformed PEM")
	}
}
