// Package api exposes the engine's inbound operations as a JSON HTTP surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/conveyorci/conveyor/backend/dynamo"
	"github.com/conveyorci/conveyor/pkg/data"
)

// Service is the engine surface the handlers call. Satisfied by
// engine.Service; tests inject fakes.
type Service interface {
	CreateWorkflow(ctx context.Context, req data.CreateWorkflowRequest) error
	ListWorkflows(ctx context.Context, owner, repo string) ([]data.Workflow, error)
	PauseWorkflow(ctx context.Context, owner, repo string, createdAt data.Time) (data.Workflow, error)
	ResumeWorkflow(ctx context.Context, owner, repo string, createdAt data.Time) (data.Workflow, error)
}

// Handler returns the API routes under /api/v1.
func Handler(log logr.Logger, svc Service) http.Handler {
	h := &handlers{log: log, svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows", h.createWorkflow)
	mux.HandleFunc("GET /api/v1/workflows/{owner}/{repo}", h.listWorkflows)
	mux.HandleFunc("POST /api/v1/workflows/{owner}/{repo}/{createdAt}/pause", h.pauseWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{owner}/{repo}/{createdAt}/resume", h.resumeWorkflow)

	return mux
}

type handlers struct {
	log logr.Logger
	svc Service
}

func (h *handlers) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req data.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.CreateWorkflow(r.Context(), req); err != nil {
		h.writeServiceError(w, r, err, "creating workflow")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.svc.ListWorkflows(r.Context(), r.PathValue("owner"), r.PathValue("repo"))
	if err != nil {
		h.writeServiceError(w, r, err, "listing workflows")
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Workflows []data.Workflow `json:"workflows"`
	}{Workflows: workflows})
}

func (h *handlers) pauseWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.PauseWorkflow)
}

func (h *handlers) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.ResumeWorkflow)
}

func (h *handlers) setStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, owner, repo string, createdAt data.Time) (data.Workflow, error)) {
	createdAt, err := data.ParseTime(r.PathValue("createdAt"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid created_at: "+err.Error())
		return
	}

	updated, err := op(r.Context(), r.PathValue("owner"), r.PathValue("repo"), createdAt)
	if err != nil {
		h.writeServiceError(w, r, err, "updating workflow status")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// writeServiceError maps store error kinds onto HTTP statuses.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, dynamo.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dynamo.ErrConditionalCheckFailed):
		// The row is gone or not in the state the operation requires.
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dynamo.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dynamo.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		h.log.Error(err, op, "uri", r.RequestURI)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		h.log.Error(err, "encoding response")
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
}
