package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/repo"
)

// JobHandler groups the Job HTTP handlers (`/v1/jobs`), including
// the handle/complete/fail state-machine transitions.
type JobHandler struct {
	store *repo.Store
	logger *zap.Logger
}

func NewJobHandler(store *repo.Store, logger *zap.Logger) *JobHandler {
	return &JobHandler{store: store, logger: logger.Named("job_handler")}
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQueryParam(w, r, nil, nil)
	if !ok {
		return
	}
	jobs, err := h.store.ListJobs(q)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, jobs)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, j)
}

func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeJSON(w, r, &patch) {
		return
	}
	j, err := h.store.UpdateJob(chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, j)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteJob(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

// handleRequest is the JSON body for POST /v1/jobs/<id>/handle.
type handleRequest struct {
	Owner string `json:"owner"`
}

// Handle handles POST /v1/jobs/<id>/handle: the atomic claim — exactly one
// concurrent caller receives 204, the rest 409.
func (h *JobHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req handleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.store.HandleJob(chi.URLParam(r, "id"), req.Owner); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

// resultRequest is the JSON body for POST /v1/jobs/<id>/complete and
// POST /v1/jobs/<id>/fail.
type resultRequest struct {
	Result map[string]any `json:"result"`
}

// Complete handles POST /v1/jobs/<id>/complete: finish a running job as done.
func (h *JobHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := h.store.CompleteJob(chi.URLParam(r, "id"), req.Result)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, j)
}

// Fail handles POST /v1/jobs/<id>/fail: finish a running job as error.
func (h *JobHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := h.store.FailJob(chi.URLParam(r, "id"), req.Result)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, j)
}
