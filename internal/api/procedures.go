package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/jobengine"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/repo"
)

// ProcedureHandler groups the Procedure HTTP handlers (`/v1/procedures`),
// including the exec and attach sub-resources.
type ProcedureHandler struct {
	store *repo.Store
	engine *jobengine.Engine
	logger *zap.Logger
}

func NewProcedureHandler(store *repo.Store, engine *jobengine.Engine, logger *zap.Logger) *ProcedureHandler {
	return &ProcedureHandler{store: store, engine: engine, logger: logger.Named("procedure_handler")}
}

func (h *ProcedureHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQueryParam(w, r, nil, nil)
	if !ok {
		return
	}
	procs, err := h.store.ListProcedures(q)
	if err != nil {
		h.logger.Error("failed to list procedures", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, procs)
}

func (h *ProcedureHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p model.Procedure
	if !decodeJSON(w, r, &p) {
		return
	}
	created, err := h.store.CreateProcedure(p)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, created)
}

func (h *ProcedureHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProcedure(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, p)
}

func (h *ProcedureHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeJSON(w, r, &patch) {
		return
	}
	p, err := h.store.UpdateProcedure(chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, p)
}

func (h *ProcedureHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteProcedure(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

// execRequest is the JSON body for POST /v1/procedures/<id>/exec.
type execRequest struct {
	Target string `json:"target"`
	Options map[string]any `json:"options"`
	Params map[string]any `json:"params"`
}

// Exec handles POST /v1/procedures/<id>/exec: create-and-enqueue a Job.
func (h *ProcedureHandler) Exec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.engine.Exec(chi.URLParam(r, "id"), req.Target, req.Options, req.Params)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, job)
}

// attachRequest is the JSON body for POST /v1/procedures/<id>/attach.
type attachRequest struct {
	Group string `json:"group"`
	Target string `json:"target"`
	Options map[string]any `json:"options"`
	Params map[string]any `json:"params"`
}

// Attach handles POST /v1/procedures/<id>/attach: create a Subscription
// linking this procedure to a group and target.
func (h *ProcedureHandler) Attach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub := model.Subscription{
		Group: req.Group,
		Procedure: chi.URLParam(r, "id"),
		Target: req.Target,
		Options: req.Options,
		Params: req.Params,
	}
	created, err := h.store.CreateSubscription(sub)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, created)
}
