package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/liveness"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/repo"
)

// AgentHandler groups the Agent HTTP handlers (`/v1/agents`).
type AgentHandler struct {
	store *repo.Store
	sweeper *liveness.Sweeper
	logger *zap.Logger
}

// NewAgentHandler creates a new AgentHandler. sweeper may be nil in tests
// that don't exercise the opportunistic-sweep trigger.
func NewAgentHandler(store *repo.Store, sweeper *liveness.Sweeper, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{store: store, sweeper: sweeper, logger: logger.Named("agent_handler")}
}

// List handles GET /v1/agents. The liveness sweep runs opportunistically
// (throttled) before the read.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	h.trigger()
	q, ok := parseQueryParam(w, r, nil, nil)
	if !ok {
		return
	}
	agents, err := h.store.ListAgents(q)
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, agents)
}

// Create handles POST /v1/agents.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var a model.Agent
	if !decodeJSON(w, r, &a) {
		return
	}
	created, err := h.store.CreateAgent(a)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, created)
}

// Get handles GET /v1/agents/<id-or-name>.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.trigger()
	a, err := h.store.GetAgent(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, a)
}

// Update handles PATCH /v1/agents/<id-or-name>.
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeJSON(w, r, &patch) {
		return
	}
	a, err := h.store.UpdateAgent(chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, a)
}

// Delete handles DELETE /v1/agents/<id-or-name>.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAgent(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

// Heartbeat handles POST /v1/agents/<id>/heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Heartbeat(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

func (h *AgentHandler) trigger() {
	if h.sweeper != nil {
		h.sweeper.Sweep()
	}
}
