package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/groupengine"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/repo"
)

// GroupHandler groups the Group HTTP handlers (`/v1/groups`).
type GroupHandler struct {
	store *repo.Store
	logger *zap.Logger
}

func NewGroupHandler(store *repo.Store, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{store: store, logger: logger.Named("group_handler")}
}

func (h *GroupHandler) ownerResolver() func(field string, value any) (string, bool) {
	return func(_ string, value any) (string, bool) {
		name, ok := value.(string)
		if !ok {
			return "", false
		}
		a, err := h.store.GetAgent(name)
		if err != nil {
			return "", false
		}
		return a.ID, true
	}
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQueryParam(w, r, nil, nil)
	if !ok {
		return
	}
	groups, err := h.store.ListGroups(q)
	if err != nil {
		h.logger.Error("failed to list groups", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, groups)
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var g model.Group
	if !decodeJSON(w, r, &g) {
		return
	}
	created, err := h.store.CreateGroup(g)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, created)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGroup(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, g)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeJSON(w, r, &patch) {
		return
	}
	g, err := h.store.UpdateGroup(chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, g)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteGroup(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

// ListMembers handles GET /v1/groups/<id>/members?q=...
func (h *GroupHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGroup(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	extra, ok := parseQueryParam(w, r, resourceRefFields, h.ownerResolver())
	if !ok {
		return
	}
	members, err := groupengine.Members(g, extra, resourceRefFields, h.ownerResolver(), h.store)
	if err != nil {
		h.logger.Error("failed to evaluate group membership", zap.String("group_id", g.ID), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, members)
}

// membersRequest is the JSON body for POST /v1/groups/<id>/members.
type membersRequest struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// SetMembers handles POST /v1/groups/<id>/members: add/remove by
// {include,exclude} of resource ids/names.
func (h *GroupHandler) SetMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.store.SetMembers(chi.URLParam(r, "id"), req.Include, req.Exclude)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, g)
}
