package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/repo"
)

// ResourceHandler groups the Resource HTTP handlers (`/v1/resources`).
type ResourceHandler struct {
	store *repo.Store
	logger *zap.Logger
}

func NewResourceHandler(store *repo.Store, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{store: store, logger: logger.Named("resource_handler")}
}

// resourceRefFields declares owner as reference-typed so `?q={"owner":"name"}`
// resolves against Agent's lookup fields.
var resourceRefFields = query.ReferenceFields{"owner": true}

func (h *ResourceHandler) ownerResolver() query.Resolver {
	return func(field string, value any) (string, bool) {
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

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQueryParam(w, r, resourceRefFields, h.ownerResolver())
	if !ok {
		return
	}
	resources, err := h.store.ListResources(q)
	if err != nil {
		h.logger.Error("failed to list resources", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, resources)
}

func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var res model.Resource
	if !decodeJSON(w, r, &res) {
		return
	}
	created, err := h.store.CreateResource(res)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, created)
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetResource(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, res)
}

func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeJSON(w, r, &patch) {
		return
	}
	res, err := h.store.UpdateResource(chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, res)
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteResource(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}
