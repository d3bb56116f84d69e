package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/repo"
)

// ApplicationHandler groups the Application HTTP handlers (`/v1/apps`).
type ApplicationHandler struct {
	store *repo.Store
	logger *zap.Logger
}

func NewApplicationHandler(store *repo.Store, logger *zap.Logger) *ApplicationHandler {
	return &ApplicationHandler{store: store, logger: logger.Named("application_handler")}
}

func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQueryParam(w, r, nil, nil)
	if !ok {
		return
	}
	apps, err := h.store.ListApplications(q)
	if err != nil {
		h.logger.Error("failed to list applications", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, apps)
}

func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var app model.Application
	if !decodeJSON(w, r, &app) {
		return
	}
	created, err := h.store.CreateApplication(app)
	if err != nil {
		HandleError(w, err)
		return
	}
	Created(w, created)
}

func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.store.GetApplication(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, app)
}

func (h *ApplicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeJSON(w, r, &patch) {
		return
	}
	app, err := h.store.UpdateApplication(chi.URLParam(r, "id"), patch)
	if err != nil {
		HandleError(w, err)
		return
	}
	Ok(w, app)
}

func (h *ApplicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteApplication(chi.URLParam(r, "id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}
