package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/jobengine"
	"github.com/perfectstorm/coordinator/internal/liveness"
	"github.com/perfectstorm/coordinator/internal/repo"
	"github.com/perfectstorm/coordinator/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go once every component is constructed, and passed to
// NewRouter as a single struct to keep the constructor signature manageable
// as the number of dependencies grows.
type RouterConfig struct {
	Store *repo.Store
	Engine *jobengine.Engine
	Sweeper *liveness.Sweeper
	Events *eventlog.Log
	Hub *websocket.Hub
	Logger *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. The entity
// and event routes are registered under /v1, and /healthz and /metrics at
// the root — there is no authentication layer (Non-goals) and no GUI to
// serve.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID for each request, used in logs.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	agentHandler := NewAgentHandler(cfg.Store, cfg.Sweeper, cfg.Logger)
	resourceHandler := NewResourceHandler(cfg.Store, cfg.Logger)
	groupHandler := NewGroupHandler(cfg.Store, cfg.Logger)
	appHandler := NewApplicationHandler(cfg.Store, cfg.Logger)
	procedureHandler := NewProcedureHandler(cfg.Store, cfg.Engine, cfg.Logger)
	jobHandler := NewJobHandler(cfg.Store, cfg.Logger)
	eventHandler := NewEventHandler(cfg.Events, cfg.Hub, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", agentHandler.List)
			r.Post("/", agentHandler.Create)
			r.Get("/{id}", agentHandler.Get)
			r.Patch("/{id}", agentHandler.Update)
			r.Delete("/{id}", agentHandler.Delete)
			r.Post("/{id}/heartbeat", agentHandler.Heartbeat)
		})

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", resourceHandler.List)
			r.Post("/", resourceHandler.Create)
			r.Get("/{id}", resourceHandler.Get)
			r.Patch("/{id}", resourceHandler.Update)
			r.Delete("/{id}", resourceHandler.Delete)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", groupHandler.List)
			r.Post("/", groupHandler.Create)
			r.Get("/{id}", groupHandler.Get)
			r.Patch("/{id}", groupHandler.Update)
			r.Delete("/{id}", groupHandler.Delete)
			r.Get("/{id}/members", groupHandler.ListMembers)
			r.Post("/{id}/members", groupHandler.SetMembers)
		})

		r.Route("/apps", func(r chi.Router) {
			r.Get("/", appHandler.List)
			r.Post("/", appHandler.Create)
			r.Get("/{id}", appHandler.Get)
			r.Patch("/{id}", appHandler.Update)
			r.Delete("/{id}", appHandler.Delete)
		})

		r.Route("/procedures", func(r chi.Router) {
			r.Get("/", procedureHandler.List)
			r.Post("/", procedureHandler.Create)
			r.Get("/{id}", procedureHandler.Get)
			r.Patch("/{id}", procedureHandler.Update)
			r.Delete("/{id}", procedureHandler.Delete)
			r.Post("/{id}/exec", procedureHandler.Exec)
			r.Post("/{id}/attach", procedureHandler.Attach)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.List)
			r.Get("/{id}", jobHandler.Get)
			r.Patch("/{id}", jobHandler.Update)
			r.Delete("/{id}", jobHandler.Delete)
			r.Post("/{id}/handle", jobHandler.Handle)
			r.Post("/{id}/complete", jobHandler.Complete)
			r.Post("/{id}/fail", jobHandler.Fail)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventHandler.List)
			r.Get("/ws", eventHandler.ServeWS)
		})
	})

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
