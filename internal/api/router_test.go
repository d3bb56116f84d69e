package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/jobengine"
	"github.com/perfectstorm/coordinator/internal/liveness"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/repo"
	"github.com/perfectstorm/coordinator/internal/store"
	"github.com/perfectstorm/coordinator/internal/websocket"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := eventlog.New(db, eventlog.DefaultConfig())
	repoStore := repo.New(db, events)
	engine := jobengine.New(repoStore, nil)
	sweeper := liveness.New(repoStore, liveness.DefaultTimeout, 0, zap.NewNop())
	hub := websocket.NewHub()

	return NewRouter(RouterConfig{
		Store: repoStore,
		Engine: engine,
		Sweeper: sweeper,
		Events: events,
		Hub: hub,
		Logger: zap.NewNop(),
	})
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal(body) error = %v", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetAgentRoundTrip(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/agents", model.Agent{Type: "collector"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /v1/agents status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created model.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created agent: %v", err)
	}
	if created.ID == "" || created.Type != "collector" {
		t.Fatalf("created agent = %+v, want populated ID and type=collector", created)
	}

	rec = doRequest(t, r, http.MethodGet, "/v1/agents/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/agents/%s status = %d, body = %s", created.ID, rec.Code, rec.Body.String())
	}
	var fetched model.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("unmarshal fetched agent: %v", err)
	}
	if fetched.ID != created.ID {
		t.Errorf("fetched.ID = %q, want %q", fetched.ID, created.ID)
	}
}

func TestGetAgentNotFoundReturnsDetailBody(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(t, r, http.MethodGet, "/v1/agents/agt-does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if _, ok := body["detail"]; !ok {
		t.Errorf("body = %v, want a \"detail\" key (general error shape)", body)
	}
}

func TestCreateAgentValidationErrorIsFieldKeyed(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/agents", model.Agent{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal validation body: %v", err)
	}
	if _, ok := body["type"]; !ok {
		t.Errorf("body = %v, want a \"type\" field error (validation shape)", body)
	}
}

func TestEventsListReturnsAppendedEvents(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/agents", model.Agent{Type: "collector"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /v1/agents status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/v1/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/events status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var events []model.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 || events[0].EntityType != model.EntityAgent {
		t.Errorf("events = %+v, want exactly one agent-created event", events)
	}
}

func TestHealthzAndMetricsEndpointsRespond(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(t, r, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", rec.Code)
	}
}
