package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/websocket"
)

// EventHandler groups the Event HTTP handlers (`/v1/events`): plain
// list/get, the chunked-JSON-lines long poll (`?stream=true`), and the
// supplementary websocket upgrade.
type EventHandler struct {
	log *eventlog.Log
	hub *websocket.Hub
	logger *zap.Logger
}

func NewEventHandler(log *eventlog.Log, hub *websocket.Hub, logger *zap.Logger) *EventHandler {
	return &EventHandler{log: log, hub: hub, logger: logger.Named("event_handler")}
}

// List handles GET /v1/events: without `?stream=true`, returns the slice
// [start, start+count); when `start` is omitted, the tail `?count=` events
// (default 128) are returned instead. With `?stream=true`, delegates to
// the chunked long-poll in Stream.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "true" {
		h.Stream(w, r)
		return
	}

	count := 128
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	var start int64
	if v := r.URL.Query().Get("start"); v != "" {
		s, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			ErrBadRequest(w, "start must be an integer event id")
			return
		}
		start = s
	}

	events, err := h.log.List(start, count)
	if err != nil {
		h.logger.Error("failed to list events", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, events)
}

// Stream implements GET /v1/events?stream=true[&start=S]: a chunked
// response that immediately flushes one blank line to confirm the headers
// are live, then writes one JSON object per line per new event, with a
// blank-line keep-alive at least every 10s (KeepAliveInterval) while idle.
// The connection stays open until the client disconnects, detected on the
// next write.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		ErrInternal(w)
		return
	}
	// This handler intentionally outlives httpSrv.WriteTimeout —
	// clear the per-connection write deadline so the server's fixed timeout
	// doesn't cut the long poll short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	lastSeen := h.log.LastID()
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastSeen = start
		}
	}

	if _, err := w.Write([]byte("\n")); err != nil {
		return
	}
	flusher.Flush()

	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		events, woke, err := h.log.Wait(ctx, lastSeen)
		if err != nil {
			return // client disconnected (ctx canceled) or fatal store error
		}
		if !woke {
			if _, werr := w.Write([]byte("\n")); werr != nil {
				return
			}
			flusher.Flush()
			continue
		}
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return
			}
			if ev.ID > lastSeen {
				lastSeen = ev.ID
			}
		}
		flusher.Flush()
	}
}

// ServeWS handles GET /v1/events/ws: the gorilla/websocket supplementary
// transport, pushing the same event JSON objects as individual text
// frames. `?topic=` narrows to one entity topic (e.g. `job:<id>`);
// omitted, the client receives every event.
func (h *EventHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	topics := []string{websocket.TopicAll}
	if t := r.URL.Query().Get("topic"); t != "" {
		topics = []string{t}
	}

	client, err := websocket.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}
	h.logger.Info("ws: client connected", zap.String("remote_addr", r.RemoteAddr), zap.Strings("topics", topics))
	client.Run()
	h.logger.Info("ws: client disconnected", zap.String("remote_addr", r.RemoteAddr))
}
