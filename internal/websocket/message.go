// Package websocket implements the real-time pub/sub hub that pushes
// coordinator Events to connected clients over GET /v1/events/ws — the
// supplementary transport alongside the chunked-JSON long poll. It uses
// gorilla/websocket under the hood and exposes a topic-based broadcast API
// so a client can narrow the stream to events about one entity.
//
// Topic naming convention:
//
//	all — every event (the default when no entity topic is requested)
//	<entity_type>:<id> — events about one entity, e.g. "job:job-abc"
package websocket

import "github.com/perfectstorm/coordinator/internal/model"

// TopicAll is the catch-all topic a client is subscribed to when it does
// not request an entity-scoped topic.
const TopicAll = "all"

// EntityTopic returns the topic name for events about a specific entity,
// e.g. EntityTopic("job", "job-abc") -> "job:job-abc".
func EntityTopic(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// Message is the single WebSocket frame shape: the Event itself, wire-
// identical to what GET /v1/events returns, so a client can reuse the same
// decoder for both transports.
type Message = model.Event
