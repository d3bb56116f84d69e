package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/eventlog"
)

// Forward tails log and republishes every new event onto hub, on TopicAll
// and on the event's own EntityTopic. Unlike internal/subscription's
// gocron-scheduled poll, this runs as one long-lived loop blocked in
// eventlog.Log.Wait — the real-time push transport has no reason to batch
// or throttle the way a scheduled dispatch does. It returns when ctx is
// cancelled.
func Forward(ctx context.Context, log *eventlog.Log, hub *Hub, logger *zap.Logger) {
	lastSeen := log.LastID()
	for {
		events, woke, err := log.Wait(ctx, lastSeen)
		if err != nil {
			return // ctx cancelled
		}
		if !woke {
			continue
		}
		for _, ev := range events {
			hub.Publish(TopicAll, ev)
			hub.Publish(EntityTopic(ev.EntityType, ev.EntityID), ev)
			if ev.ID > lastSeen {
				lastSeen = ev.ID
			}
		}
		logger.Debug("ws: forwarded events", zap.Int("count", len(events)))
	}
}
