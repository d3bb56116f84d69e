// Package subscription implements subscription dispatch: on
// every Event, the non-dangling Subscriptions are grouped by the Group
// they reference; for each group whose current membership includes the
// event's entity, every subscription in that group fires its Procedure
// against its stored target, with the event appended to params.
package subscription

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/groupengine"
	"github.com/perfectstorm/coordinator/internal/metrics"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
)

// EventSource is the slice of eventlog.Log that the dispatch tick needs to
// page forward through newly appended events.
type EventSource interface {
	After(lastSeen int64) ([]model.Event, error)
	LastID() int64
}

// SubscriptionSource is the slice of internal/repo.Store that Dispatch needs
// to find which subscriptions are live.
type SubscriptionSource interface {
	NonDanglingSubscriptions() (map[string][]model.Subscription, error)
}

// GroupSource resolves a group by id for membership evaluation.
type GroupSource interface {
	GetGroup(idOrName string) (model.Group, error)
}

// Execer is the slice of jobengine.Engine that Dispatch needs.
type Execer interface {
	Exec(procedureIDOrName, targetIDOrName string, optionsOverride, paramsOverride map[string]any) (model.Job, error)
}

// Dispatcher wires subscription lookup, group membership evaluation, and
// job execution together. The zero value is not usable — build one with New.
//
// mu/lastDispatched is the one piece of process-wide mutable state this
// package owns: the id of the most recently dispatched event, guarding
// against the periodic tick re-dispatching an event it already handled.
type Dispatcher struct {
	subs SubscriptionSource
	groups GroupSource
	resources groupengine.ResourceSource
	engine Execer
	logger *zap.Logger

	mu sync.Mutex
	lastDispatched int64
	baselined bool
}

// New builds a Dispatcher.
func New(subs SubscriptionSource, groups GroupSource, resources groupengine.ResourceSource, engine Execer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs: subs,
		groups: groups,
		resources: resources,
		engine: engine,
		logger: logger.Named("subscription"),
	}
}

// Dispatch handles a single Event: load all non-dangling
// subscriptions grouped by group id, and for each group whose membership
// (intersected with {event.EntityID}) is non-empty, exec every subscription
// in that group against its stored target with options/params plus a
// synthesized "event" param describing the trigger.
func (d *Dispatcher) Dispatch(event model.Event) error {
	byGroup, err := d.subs.NonDanglingSubscriptions()
	if err != nil {
		return fmt.Errorf("subscription: load non-dangling subscriptions: %w", err)
	}

	idFilter, err := query.Parse(map[string]any{"id": event.EntityID}, nil, nil)
	if err != nil {
		return fmt.Errorf("subscription: build entity filter: %w", err)
	}

	for groupID, subs := range byGroup {
		group, err := d.groups.GetGroup(groupID)
		if err != nil {
			continue // group vanished between the load and now: treat as dangling
		}

		members, err := groupengine.Members(group, idFilter, nil, nil, d.resources)
		if err != nil {
			d.logger.Error("failed to evaluate group membership", zap.String("group_id", groupID), zap.Error(err))
			continue
		}
		if len(members) == 0 {
			continue
		}

		for _, sub := range subs {
			params := mergeEventParam(sub.Params, event)
			if _, err := d.engine.Exec(sub.Procedure, sub.Target, sub.Options, params); err != nil {
				metrics.SubscriptionExecTotal.WithLabelValues("error").Inc()
				d.logger.Error("subscription dispatch exec failed",
					zap.String("subscription_id", sub.ID),
					zap.String("group_id", groupID),
					zap.Error(err))
				continue
			}
			metrics.SubscriptionExecTotal.WithLabelValues("ok").Inc()
		}
	}
	return nil
}

// Tick pages forward from the last dispatched event id through every event
// appended since, dispatching each in order. Safe to call concurrently with
// itself only insofar as gocron's singleton mode already guarantees it
// won't be — Tick itself assumes single-caller use per Dispatcher.
func (d *Dispatcher) Tick(events EventSource) {
	start := time.Now()
	defer func() { metrics.SubscriptionDispatchDuration.Observe(time.Since(start).Seconds()) }()

	d.mu.Lock()
	from := d.lastDispatched
	if !d.baselined {
		// First tick after startup: don't replay the entire backlog,
		// start from the current tail.
		d.baselined = true
		from = events.LastID()
		d.lastDispatched = from
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	batch, err := events.After(from)
	if err != nil {
		d.logger.Error("failed to page events for dispatch", zap.Error(err))
		return
	}
	for _, ev := range batch {
		if err := d.Dispatch(ev); err != nil {
			d.logger.Error("dispatch failed", zap.Int64("event_id", ev.ID), zap.Error(err))
		}
		d.mu.Lock()
		if ev.ID > d.lastDispatched {
			d.lastDispatched = ev.ID
		}
		d.mu.Unlock()
	}
}

// Start registers the periodic dispatch tick on cron in singleton mode,
// mirroring internal/liveness.Sweeper.Start.
func (d *Dispatcher) Start(cron gocron.Scheduler, events EventSource, interval time.Duration) (gocron.Job, error) {
	job, err := cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { d.Tick(events) }),
		gocron.WithTags("subscription-dispatch"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("subscription: gocron.NewJob failed: %w", err)
	}
	return job, nil
}

// mergeEventParam returns base with a synthesized "event" key describing
// the trigger. Neither base nor the event are mutated.
func mergeEventParam(base map[string]any, event model.Event) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["event"] = map[string]any{
		"id": event.ID,
		"event_type": event.EventType,
		"entity_type": event.EntityType,
		"entity_id": event.EntityID,
	}
	return out
}
