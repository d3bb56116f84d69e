package metrics

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/perfectstorm/coordinator/internal/model"
)

// EventStore is the slice of internal/eventlog.Log the gauge reporter needs.
type EventStore interface {
	Len() (int, error)
}

// Reporter periodically refreshes the gauge collectors (JobsByStatus,
// AgentsByStatus, EventLogSize) from current store state. Counters and
// histograms update themselves inline at the call site (see
// internal/liveness, internal/subscription, internal/api/middleware.go);
// gauges need a poll since nothing increments/decrements them directly.
type Reporter struct {
	jobs func() ([]model.Job, error)
	agents func() ([]model.Agent, error)
	events EventStore
}

// NewReporter builds a Reporter. listJobs/listAgents are expected to be
// closures over a *repo.Store calling ListJobs(nil)/ListAgents(nil) — kept
// as plain funcs here so this package doesn't need to import internal/query
// just to spell the nil query.Node.
func NewReporter(listJobs func() ([]model.Job, error), listAgents func() ([]model.Agent, error), events EventStore) *Reporter {
	return &Reporter{jobs: listJobs, agents: listAgents, events: events}
}

// Refresh recomputes every gauge from current store state.
func (r *Reporter) Refresh() {
	if jobs, err := r.jobs(); err == nil {
		counts := make(map[string]int)
		for _, j := range jobs {
			counts[j.Status]++
		}
		JobsByStatus.Reset()
		for status, n := range counts {
			JobsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}

	if agents, err := r.agents(); err == nil {
		counts := make(map[string]int)
		for _, a := range agents {
			counts[a.Status]++
		}
		AgentsByStatus.Reset()
		for status, n := range counts {
			AgentsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}

	if n, err := r.events.Len(); err == nil {
		EventLogSize.Set(float64(n))
	}
}

// Start registers Refresh as a periodic gocron job, the same singleton-mode
// wiring internal/liveness.Sweeper.Start and internal/subscription.Dispatcher.Start
// use.
func (r *Reporter) Start(cron gocron.Scheduler, interval time.Duration) (gocron.Job, error) {
	job, err := cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.Refresh),
		gocron.WithTags("metrics-reporter"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: gocron.NewJob failed: %w", err)
	}
	return job, nil
}
