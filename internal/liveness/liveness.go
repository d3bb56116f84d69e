// Package liveness implements the heartbeat-expiry sweep:
// an Agent that hasn't sent a heartbeat within the liveness timeout is
// marked offline and every Job it owns is requeued. The sweep runs on a
// fixed interval via gocron in singleton mode (so a slow sweep is never
// overlapped by the next tick), and can also be triggered opportunistically
// from the HTTP layer (e.g. before listing or getting an Agent) — both
// paths go through Sweeper.Sweep(), which throttles itself to at most one
// real sweep per interval regardless of how often it's called.
package liveness

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/metrics"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
)

// DefaultTimeout is the heartbeat staleness threshold: an agent with no
// heartbeat in the last 60s is considered dead.
const DefaultTimeout = 60 * time.Second

// DefaultInterval is the sweep cadence. Ten seconds keeps the sweep cheap
// while still reacting well inside one liveness timeout window.
const DefaultInterval = 10 * time.Second

// AgentStore is the slice of internal/repo.Store the sweep needs.
type AgentStore interface {
	ListAgents(q query.Node) ([]model.Agent, error)
	MarkOffline(id string) error
}

// Sweeper owns the mutex-guarded throttle and the sweep logic itself. The
// zero value is not usable — build one with New.
type Sweeper struct {
	store AgentStore
	timeout time.Duration
	interval time.Duration
	logger *zap.Logger

	mu sync.Mutex
	lastSwept time.Time
}

// New builds a Sweeper. A zero timeout/interval defaults to
// DefaultTimeout/DefaultInterval.
func New(store AgentStore, timeout, interval time.Duration, logger *zap.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store: store,
		timeout: timeout,
		interval: interval,
		logger: logger.Named("liveness"),
	}
}

// Sweep marks every Agent whose heartbeat is older than the liveness
// timeout as offline, requeuing its owned Jobs (via AgentStore.MarkOffline,
// which does both atomically). Calls within one interval of the previous
// sweep are no-ops, so the HTTP layer's opportunistic trigger and the
// periodic gocron tick never race each other into a duplicate pass.
func (s *Sweeper) Sweep() {
	s.mu.Lock()
	if !s.lastSwept.IsZero() && time.Since(s.lastSwept) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastSwept = time.Now()
	s.mu.Unlock()

	start := time.Now()
	defer func() { metrics.LivenessSweepDuration.Observe(time.Since(start).Seconds()) }()

	agents, err := s.store.ListAgents(nil)
	if err != nil {
		s.logger.Error("failed to list agents for liveness sweep", zap.Error(err))
		return
	}

	cutoff := time.Now().UTC().Add(-s.timeout)
	var swept int
	for _, a := range agents {
		if a.Status != model.AgentStatusOnline {
			continue
		}
		if a.Heartbeat.After(cutoff) {
			continue
		}
		if err := s.store.MarkOffline(a.ID); err != nil {
			s.logger.Error("failed to mark agent offline", zap.String("agent_id", a.ID), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		metrics.LivenessAgentsSweptTotal.Add(float64(swept))
		s.logger.Info("liveness sweep marked agents offline", zap.Int("count", swept))
	}
}

// Start registers the periodic sweep job on cron in singleton mode — a tick
// that fires while the previous sweep is still running is rescheduled
// rather than run concurrently.
func (s *Sweeper) Start(cron gocron.Scheduler) (gocron.Job, error) {
	job, err := cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.Sweep),
		gocron.WithTags("liveness-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("liveness: gocron.NewJob failed: %w", err)
	}
	return job, nil
}
