package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/perfectstorm/coordinator/internal/model"
)

func TestRefreshSetsJobAndAgentGaugesFromStoreState(t *testing.T) {
	jobs := []model.Job{
		{ID: "job-1", Status: model.JobStatusPending},
		{ID: "job-2", Status: model.JobStatusPending},
		{ID: "job-3", Status: model.JobStatusDone},
	}
	agents := []model.Agent{
		{ID: "agent-1", Status: model.AgentStatusOnline},
	}
	events := &fakeEventStore{n: 42}

	r := NewReporter(
		func() ([]model.Job, error) { return jobs, nil },
		func() ([]model.Agent, error) { return agents, nil },
		events,
	)
	r.Refresh()

	if got := testutil.ToFloat64(JobsByStatus.WithLabelValues(model.JobStatusPending)); got != 2 {
		t.Errorf("JobsByStatus[pending] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(JobsByStatus.WithLabelValues(model.JobStatusDone)); got != 1 {
		t.Errorf("JobsByStatus[done] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(AgentsByStatus.WithLabelValues(model.AgentStatusOnline)); got != 1 {
		t.Errorf("AgentsByStatus[online] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(EventLogSize); got != 42 {
		t.Errorf("EventLogSize = %v, want 42", got)
	}
}

func TestRefreshResetsStaleStatusLabelsBetweenRuns(t *testing.T) {
	events := &fakeEventStore{n: 0}
	r := NewReporter(
		func() ([]model.Job, error) { return []model.Job{{ID: "job-1", Status: model.JobStatusRunning}}, nil },
		func() ([]model.Agent, error) { return nil, nil },
		events,
	)
	r.Refresh()
	if got := testutil.ToFloat64(JobsByStatus.WithLabelValues(model.JobStatusRunning)); got != 1 {
		t.Fatalf("JobsByStatus[running] = %v, want 1 after first refresh", got)
	}

	r2 := NewReporter(
		func() ([]model.Job, error) { return []model.Job{{ID: "job-1", Status: model.JobStatusDone}}, nil },
		func() ([]model.Agent, error) { return nil, nil },
		events,
	)
	r2.Refresh()

	if got := testutil.ToFloat64(JobsByStatus.WithLabelValues(model.JobStatusRunning)); got != 0 {
		t.Errorf("JobsByStatus[running] = %v, want 0 after the job moved to done", got)
	}
	if got := testutil.ToFloat64(JobsByStatus.WithLabelValues(model.JobStatusDone)); got != 1 {
		t.Errorf("JobsByStatus[done] = %v, want 1", got)
	}
}

type fakeEventStore struct{ n int }

func (f *fakeEventStore) Len() (int, error) { return f.n, nil }
