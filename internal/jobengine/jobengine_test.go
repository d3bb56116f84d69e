package jobengine

import (
	"testing"

	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/model"
)

type fakeStore struct {
	procedures map[string]model.Procedure
	resources map[string]model.Resource
	inserted []model.Job
}

func (f *fakeStore) GetProcedure(id string) (model.Procedure, error) {
	p, ok := f.procedures[id]
	if !ok {
		return model.Procedure{}, apperr.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetResource(id string) (model.Resource, error) {
	r, ok := f.resources[id]
	if !ok {
		return model.Resource{}, apperr.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) InsertJob(j model.Job) (model.Job, error) {
	j.ID = "job-inserted"
	f.inserted = append(f.inserted, j)
	return j, nil
}

type recordingRenderer struct {
	gotContent string
	gotParams map[string]any
}

func (r *recordingRenderer) Render(content string, _ model.Resource, params map[string]any) (string, error) {
	r.gotContent = content
	r.gotParams = params
	return "rendered:" + content, nil
}

func newFixture() *fakeStore {
	return &fakeStore{
		procedures: map[string]model.Procedure{
			"prc-1": {ID: "prc-1", Type: "restart", Content: "tmpl", Options: map[string]any{"a": 1}, Params: map[string]any{"x": "base"}},
		},
		resources: map[string]model.Resource{
			"res-1": {ID: "res-1", Type: "svc"},
		},
	}
}

func TestExecComposesAndInserts(t *testing.T) {
	store := newFixture()
	renderer := &recordingRenderer{}
	e := New(store, renderer)

	job, err := e.Exec("prc-1", "res-1", map[string]any{"b": 2}, map[string]any{"x": "override"})
	if err != nil {
		t.Fatalf("Exec error = %v", err)
	}
	if job.Status != model.JobStatusPending || job.Owner != nil {
		t.Errorf("job = %+v, want pending with no owner", job)
	}
	if job.Content != "rendered:tmpl" {
		t.Errorf("job.Content = %q, want rendered content", job.Content)
	}
	if job.Options["a"] != 1 || job.Options["b"] != 2 {
		t.Errorf("job.Options = %v, want union of procedure and override options", job.Options)
	}
	if job.Params["x"] != "override" {
		t.Errorf("job.Params[x] = %v, want override to win", job.Params["x"])
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d jobs, want 1", len(store.inserted))
	}
}

func TestExecUnknownProcedureFails(t *testing.T) {
	store := newFixture()
	e := New(store, nil)
	if _, err := e.Exec("prc-missing", "res-1", nil, nil); err == nil {
		t.Fatal("expected error for unknown procedure")
	}
}

func TestExecUnknownTargetFails(t *testing.T) {
	store := newFixture()
	e := New(store, nil)
	if _, err := e.Exec("prc-1", "res-missing", nil, nil); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestIdentityRendererIsDefault(t *testing.T) {
	store := newFixture()
	e := New(store, nil)
	job, err := e.Exec("prc-1", "res-1", nil, nil)
	if err != nil {
		t.Fatalf("Exec error = %v", err)
	}
	if job.Content != "tmpl" {
		t.Errorf("job.Content = %q, want unchanged template content from IdentityRenderer", job.Content)
	}
}
