package subscription

import (
	"testing"

	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
)

type fakeSubs struct {
	byGroup map[string][]model.Subscription
}

func (f *fakeSubs) NonDanglingSubscriptions() (map[string][]model.Subscription, error) {
	return f.byGroup, nil
}

type fakeGroups struct {
	byID map[string]model.Group
}

func (f *fakeGroups) GetGroup(id string) (model.Group, error) {
	g, ok := f.byID[id]
	if !ok {
		return model.Group{}, notFound{}
	}
	return g, nil
}

type notFound struct{}

func (notFound) Error() string { return "not found" }

type fakeResources struct {
	byID map[string]model.Resource
}

func (f *fakeResources) ListResources(q query.Node) ([]model.Resource, error) {
	var out []model.Resource
	for _, r := range f.byID {
		doc, err := model.ToDoc(r)
		if err != nil {
			return nil, err
		}
		if q.Eval(doc) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeResources) GetResource(id string) (model.Resource, error) {
	r, ok := f.byID[id]
	if !ok {
		return model.Resource{}, notFound{}
	}
	return r, nil
}

type recordingEngine struct {
	calls []execCall
}

type execCall struct {
	procedure string
	target string
	options map[string]any
	params map[string]any
}

func (e *recordingEngine) Exec(procedure, target string, options, params map[string]any) (model.Job, error) {
	e.calls = append(e.calls, execCall{procedure, target, options, params})
	return model.Job{ID: "job-x"}, nil
}

func TestDispatchFiresSubscriptionForMemberEntity(t *testing.T) {
	subs := &fakeSubs{byGroup: map[string][]model.Subscription{
		"grp-1": {{ID: "sub-1", Group: "grp-1", Procedure: "prc-1", Target: "res-target", Params: map[string]any{"base": true}}},
	}}
	groups := &fakeGroups{byID: map[string]model.Group{
		"grp-1": {ID: "grp-1", Include: []string{"res-1"}},
	}}
	resources := &fakeResources{byID: map[string]model.Resource{
		"res-1": {ID: "res-1", Type: "svc"},
	}}
	engine := &recordingEngine{}
	d := New(subs, groups, resources, engine, zap.NewNop())

	err := d.Dispatch(model.Event{ID: 5, EventType: model.EventUpdated, EntityType: model.EntityResource, EntityID: "res-1"})
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(engine.calls))
	}
	call := engine.calls[0]
	if call.procedure != "prc-1" || call.target != "res-target" {
		t.Errorf("call = %+v, want procedure=prc-1 target=res-target", call)
	}
	if call.params["base"] != true {
		t.Errorf("params missing base subscription param: %v", call.params)
	}
	ev, ok := call.params["event"].(map[string]any)
	if !ok || ev["entity_id"] != "res-1" {
		t.Errorf("params[event] = %v, want synthesized event describing the trigger", call.params["event"])
	}
}

func TestDispatchSkipsGroupsWithoutTheEntity(t *testing.T) {
	subs := &fakeSubs{byGroup: map[string][]model.Subscription{
		"grp-1": {{ID: "sub-1", Group: "grp-1", Procedure: "prc-1", Target: "res-target"}},
	}}
	groups := &fakeGroups{byID: map[string]model.Group{
		"grp-1": {ID: "grp-1", Include: []string{"res-other"}},
	}}
	resources := &fakeResources{byID: map[string]model.Resource{
		"res-other": {ID: "res-other", Type: "svc"},
	}}
	engine := &recordingEngine{}
	d := New(subs, groups, resources, engine, zap.NewNop())

	if err := d.Dispatch(model.Event{ID: 1, EntityID: "res-1"}); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	if len(engine.calls) != 0 {
		t.Errorf("calls = %d, want 0 (event entity is not a member of grp-1)", len(engine.calls))
	}
}

type fakeEvents struct {
	events []model.Event
	lastID int64
}

func (f *fakeEvents) After(lastSeen int64) ([]model.Event, error) {
	var out []model.Event
	for _, ev := range f.events {
		if ev.ID > lastSeen {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) LastID() int64 { return f.lastID }

func TestTickSkipsBacklogOnFirstCall(t *testing.T) {
	subs := &fakeSubs{byGroup: map[string][]model.Subscription{}}
	groups := &fakeGroups{byID: map[string]model.Group{}}
	resources := &fakeResources{byID: map[string]model.Resource{}}
	engine := &recordingEngine{}
	d := New(subs, groups, resources, engine, zap.NewNop())

	events := &fakeEvents{
		events: []model.Event{{ID: 1, EntityID: "res-1"}, {ID: 2, EntityID: "res-1"}},
		lastID: 2,
	}
	d.Tick(events)
	if len(engine.calls) != 0 {
		t.Errorf("first Tick dispatched %d events, want 0 (backlog must not replay)", len(engine.calls))
	}
}

func TestTickDispatchesNewEventsAfterBaseline(t *testing.T) {
	subs := &fakeSubs{byGroup: map[string][]model.Subscription{
		"grp-1": {{ID: "sub-1", Group: "grp-1", Procedure: "prc-1", Target: "res-target"}},
	}}
	groups := &fakeGroups{byID: map[string]model.Group{
		"grp-1": {ID: "grp-1", Include: []string{"res-1"}},
	}}
	resources := &fakeResources{byID: map[string]model.Resource{
		"res-1": {ID: "res-1", Type: "svc"},
	}}
	engine := &recordingEngine{}
	d := New(subs, groups, resources, engine, zap.NewNop())

	events := &fakeEvents{lastID: 2}
	d.Tick(events) // establishes baseline at 2, no dispatch

	events.events = []model.Event{{ID: 3, EntityID: "res-1"}}
	d.Tick(events)

	if len(engine.calls) != 1 {
		t.Fatalf("calls = %d, want 1 for the one new event", len(engine.calls))
	}
}

func TestDispatchSkipsDanglingGroup(t *testing.T) {
	subs := &fakeSubs{byGroup: map[string][]model.Subscription{
		"grp-missing": {{ID: "sub-1", Group: "grp-missing", Procedure: "prc-1", Target: "res-target"}},
	}}
	groups := &fakeGroups{byID: map[string]model.Group{}}
	resources := &fakeResources{byID: map[string]model.Resource{}}
	engine := &recordingEngine{}
	d := New(subs, groups, resources, engine, zap.NewNop())

	if err := d.Dispatch(model.Event{ID: 1, EntityID: "res-1"}); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	if len(engine.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(engine.calls))
	}
}
