package groupengine

import (
	"sort"
	"testing"

	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
)

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
		return model.Resource{}, errNotFound
	}
	return r, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func ids(rs []model.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	sort.Strings(out)
	return out
}

func newFixture() *fakeResources {
	return &fakeResources{byID: map[string]model.Resource{
		"alpha-1": {ID: "alpha-1", Type: "alpha"},
		"alpha-2": {ID: "alpha-2", Type: "alpha"},
		"alpha-3": {ID: "alpha-3", Type: "alpha"},
		"beta-7": {ID: "beta-7", Type: "beta"},
	}}
}

func TestEmptyQueryAndEmptyIncludeIsEmptySet(t *testing.T) {
	f := newFixture()
	g := model.Group{}
	got, err := Members(g, nil, nil, nil, f)
	if err != nil {
		t.Fatalf("Members error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Members = %v, want empty set", ids(got))
	}
}

func TestQueryUnionIncludeMinusExclude(t *testing.T) {
	f := newFixture()
	g := model.Group{
		Query: map[string]any{"type": "alpha"},
		Include: []string{"beta-7"},
		Exclude: []string{"alpha-3"},
	}
	got, err := Members(g, nil, nil, nil, f)
	if err != nil {
		t.Fatalf("Members error = %v", err)
	}
	want := []string{"alpha-1", "alpha-2", "beta-7"}
	if gotIDs := ids(got); !equalSlices(gotIDs, want) {
		t.Errorf("Members = %v, want %v", gotIDs, want)
	}
}

func TestEmptyQueryWithNonEmptyIncludeUsesIncludeOnly(t *testing.T) {
	f := newFixture()
	g := model.Group{Include: []string{"alpha-1", "beta-7"}}
	got, err := Members(g, nil, nil, nil, f)
	if err != nil {
		t.Fatalf("Members error = %v", err)
	}
	want := []string{"alpha-1", "beta-7"}
	if gotIDs := ids(got); !equalSlices(gotIDs, want) {
		t.Errorf("Members = %v, want %v", gotIDs, want)
	}
}

func TestDanglingIncludeIsSkipped(t *testing.T) {
	f := newFixture()
	g := model.Group{Include: []string{"alpha-1", "gone-9999"}}
	got, err := Members(g, nil, nil, nil, f)
	if err != nil {
		t.Fatalf("Members error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "alpha-1" {
		t.Errorf("Members = %v, want only alpha-1", ids(got))
	}
}

func TestExtraFilterIntersects(t *testing.T) {
	f := newFixture()
	g := model.Group{Query: map[string]any{"type": "alpha"}}
	extra, err := query.Parse(map[string]any{"id": "alpha-2"}, nil, nil)
	if err != nil {
		t.Fatalf("query.Parse error = %v", err)
	}
	got, err := Members(g, extra, nil, nil, f)
	if err != nil {
		t.Fatalf("Members error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "alpha-2" {
		t.Errorf("Members = %v, want only alpha-2", ids(got))
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
