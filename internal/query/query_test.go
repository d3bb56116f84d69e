package query

import "testing"

func mustParse(t *testing.T, q map[string]any) Node {
	t.Helper()
	n, err := Parse(q, nil, nil)
	if err != nil {
		t.Fatalf("Parse(%v) error = %v", q, err)
	}
	return n
}

func TestBareEquality(t *testing.T) {
	n := mustParse(t, map[string]any{"type": "alpha"})
	if !n.Eval(map[string]any{"type": "alpha"}) {
		t.Error("expected match")
	}
	if n.Eval(map[string]any{"type": "beta"}) {
		t.Error("expected no match")
	}
}

func TestImplicitAnd(t *testing.T) {
	n := mustParse(t, map[string]any{"type": "alpha", "status": "running"})
	if !n.Eval(map[string]any{"type": "alpha", "status": "running"}) {
		t.Error("expected match on both fields")
	}
	if n.Eval(map[string]any{"type": "alpha", "status": "stopped"}) {
		t.Error("expected no match when one field differs")
	}
}

func TestOperators(t *testing.T) {
	cases := []struct {
		name string
		q map[string]any
		doc map[string]any
		match bool
	}{
		{"gt true", map[string]any{"n": map[string]any{"$gt": 5.0}}, map[string]any{"n": 10.0}, true},
		{"gt false", map[string]any{"n": map[string]any{"$gt": 5.0}}, map[string]any{"n": 1.0}, false},
		{"in true", map[string]any{"type": map[string]any{"$in": []any{"a", "b"}}}, map[string]any{"type": "b"}, true},
		{"in false", map[string]any{"type": map[string]any{"$in": []any{"a", "b"}}}, map[string]any{"type": "c"}, false},
		{"startsWith", map[string]any{"name": map[string]any{"$startsWith": "web-"}}, map[string]any{"name": "web-01"}, true},
		{"endsWith", map[string]any{"name": map[string]any{"$endsWith": "-01"}}, map[string]any{"name": "web-01"}, true},
		{"contains", map[string]any{"name": map[string]any{"$contains": "eb-0"}}, map[string]any{"name": "web-01"}, true},
		{"regex", map[string]any{"name": map[string]any{"$regex": "^web-[0-9]+$"}}, map[string]any{"name": "web-01"}, true},
		{"ne true", map[string]any{"type": map[string]any{"$ne": "beta"}}, map[string]any{"type": "alpha"}, true},
		{"ne absent field", map[string]any{"type": map[string]any{"$ne": "beta"}}, map[string]any{}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n := mustParse(t, c.q)
			if got := n.Eval(c.doc); got != c.match {
				t.Errorf("Eval = %v, want %v", got, c.match)
			}
		})
	}
}

func TestAndOr(t *testing.T) {
	q := map[string]any{
		"$or": []any{
			map[string]any{"type": "alpha"},
			map[string]any{"type": "beta"},
		},
	}
	n := mustParse(t, q)
	if !n.Eval(map[string]any{"type": "alpha"}) || !n.Eval(map[string]any{"type": "beta"}) {
		t.Error("expected $or to match either branch")
	}
	if n.Eval(map[string]any{"type": "gamma"}) {
		t.Error("expected $or to reject neither branch")
	}
}

func TestNot(t *testing.T) {
	q := map[string]any{"$not": map[string]any{"type": "alpha"}}
	n := mustParse(t, q)
	if n.Eval(map[string]any{"type": "alpha"}) {
		t.Error("expected $not to reject matching branch")
	}
	if !n.Eval(map[string]any{"type": "beta"}) {
		t.Error("expected $not to accept non-matching branch")
	}
}

func TestDottedPath(t *testing.T) {
	n := mustParse(t, map[string]any{"snapshot.region": "us-east"})
	doc := map[string]any{"snapshot": map[string]any{"region": "us-east"}}
	if !n.Eval(doc) {
		t.Error("expected dotted path to resolve nested field")
	}
}

func TestUnrecognizedOperatorStripped(t *testing.T) {
	q := map[string]any{"$bogus": "whatever", "type": "alpha"}
	n := mustParse(t, q)
	if !n.Eval(map[string]any{"type": "alpha"}) {
		t.Error("expected unrecognized operator key to be ignored, not fail the query")
	}
}

func TestReferenceResolutionDropsClauseOnFailure(t *testing.T) {
	refFields := ReferenceFields{"owner": true}
	resolve := func(field string, value any) (string, bool) {
		return "", false // simulate lookup failure
	}
	n, err := Parse(map[string]any{"owner": "nonexistent", "type": "alpha"}, refFields, resolve)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	// Dropped clause becomes trivially true; "type" must still constrain.
	if !n.Eval(map[string]any{"type": "alpha"}) {
		t.Error("expected dropped reference clause not to block an otherwise-matching doc")
	}
	if n.Eval(map[string]any{"type": "beta"}) {
		t.Error("expected remaining clause to still be enforced")
	}
}

func TestReferenceResolutionSucceeds(t *testing.T) {
	refFields := ReferenceFields{"owner": true}
	resolve := func(field string, value any) (string, bool) {
		if value == "my-agent" {
			return "agt-resolvedresolvedresolved", true
		}
		return "", false
	}
	n, err := Parse(map[string]any{"owner": "my-agent"}, refFields, resolve)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !n.Eval(map[string]any{"owner": "agt-resolvedresolvedresolved"}) {
		t.Error("expected resolved id to be used for comparison")
	}
}

func TestEmptyQueryMatchesEverything(t *testing.T) {
	n := mustParse(t, map[string]any{})
	if !n.Eval(map[string]any{"anything": true}) {
		t.Error("expected empty query to match any document")
	}
}
