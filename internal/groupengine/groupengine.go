// Package groupengine implements Group membership:
// (evaluate(query) ∪ include) \ exclude, intersected with an optional
// caller-supplied extra filter (the `?q=` parameter on the members list
// endpoint). It is a thin composition over internal/query's translator and
// internal/repo's resource listing — the algebra itself has no state of its
// own.
package groupengine

import (
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
)

// ResourceSource is the slice of internal/repo.Store that Members needs.
// Accepting an interface rather than the concrete Store keeps this package
// testable without spinning up a real store.
type ResourceSource interface {
	ListResources(q query.Node) ([]model.Resource, error)
	GetResource(idOrName string) (model.Resource, error)
}

// Members computes group g's membership. extraFilter may be nil (no
// additional constraint — the plain `g.members` form); refFields/resolve
// may be nil if the group's query never touches a reference-typed field.
//
// If group.query is empty and include is empty, members is the empty set
// (never the full resource universe). The only way to honor that without
// also silently emptying `query: {"type": "a"}, include: []` is to treat
// an empty query as evaluating to the empty set in general, not just in
// that one combination — which is also the more intuitive reading of an
// "empty selector": it selects nothing on its own, letting include/exclude
// still take effect.
func Members(g model.Group, extraFilter query.Node, refFields query.ReferenceFields, resolve query.Resolver, resources ResourceSource) ([]model.Resource, error) {
	byID := make(map[string]model.Resource)

	if len(g.Query) > 0 {
		node, err := query.Parse(g.Query, refFields, resolve)
		if err != nil {
			return nil, err
		}
		matched, err := resources.ListResources(node)
		if err != nil {
			return nil, err
		}
		for _, r := range matched {
			byID[r.ID] = r
		}
	}

	for _, id := range g.Include {
		if _, ok := byID[id]; ok {
			continue
		}
		r, err := resources.GetResource(id)
		if err != nil {
			continue // dangling include: skip rather than fail the whole query
		}
		byID[r.ID] = r
	}

	exclude := make(map[string]bool, len(g.Exclude))
	for _, id := range g.Exclude {
		exclude[id] = true
	}

	out := make([]model.Resource, 0, len(byID))
	for id, r := range byID {
		if exclude[id] {
			continue
		}
		if extraFilter != nil {
			doc, err := model.ToDoc(r)
			if err != nil {
				return nil, err
			}
			if !extraFilter.Eval(doc) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}
