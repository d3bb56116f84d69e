package query

import (
	"fmt"
)

// operators recognized at field level.
var fieldOps = map[string]bool{
	"$eq": true, "$ne": true, "$in": true, "$nin": true, "$regex": true,
	"$startsWith": true, "$endsWith": true, "$contains": true,
	"$gt": true, "$gte": true, "$lt": true, "$lte": true, "$not": true,
}

// maxDepth bounds nested operator trees. JSON decoded from a request body
// can never actually contain a cycle (it is a tree by construction), so this
// stands in as a reject-circular-references guard:
// a well-formed query never approaches this depth, and an attacker-crafted
// one that recurses indefinitely is rejected rather than blowing the stack.
const maxDepth = 64

// Resolver resolves a non-id scalar supplied for a reference-typed field to
// the concrete id it denotes. ok is false if no match was found, in which
// case the caller drops the clause entirely.
type Resolver func(field string, value any) (id string, ok bool)

// ReferenceFields names which fields of a particular entity kind are
// reference-valued. Parse consults ReferenceFields[field] to decide whether
// a bare scalar needs a Resolver pass.
type ReferenceFields map[string]bool

// Parse translates a user-supplied structured query (the operator dialect
// of $eq/$ne/$in/... clauses) into a Node the group engine and list-filter
// endpoints can evaluate. refFields and resolve may be nil if the entity
// kind being queried has no reference-typed fields.
func Parse(q map[string]any, refFields ReferenceFields, resolve Resolver) (Node, error) {
	return parseMap(q, refFields, resolve, 0)
}

func parseMap(q map[string]any, refFields ReferenceFields, resolve Resolver, depth int) (Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("query: exceeded maximum nesting depth %d", maxDepth)
	}
	if len(q) == 0 {
		return Literal{Value: true}, nil
	}

	var clauses []Node
	for key, val := range q {
		node, err := parseClause(key, val, refFields, resolve, depth)
		if err != nil {
			return nil, err
		}
		if node != nil {
			clauses = append(clauses, node)
		}
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return Logical{Kind: LogicalAnd, Children: clauses}, nil
}

// parseClause parses one key/value pair from a query map. Multiple keys in
// the same map are an implicit $and (handled by the caller collecting
// clauses); this function handles a single key.
func parseClause(key string, val any, refFields ReferenceFields, resolve Resolver, depth int) (Node, error) {
	switch key {
	case "$and", "$or":
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("query: %s requires an array of sub-queries", key)
		}
		kind := LogicalAnd
		if key == "$or" {
			kind = LogicalOr
		}
		children := make([]Node, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("query: %s item must be an object", key)
			}
			child, err := parseMap(m, refFields, resolve, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return Logical{Kind: kind, Children: children}, nil

	case "$not":
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("query: $not requires an object")
		}
		child, err := parseMap(m, refFields, resolve, depth+1)
		if err != nil {
			return nil, err
		}
		return Logical{Kind: LogicalNot, Children: []Node{child}}, nil

	default:
		return parseField(key, val, refFields, resolve, depth)
	}
}

// parseField handles a single "field: value" or "field: {operators}" entry.
// Defensive stripping: keys containing '$' or NUL that are not
// recognized operators are simply dropped (return nil, nil) rather than
// erroring, so a malformed or unexpected key never fails the whole query.
func parseField(field string, val any, refFields ReferenceFields, resolve Resolver, depth int) (Node, error) {
	// Any key reaching here containing '$' or NUL is not one of the
	// recognized top-level operators ($and/$or/$not, handled in
	// parseClause) — strip it defensively.
	if containsForbidden(field) {
		return nil, nil
	}

	if ops, ok := val.(map[string]any); ok && isOperatorMap(ops) {
		var children []Node
		for op, opVal := range ops {
			if !fieldOps[op] {
				continue // defensive strip of unrecognized operator-shaped key
			}
			if op == "$not" {
				inner, err := parseField(field, opVal, refFields, resolve, depth+1)
				if err != nil {
					return nil, err
				}
				if inner == nil {
					continue
				}
				children = append(children, Logical{Kind: LogicalNot, Children: []Node{inner}})
				continue
			}
			resolved, drop := maybeResolve(field, opVal, refFields, resolve)
			if drop {
				children = append(children, Literal{Value: true})
				continue
			}
			children = append(children, FieldCond{Field: field, Op: op, Value: resolved})
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return Logical{Kind: LogicalAnd, Children: children}, nil
	}

	// Bare field/value pair means equality.
	resolved, drop := maybeResolve(field, val, refFields, resolve)
	if drop {
		return Literal{Value: true}, nil
	}
	return FieldCond{Field: field, Op: "$eq", Value: resolved}, nil
}

// maybeResolve resolves a bare reference-field scalar via Resolver. Returns
// drop=true when resolution was attempted and failed: the clause is
// dropped rather than failing the whole query.
func maybeResolve(field string, val any, refFields ReferenceFields, resolve Resolver) (resolvedVal any, drop bool) {
	if refFields == nil || !refFields[field] || resolve == nil {
		return val, false
	}
	s, ok := val.(string)
	if !ok {
		return val, false
	}
	id, ok := resolve(field, s)
	if !ok {
		return nil, true
	}
	return id, false
}

// isOperatorMap reports whether m looks like {"$op": value, ...} rather
// than a literal nested-object equality target. A map is treated as an
// operator map only if every key starts with '$' (mixed maps are not
// expected to appear in the operator dialect and are treated as a defensive
// no-match rather than risking misinterpretation).
func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

func containsForbidden(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '$' || s[i] == 0x00 {
			return true
		}
	}
	return false
}
