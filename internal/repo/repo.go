// Package repo is the entity store: uniform, type-aware CRUD
// over internal/store's buntdb-backed documents, with per-kind uniqueness
// constraints, lookup-field resolution, and the cascade/pull policies that
// run at delete time. Every successful create, update or delete appends
// exactly one event per affected entity via internal/eventlog, inside the
// same buntdb transaction the mutation itself runs in; an agent heartbeat
// touch appends no event.
package repo

import (
	"fmt"

	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

const (
	collAgents = "agents"
	collResources = "resources"
	collGroups = "groups"
	collApplications = "applications"
	collProcedures = "procedures"
	collJobs = "jobs"
	collSubscriptions = "subscriptions"
)

// Store is the entity store: every per-kind repository method hangs off of
// it so that cascades can reach across collections inside one transaction.
type Store struct {
	db *store.DB
	Log *eventlog.Log
}

// New builds a Store over db, appending events to log.
func New(db *store.DB, log *eventlog.Log) *Store {
	return &Store{db: db, Log: log}
}

// resolveID finds a document by id, or — failing that — by each of
// lookupFields in declared order. The first field that yields any match is
// authoritative: a single match resolves, more than one match is
// AmbiguousLookup, zero matches falls through to the next field.
func resolveID(tx *store.Tx, collection, idOrLookup string, lookupFields []string) (id string, doc map[string]any, err error) {
	if doc, ok, err := tx.Get(collection, idOrLookup); err != nil {
		return "", nil, err
	} else if ok {
		return idOrLookup, doc, nil
	}

	for _, field := range lookupFields {
		var matchID string
		var matchDoc map[string]any
		count := 0
		err := tx.Ascend(collection, func(id string, doc map[string]any) bool {
			if fieldMatches(doc[field], idOrLookup) {
				count++
				matchID, matchDoc = id, doc
			}
			return true
		})
		if err != nil {
			return "", nil, err
		}
		switch {
		case count == 1:
			return matchID, matchDoc, nil
		case count > 1:
			return "", nil, apperr.ErrAmbiguousLookup
		}
	}
	return "", nil, apperr.ErrNotFound
}

// fieldMatches reports whether a stored field value (a bare string, or a
// list of strings as for Resource.Names) contains target.
func fieldMatches(v any, target string) bool {
	switch t := v.(type) {
	case string:
		return t == target
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == target {
				return true
			}
		}
	}
	return false
}

// listCollection returns every document in collection matching q (q may be
// nil, meaning "match everything"), in ascending id order.
func listCollection(tx *store.Tx, collection string, q query.Node) ([]map[string]any, error) {
	var out []map[string]any
	err := tx.Ascend(collection, func(id string, doc map[string]any) bool {
		if q == nil || q.Eval(doc) {
			out = append(out, doc)
		}
		return true
	})
	return out, err
}

// ensureUniqueString validates that no other document in collection already
// has value for field (nil values never conflict — the constraint only
// applies when the field is non-null). excludeID is the document being
// created/updated, if any.
func ensureUniqueString(tx *store.Tx, collection, field, excludeID string, value *string) error {
	if value == nil {
		return nil
	}
	var conflict bool
	err := tx.Ascend(collection, func(id string, doc map[string]any) bool {
		if id == excludeID {
			return true
		}
		if s, ok := doc[field].(string); ok && s == *value {
			conflict = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if conflict {
		return apperr.NewValidation(field, fmt.Sprintf("%q is already in use", *value))
	}
	return nil
}

// ensureUniqueNameList validates that none of names appears as an element of
// field on any other document (Resource.Names is unique per-item, not just
// per-document).
func ensureUniqueNameList(tx *store.Tx, collection, field, excludeID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var conflicts []string
	err := tx.Ascend(collection, func(id string, doc map[string]any) bool {
		if id == excludeID {
			return true
		}
		list, _ := doc[field].([]any)
		for _, item := range list {
			if s, ok := item.(string); ok && wanted[s] {
				conflicts = append(conflicts, s)
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		ve := &apperr.ValidationError{}
		for _, c := range conflicts {
			ve.Add(field, fmt.Sprintf("%q is already in use", c))
		}
		return ve
	}
	return nil
}

// stringSet builds a lookup set from a slice of ids, filtering out blanks.
func stringSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			m[id] = true
		}
	}
	return m
}

// removeAll returns ids with every element in drop removed, preserving order.
func removeAll(ids []string, drop map[string]bool) []string {
	if len(drop) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
