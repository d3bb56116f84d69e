// Package store wraps tidwall/buntdb as the coordinator's document-oriented
// backing store. buntdb is an embeddable, transactional, ordered key/value
// engine: its Update/View closures are whole-database transactions (a
// direct fit for the compare-and-swap job claim and the atomic event
// counter), and its lexicographic key ordering gives the ordered iteration
// the event log needs, without a query planner to target the way a SQL or
// real document database would provide. Other collections iterate in
// ascending id order; nothing here orders documents by creation time.
//
// Documents are stored as JSON text under keys "<collection>:<id>". Callers
// never see buntdb's API directly — they open a transaction (Update or View)
// and operate on a *Tx, which marshals/unmarshals JSON at the boundary.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/buntdb"
)

// ErrNotFound is returned when a document does not exist under the given
// collection and id.
var ErrNotFound = errors.New("store: document not found")

// DB is a handle to the backing buntdb instance.
type DB struct {
	bdb *buntdb.DB
}

// Open opens (or creates) the backing store at path. Use ":memory:" for a
// purely in-process, non-persistent instance (the default for tests and for
// the coordinator's own test suite).
func Open(path string) (*DB, error) {
	bdb, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	return &DB{bdb: bdb}, nil
}

// Close releases the underlying buntdb handle.
func (d *DB) Close() error {
	return d.bdb.Close()
}

// Tx is a single buntdb transaction. All Tx methods must only be called
// from within the closure passed to Update or View.
type Tx struct {
	tx *buntdb.Tx
	rw bool
}

// Update runs fn inside a read-write transaction. buntdb serializes all
// Update calls against the same database, so fn observes a consistent
// snapshot and no other Update can interleave with it — this is what makes
// Tx.Get-then-Tx.Set inside a single Update a correct compare-and-swap.
func (d *DB) Update(fn func(tx *Tx) error) error {
	return d.bdb.Update(func(btx *buntdb.Tx) error {
		return fn(&Tx{tx: btx, rw: true})
	})
}

// View runs fn inside a read-only transaction.
func (d *DB) View(fn func(tx *Tx) error) error {
	return d.bdb.View(func(btx *buntdb.Tx) error {
		return fn(&Tx{tx: btx, rw: false})
	})
}

func docKey(collection, id string) string {
	return collection + ":" + id
}

// Get fetches and unmarshals the document at (collection, id). ok is false
// if no such document exists.
func (t *Tx) Get(collection, id string) (doc map[string]any, ok bool, err error) {
	raw, err := t.tx.Get(docKey(collection, id))
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false, fmt.Errorf("store: decode %s/%s: %w", collection, id, err)
	}
	return m, true, nil
}

// Set marshals doc as JSON and stores it at (collection, id), overwriting
// any existing value.
func (t *Tx) Set(collection, id string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, id, err)
	}
	_, _, err = t.tx.Set(docKey(collection, id), string(raw), nil)
	return err
}

// Delete removes the document at (collection, id). existed reports whether
// anything was actually removed.
func (t *Tx) Delete(collection, id string) (existed bool, err error) {
	_, err = t.tx.Delete(docKey(collection, id))
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ascend iterates every document in collection in ascending key (id) order,
// calling fn for each. Iteration stops early if fn returns false.
func (t *Tx) Ascend(collection string, fn func(id string, doc map[string]any) bool) error {
	prefix := collection + ":"
	var iterErr error
	err := t.tx.AscendKeys(prefix+"*", func(key, value string) bool {
		id := strings.TrimPrefix(key, prefix)
		var m map[string]any
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			iterErr = fmt.Errorf("store: decode %s: %w", key, err)
			return false
		}
		return fn(id, m)
	})
	if err != nil {
		return err
	}
	return iterErr
}

// Count returns the number of documents in collection.
func (t *Tx) Count(collection string) (int, error) {
	n := 0
	err := t.Ascend(collection, func(string, map[string]any) bool {
		n++
		return true
	})
	return n, err
}

// RawSet stores a raw string value directly, bypassing JSON document
// handling. Used for small scalar control records (sequence counters,
// index entries) that are not themselves documents.
func (t *Tx) RawSet(key, value string) error {
	_, _, err := t.tx.Set(key, value, nil)
	return err
}

// RawGet fetches a raw string value. ok is false if the key is absent.
func (t *Tx) RawGet(key string) (value string, ok bool, err error) {
	v, err := t.tx.Get(key)
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// RawDelete removes a raw key, ignoring a not-found error.
func (t *Tx) RawDelete(key string) error {
	_, err := t.tx.Delete(key)
	if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
		return err
	}
	return nil
}

// AscendRawKeys iterates raw keys matching a glob pattern in lexicographic
// order, calling fn for each. Used by the event log for numeric-prefix
// ordered keys and by secondary indexes.
func (t *Tx) AscendRawKeys(pattern string, fn func(key, value string) bool) error {
	return t.tx.AscendKeys(pattern, fn)
}
