// Package eventlog implements the append-only, capped, monotonically
// indexed event log. It is built directly on a buntdb transaction: the
// sequence counter and the event document are written in the same
// store.Tx, so buntdb's whole-database transaction serialization gives the
// counter its atomicity for free — no separate compare-and-swap loop is
// needed, unlike a findAndModify-style upsert against a networked document
// database.
//
// Tailing is implemented with an in-process generation broadcast
// (Log.Notify/Wait below) rather than a real tailable cursor: buntdb is an
// embedded, single-process engine with no server-side change stream to
// subscribe to, so a condition-variable-style wakeup on every committed
// append is the direct in-process analogue of awaiting the next matching
// document.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/store"
)

const (
	collection = "events"
	seqKey = "event_seq:counter"
	bytesKey = "event_seq:bytes"

	// KeepAliveInterval is how often a blank line is written on an idle
	// stream (KEEP_ALIVE_TIME = 10s).
	KeepAliveInterval = 10 * time.Second
)

// Config controls the capped collection's size limits, exposed as
// configuration rather than hardcoded.
type Config struct {
	MaxEvents int64
	MaxBytesPerEvent int64
}

// DefaultConfig matches the literal cap: at most 10,000 events and at
// most 8 KiB per event of total budget.
func DefaultConfig() Config {
	return Config{MaxEvents: 10000, MaxBytesPerEvent: 8192}
}

// Log is the event log, backed by db.
type Log struct {
	db *store.DB
	cfg Config

	mu sync.Mutex
	gen chan struct{} // closed and replaced every time a new event commits
	last int64 // highest id ever allocated (monotonic, never decreases)
}

// New creates a Log over db with the given cap configuration.
func New(db *store.DB, cfg Config) *Log {
	l := &Log{db: db, cfg: cfg, gen: make(chan struct{})}
	_ = l.db.View(func(tx *store.Tx) error {
		if raw, ok, _ := tx.RawGet(seqKey); ok {
			fmt.Sscanf(raw, "%d", &l.last)
		}
		return nil
	})
	return l
}

func eventKey(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// Append allocates the next sequence id and persists a new event in its own
// transaction. Every successful create/update/delete in the entity store
// that isn't already inside a repo-level transaction calls this.
func (l *Log) Append(eventType, entityType, entityID string, entityNames []string) (model.Event, error) {
	var ev model.Event
	err := l.db.Update(func(tx *store.Tx) error {
		var err error
		ev, err = l.AppendTx(tx, eventType, entityType, entityID, entityNames)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	l.Notify(ev.ID)
	return ev, nil
}

// AppendTx persists a new event using an already-open transaction, for
// callers (notably internal/repo's cascades) that must append several
// events as part of one larger atomic operation — buntdb transactions
// cannot nest, so a cascade that deletes an agent and requeues its jobs
// appends every resulting event via AppendTx inside its own single
// db.Update, then calls Notify once with the highest id produced.
func (l *Log) AppendTx(tx *store.Tx, eventType, entityType, entityID string, entityNames []string) (model.Event, error) {
	var seq int64
	if raw, ok, err := tx.RawGet(seqKey); err != nil {
		return model.Event{}, err
	} else if ok {
		fmt.Sscanf(raw, "%d", &seq)
	}
	seq++

	ev := model.Event{
		ID: seq,
		Date: time.Now().UTC(),
		EventType: eventType,
		EntityType: entityType,
		EntityID: entityID,
		EntityNames: entityNames,
	}
	doc, err := model.ToDoc(ev)
	if err != nil {
		return model.Event{}, err
	}
	if err := tx.Set(collection, eventKey(seq), doc); err != nil {
		return model.Event{}, err
	}
	if err := tx.RawSet(seqKey, fmt.Sprintf("%d", seq)); err != nil {
		return model.Event{}, err
	}

	size, _ := sizeOf(doc)
	var totalBytes int64
	if raw, ok, err := tx.RawGet(bytesKey); err != nil {
		return model.Event{}, err
	} else if ok {
		fmt.Sscanf(raw, "%d", &totalBytes)
	}
	totalBytes += int64(size)
	if err := tx.RawSet(bytesKey, fmt.Sprintf("%d", totalBytes)); err != nil {
		return model.Event{}, err
	}

	if err := l.evictLocked(tx, &totalBytes); err != nil {
		return model.Event{}, err
	}

	return ev, nil
}

// Notify wakes any pending Wait calls and records id as the newest known
// sequence number, if it is higher than what's already recorded. Callers
// that append via AppendTx must call Notify once after their transaction
// commits (see AppendTx's doc comment).
func (l *Log) Notify(id int64) {
	l.mu.Lock()
	if id > l.last {
		l.last = id
	}
	old := l.gen
	l.gen = make(chan struct{})
	l.mu.Unlock()
	close(old)
}

// evictLocked removes the oldest events while the collection exceeds either
// the event-count or total-byte cap, oldest evicted first. The allocation
// counter itself is never touched — only documents are evicted, so ids
// already issued are never reused and no gap-free invariant is broken by
// eviction.
func (l *Log) evictLocked(tx *store.Tx, totalBytes *int64) error {
	maxBytes := l.cfg.MaxEvents * l.cfg.MaxBytesPerEvent
	for {
		count, err := tx.Count(collection)
		if err != nil {
			return err
		}
		if int64(count) <= l.cfg.MaxEvents && *totalBytes <= maxBytes {
			return nil
		}

		var oldestKey string
		var oldestDoc map[string]any
		err = tx.Ascend(collection, func(id string, doc map[string]any) bool {
			oldestKey = id
			oldestDoc = doc
			return false // first result in ascending order is the oldest
		})
		if err != nil {
			return err
		}
		if oldestKey == "" {
			return nil
		}

		size, _ := sizeOf(oldestDoc)
		if _, err := tx.Delete(collection, oldestKey); err != nil {
			return err
		}
		*totalBytes -= int64(size)
		if *totalBytes < 0 {
			*totalBytes = 0
		}
		if err := tx.RawSet(bytesKey, fmt.Sprintf("%d", *totalBytes)); err != nil {
			return err
		}
	}
}

// sizeOf approximates a document's contribution to the byte cap via its
// JSON encoding.
func sizeOf(doc map[string]any) (int, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

// List returns the slice of events with id in [start, start+count). When
// start is zero (omitted by the caller), the last count events are
// returned instead.
func (l *Log) List(start int64, count int) ([]model.Event, error) {
	var out []model.Event
	err := l.db.View(func(tx *store.Tx) error {
		if start <= 0 {
			all, err := l.ascendAll(tx)
			if err != nil {
				return err
			}
			if len(all) > count {
				all = all[len(all)-count:]
			}
			out = all
			return nil
		}

		end := start + int64(count)
		return tx.Ascend(collection, func(id string, doc map[string]any) bool {
			var ev model.Event
			if err := model.FromDoc(doc, &ev); err != nil {
				return true
			}
			if ev.ID >= start && ev.ID < end {
				out = append(out, ev)
			}
			return ev.ID < end
		})
	})
	return out, err
}

func (l *Log) ascendAll(tx *store.Tx) ([]model.Event, error) {
	var out []model.Event
	err := tx.Ascend(collection, func(id string, doc map[string]any) bool {
		var ev model.Event
		if err := model.FromDoc(doc, &ev); err == nil {
			out = append(out, ev)
		}
		return true
	})
	return out, err
}

// After returns every event with id > lastSeen, in ascending order.
func (l *Log) After(lastSeen int64) ([]model.Event, error) {
	var out []model.Event
	err := l.db.View(func(tx *store.Tx) error {
		return tx.Ascend(collection, func(id string, doc map[string]any) bool {
			var ev model.Event
			if err := model.FromDoc(doc, &ev); err != nil {
				return true
			}
			if ev.ID > lastSeen {
				out = append(out, ev)
			}
			return true
		})
	})
	return out, err
}

// Len returns the number of events currently retained (after eviction).
func (l *Log) Len() (int, error) {
	var count int
	err := l.db.View(func(tx *store.Tx) error {
		var err error
		count, err = tx.Count(collection)
		return err
	})
	return count, err
}

// LastID returns the highest event id ever allocated (0 if the log is empty).
func (l *Log) LastID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Wait blocks until an event with id > lastSeen is available, KeepAliveInterval
// elapses (returned events is nil, woke is false), or ctx is cancelled.
func (l *Log) Wait(ctx context.Context, lastSeen int64) (events []model.Event, woke bool, err error) {
	l.mu.Lock()
	gen := l.gen
	current := l.last
	l.mu.Unlock()

	if current > lastSeen {
		events, err = l.After(lastSeen)
		return events, true, err
	}

	select {
	case <-gen:
		events, err = l.After(lastSeen)
		return events, true, err
	case <-time.After(KeepAliveInterval):
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
