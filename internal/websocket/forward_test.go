package websocket

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/store"
)

func newTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return eventlog.New(db, eventlog.DefaultConfig())
}

// recordingClient stands in for a real *Client for the purposes of testing
// Hub delivery without a real WebSocket connection: only the fields Hub
// actually reads (topics, send) are populated.
func newRecordingClient(topics ...string) (*Client, <-chan Message) {
	c := &Client{topics: topics, send: make(chan Message, 8)}
	return c, c.send
}

func TestForwardPublishesNewEventsOnAllAndEntityTopics(t *testing.T) {
	log := newTestLog(t)
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	all, allCh := newRecordingClient(TopicAll)
	job, jobCh := newRecordingClient(EntityTopic("job", "job-1"))
	hub.Subscribe(all)
	hub.Subscribe(job)

	go Forward(ctx, log, hub, zap.NewNop())

	// Give the hub's Run loop a beat to process the Subscribe sends before
	// the event is appended, so both clients are registered in time.
	time.Sleep(10 * time.Millisecond)

	if _, err := log.Append("created", "job", "job-1", []string{"job-1"}); err != nil {
		t.Fatalf("Append error = %v", err)
	}

	select {
	case msg := <-allCh:
		if msg.EntityID != "job-1" {
			t.Errorf("all-topic message EntityID = %q, want job-1", msg.EntityID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on the all topic")
	}

	select {
	case msg := <-jobCh:
		if msg.EntityID != "job-1" {
			t.Errorf("job-topic message EntityID = %q, want job-1", msg.EntityID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on the job:job-1 topic")
	}
}

func TestForwardStopsWhenContextCancelled(t *testing.T) {
	log := newTestLog(t)
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		Forward(ctx, log, hub, zap.NewNop())
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after context cancellation")
	}
}
