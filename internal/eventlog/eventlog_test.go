package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/perfectstorm/coordinator/internal/store"
)

func newTestLog(t *testing.T, cfg Config) *Log {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, cfg)
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	l := newTestLog(t, DefaultConfig())
	var ids []int64
	for i := 0; i < 5; i++ {
		ev, err := l.Append("created", "agent", "agt-x", nil)
		if err != nil {
			t.Fatalf("Append error = %v", err)
		}
		ids = append(ids, ev.ID)
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Errorf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}
	if l.LastID() != 5 {
		t.Errorf("LastID = %d, want 5", l.LastID())
	}
}

func TestListReturnsTailByDefault(t *testing.T) {
	l := newTestLog(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		if _, err := l.Append("created", "job", "job-x", nil); err != nil {
			t.Fatalf("Append error = %v", err)
		}
	}
	got, err := l.List(0, 3)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].ID != 8 || got[2].ID != 10 {
		t.Errorf("got ids %d..%d, want 8..10", got[0].ID, got[2].ID)
	}
}

func TestListRange(t *testing.T) {
	l := newTestLog(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		if _, err := l.Append("created", "job", "job-x", nil); err != nil {
			t.Fatalf("Append error = %v", err)
		}
	}
	got, err := l.List(3, 4)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(got) != 4 || got[0].ID != 3 || got[3].ID != 6 {
		t.Fatalf("List(3, 4) = %+v, want ids 3..6", got)
	}
}

func TestEvictionByCount(t *testing.T) {
	l := newTestLog(t, Config{MaxEvents: 3, MaxBytesPerEvent: 1 << 20})
	for i := 0; i < 10; i++ {
		if _, err := l.Append("created", "job", "job-x", nil); err != nil {
			t.Fatalf("Append error = %v", err)
		}
	}
	all, err := l.List(0, 100)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3 (cap)", len(all))
	}
	if all[0].ID != 8 || all[2].ID != 10 {
		t.Errorf("expected oldest evicted first, got ids %d..%d", all[0].ID, all[2].ID)
	}
}

func TestEvictionByBytes(t *testing.T) {
	names := []string{"a-very-long-entity-name-to-inflate-the-json-payload-size-significantly"}
	// The byte cap is a total budget of MaxEvents*MaxBytesPerEvent = 1600
	// bytes, well under 20 events of ~200 bytes each, while the count cap
	// of 25 is never reached — so only the byte cap can evict here.
	l := newTestLog(t, Config{MaxEvents: 25, MaxBytesPerEvent: 64})
	for i := 0; i < 20; i++ {
		if _, err := l.Append("created", "job", "job-x", names); err != nil {
			t.Fatalf("Append error = %v", err)
		}
	}
	all, err := l.List(0, 1000)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(all) >= 20 {
		t.Errorf("expected byte cap to evict older events, got %d of 20 retained", len(all))
	}
}

func TestWaitWakesOnAppend(t *testing.T) {
	l := newTestLog(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var gotEvents int
	go func() {
		defer close(done)
		events, woke, err := l.Wait(ctx, 0)
		if err != nil {
			t.Errorf("Wait error = %v", err)
		}
		if !woke {
			t.Errorf("Wait woke = false, want true")
		}
		gotEvents = len(events)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := l.Append("created", "agent", "agt-x", nil); err != nil {
		t.Fatalf("Append error = %v", err)
	}

	<-done
	if gotEvents != 1 {
		t.Errorf("Wait returned %d events, want 1", gotEvents)
	}
}

func TestWaitReturnsImmediatelyForPastEvents(t *testing.T) {
	l := newTestLog(t, DefaultConfig())
	if _, err := l.Append("created", "agent", "agt-x", nil); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events, woke, err := l.Wait(ctx, 0)
	if err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	if !woke || len(events) != 1 {
		t.Errorf("Wait = (%v, %v), want one already-committed event", events, woke)
	}
}

func TestWaitTimesOutWithoutNewEvents(t *testing.T) {
	l := newTestLog(t, DefaultConfig())
	if _, err := l.Append("created", "agent", "agt-x", nil); err != nil {
		t.Fatalf("Append error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, woke, err := l.Wait(ctx, 1)
	if err == nil {
		t.Fatalf("Wait error = nil, want context deadline exceeded")
	}
	if woke {
		t.Errorf("Wait woke = true, want false on timeout")
	}
}
