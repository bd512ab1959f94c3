package timerset

import (
	"sync"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

type capture struct {
	mu   sync.Mutex
	msgs []FireMessage
	ch   chan FireMessage
}

func newCapture() *capture {
	return &capture{ch: make(chan FireMessage, 16)}
}

func (c *capture) dispatch(m FireMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.ch <- m
}

func (c *capture) wait(t *testing.T) FireMessage {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fire")
		return FireMessage{}
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestScheduleFires(t *testing.T) {
	t.Parallel()
	c := newCapture()
	ts := New(c.dispatch, logx.Nop())
	defer ts.Stop()

	at := time.Now().Add(20 * time.Millisecond)
	ts.Schedule("42/buy1", FireMessage{UserID: "42", ReminderID: "buy1", Text: "Buy milk", Time: at})
	if !ts.Has("42/buy1") {
		t.Fatal("timer should be pending after Schedule")
	}

	got := c.wait(t)
	if got.UserID != "42" || got.Text != "Buy milk" || got.ReminderID != "buy1" {
		t.Fatalf("unexpected fire message: %+v", got)
	}
	if ts.Has("42/buy1") {
		t.Fatal("fired timer should leave the set")
	}
}

func TestPastDueFiresImmediately(t *testing.T) {
	t.Parallel()
	c := newCapture()
	ts := New(c.dispatch, logx.Nop())
	defer ts.Stop()

	ts.Schedule("late", FireMessage{ReminderID: "late", Time: time.Now().Add(-time.Hour)})
	c.wait(t)
}

func TestCancelIdempotent(t *testing.T) {
	t.Parallel()
	c := newCapture()
	ts := New(c.dispatch, logx.Nop())
	defer ts.Stop()

	ts.Schedule("x", FireMessage{ReminderID: "x", Time: time.Now().Add(time.Hour)})
	if !ts.Cancel("x") {
		t.Fatal("first cancel should report a pending timer")
	}
	if ts.Cancel("x") {
		t.Fatal("second cancel must be a no-op")
	}
	if ts.Cancel("never-existed") {
		t.Fatal("cancelling an unknown id must be a no-op")
	}
	if ts.Len() != 0 {
		t.Fatalf("Len = %d, want 0", ts.Len())
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	t.Parallel()
	c := newCapture()
	ts := New(c.dispatch, logx.Nop())
	defer ts.Stop()

	// Arm far in the future, then replace with a near fire time.
	ts.Schedule("r", FireMessage{ReminderID: "r", Text: "v1", Time: time.Now().Add(time.Hour)})
	ts.Schedule("r", FireMessage{ReminderID: "r", Text: "v2", Time: time.Now().Add(20 * time.Millisecond)})
	if ts.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after replace", ts.Len())
	}

	got := c.wait(t)
	if got.Text != "v2" {
		t.Fatalf("replaced timer fired stale payload %q", got.Text)
	}

	// Give a stale callback (if any) a moment to misbehave.
	time.Sleep(50 * time.Millisecond)
	if c.count() != 1 {
		t.Fatalf("fired %d times, want exactly 1", c.count())
	}
}

func TestStopPreventsFiring(t *testing.T) {
	t.Parallel()
	c := newCapture()
	ts := New(c.dispatch, logx.Nop())

	ts.Schedule("a", FireMessage{ReminderID: "a", Time: time.Now().Add(30 * time.Millisecond)})
	ts.Stop()
	ts.Schedule("b", FireMessage{ReminderID: "b", Time: time.Now().Add(10 * time.Millisecond)})

	time.Sleep(80 * time.Millisecond)
	if c.count() != 0 {
		t.Fatalf("fired %d times after Stop, want 0", c.count())
	}
	if ts.Len() != 0 {
		t.Fatalf("Len = %d after Stop, want 0", ts.Len())
	}
}

func TestPending(t *testing.T) {
	t.Parallel()
	ts := New(nil, logx.Nop())
	defer ts.Stop()

	ts.Schedule("one", FireMessage{ReminderID: "one", Time: time.Now().Add(time.Hour)})
	ts.Schedule("two", FireMessage{ReminderID: "two", Time: time.Now().Add(time.Hour)})
	ids := ts.Pending()
	if len(ids) != 2 {
		t.Fatalf("Pending returned %d ids, want 2", len(ids))
	}
}
