// Package timerset keeps the process-local one-shot timers backing future
// reminders. It is an owned, injected instance rather than process-global
// state, and its only mutation surface is Schedule/Cancel.
package timerset

import (
	"sync"
	"sync/atomic"
	"time"

	logx "remindbot/pkg/logx"
)

// FireMessage is the plain data payload handed to the dispatcher when a
// reminder's time arrives. No state is captured by closure; firing is
// replayable from the message alone.
type FireMessage struct {
	UserID     string
	ReminderID string
	Text       string
	Time       time.Time
}

// DispatchFunc receives fire messages. It must not block for long; the
// app wires it to a non-blocking event bus publish.
type DispatchFunc func(FireMessage)

// TimerSet maps reminder IDs to pending fire callbacks.
//
// It is a strict subset of "future reminders currently in the store":
// the scheduling engine mutates it only after a store commit, and a restart
// rebuilds it from the store, never the reverse.
type TimerSet struct {
	log      logx.Logger
	dispatch DispatchFunc

	seq atomic.Uint64

	mu      sync.Mutex
	timers  map[string]*time.Timer
	gen     map[string]uint64
	stopped bool
}

func New(dispatch DispatchFunc, log logx.Logger) *TimerSet {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TimerSet{
		log:      log,
		dispatch: dispatch,
		timers:   map[string]*time.Timer{},
		gen:      map[string]uint64{},
	}
}

// Schedule arms a timer for msg under key, replacing any existing timer
// with the same key. A past-due time fires immediately.
//
// Keys are chosen by the caller; the engine scopes them per user so equal
// reminder IDs of different users cannot clobber each other.
func (ts *TimerSet) Schedule(key string, msg FireMessage) {
	if key == "" {
		return
	}
	delay := time.Until(msg.Time)
	if delay < 0 {
		delay = 0
	}

	ts.mu.Lock()
	if ts.stopped {
		ts.mu.Unlock()
		return
	}
	if t, ok := ts.timers[key]; ok {
		_ = t.Stop()
	}
	// The sequence number lets an in-flight callback from a replaced timer
	// detect it is stale and bail out.
	seq := ts.seq.Add(1)
	ts.gen[key] = seq

	ts.timers[key] = time.AfterFunc(delay, func() {
		ts.fire(key, msg, seq)
	})
	ts.mu.Unlock()

	ts.log.Debug("timer armed",
		logx.String("id", msg.ReminderID),
		logx.Time("at", msg.Time),
		logx.Duration("in", delay))
}

func (ts *TimerSet) fire(key string, msg FireMessage, seq uint64) {
	ts.mu.Lock()
	if ts.stopped || ts.gen[key] != seq {
		ts.mu.Unlock()
		return
	}
	delete(ts.timers, key)
	delete(ts.gen, key)
	ts.mu.Unlock()

	ts.log.Debug("timer fired", logx.String("id", msg.ReminderID))
	if ts.dispatch != nil {
		ts.dispatch(msg)
	}
}

// Cancel disarms the timer under key. It is an idempotent no-op when the
// timer is unknown or already fired, and reports whether one was pending.
func (ts *TimerSet) Cancel(key string) bool {
	ts.mu.Lock()
	t, ok := ts.timers[key]
	if ok {
		_ = t.Stop()
		delete(ts.timers, key)
		delete(ts.gen, key)
	}
	ts.mu.Unlock()

	if ok {
		ts.log.Debug("timer cancelled", logx.String("key", key))
	}
	return ok
}

// Has reports whether a timer is pending under key.
func (ts *TimerSet) Has(key string) bool {
	ts.mu.Lock()
	_, ok := ts.timers[key]
	ts.mu.Unlock()
	return ok
}

// Pending returns the keys of all armed timers.
func (ts *TimerSet) Pending() []string {
	ts.mu.Lock()
	keys := make([]string, 0, len(ts.timers))
	for key := range ts.timers {
		keys = append(keys, key)
	}
	ts.mu.Unlock()
	return keys
}

// Len returns the number of armed timers.
func (ts *TimerSet) Len() int {
	ts.mu.Lock()
	n := len(ts.timers)
	ts.mu.Unlock()
	return n
}

// Stop disarms everything and rejects further scheduling.
func (ts *TimerSet) Stop() {
	ts.mu.Lock()
	ts.stopped = true
	for id, t := range ts.timers {
		_ = t.Stop()
		delete(ts.timers, id)
		delete(ts.gen, id)
	}
	ts.mu.Unlock()
}
