package engine

import (
	"context"
	"time"

	"remindbot/internal/timerset"
	logx "remindbot/pkg/logx"
)

// collectFuture gathers the fire messages for every future-dated reminder
// in the store, keyed the way the timer set is.
func (e *Engine) collectFuture(ctx context.Context) (map[string]timerset.FireMessage, error) {
	users, err := e.store.Users(ctx)
	if err != nil {
		return nil, classify(err)
	}

	now := time.Now()
	wanted := map[string]timerset.FireMessage{}
	for _, u := range users {
		set, _, err := e.store.Read(ctx, u)
		if err != nil {
			return nil, classify(err)
		}
		for _, r := range set {
			if r.Time.After(now) {
				wanted[timerKey(u, r.ID)] = fireMsg(u, r)
			}
		}
	}
	return wanted, nil
}

// Rehydrate rebuilds the timer set from the durable store. It is the
// required startup pass: timers are process-local and every future-dated
// reminder needs its alert re-armed after a restart.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	wanted, err := e.collectFuture(ctx)
	if err != nil {
		return 0, err
	}
	for key, msg := range wanted {
		e.timers.Schedule(key, msg)
	}
	e.log.Info("timers rehydrated", logx.Int("count", len(wanted)))
	return len(wanted), nil
}

// Reconcile arms timers missing for future reminders (the window between a
// commit and its schedule call after a badly timed failure) and drops
// timers whose reminder is gone. The store always wins; timers are derived
// state.
func (e *Engine) Reconcile(ctx context.Context) (armed, dropped int, err error) {
	// Snapshot the pending timers before reading the store. A reminder
	// committed and armed during the store reads is then absent from both
	// sides and left alone; taken the other way round, its fresh timer
	// would look like an orphan and be cancelled. Timers armed mid-read
	// for reminders the read did see are re-armed below, which Schedule
	// handles idempotently.
	pending := map[string]bool{}
	for _, key := range e.timers.Pending() {
		pending[key] = true
	}

	wanted, err := e.collectFuture(ctx)
	if err != nil {
		return 0, 0, err
	}

	for key, msg := range wanted {
		if !pending[key] {
			e.timers.Schedule(key, msg)
			armed++
		}
	}
	for key := range pending {
		if _, ok := wanted[key]; !ok {
			e.timers.Cancel(key)
			dropped++
		}
	}

	if armed > 0 || dropped > 0 {
		e.log.Info("timer reconcile applied",
			logx.Int("armed", armed), logx.Int("dropped", dropped))
	}
	return armed, dropped, nil
}
