// Package engine implements the reminder scheduling engine: the
// transactional mutation protocol that keeps the durable reminder sets and
// the in-process timer set consistent.
//
// Every mutating operation follows the same shape: compute the next set and
// the timer deltas inside one store transaction, commit, and only then touch
// timers. A store failure therefore never leaves a half-applied timer state,
// and a crash between commit and scheduling is recovered by Rehydrate.
package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/store"
	"remindbot/internal/timerset"
	logx "remindbot/pkg/logx"
)

type Engine struct {
	store  store.Store
	timers *timerset.TimerSet
	loc    *time.Location
	log    logx.Logger
}

// New builds an engine. loc is the timezone used for calendar-day matching
// in ListForDate; nil means time.Local.
func New(st store.Store, ts *timerset.TimerSet, loc *time.Location, log logx.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: st, timers: ts, loc: loc, log: log}
}

// Location returns the engine's calendar timezone.
func (e *Engine) Location() *time.Location { return e.loc }

// timerKey scopes timer registry keys per user: reminder IDs are only
// unique within one user's set.
func timerKey(userID, reminderID string) string {
	return userID + "\x1f" + reminderID
}

func fireMsg(userID string, r reminder.Reminder) timerset.FireMessage {
	return timerset.FireMessage{
		UserID:     userID,
		ReminderID: r.ID,
		Text:       r.Text,
		Time:       r.Time,
	}
}

// Create stores a new reminder and arms its timer.
//
// The timer is armed only after the commit succeeds, so a failure between
// the two leaves a committed reminder without a timer (recovered by
// Rehydrate/Reconcile), never a timer without a durable record. Creating an
// exact duplicate of a stored reminder is a no-op, keeping IDs unique
// within the set.
func (e *Engine) Create(ctx context.Context, userID, text string, at time.Time) (reminder.Reminder, error) {
	if userID == "" {
		return reminder.Reminder{}, &ValidationError{Reason: "user id is empty"}
	}
	if strings.TrimSpace(text) == "" {
		return reminder.Reminder{}, &ValidationError{Reason: "reminder text is empty"}
	}
	if at.IsZero() {
		return reminder.Reminder{}, &ValidationError{Reason: "reminder time is missing"}
	}

	r := reminder.New(text, at)
	err := e.store.RunTransaction(ctx, userID, func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
		return insertUnique(cur, r), nil
	})
	if err != nil {
		return reminder.Reminder{}, classify(err)
	}

	e.scheduleFuture(userID, r)
	e.log.Info("reminder added",
		logx.String("user", userID), logx.String("id", r.ID), logx.Time("at", r.Time))
	return r, nil
}

// ListForDate returns the user's reminders whose fire time falls on the
// given calendar day in the engine timezone, ordered by time. An empty
// result is not an error.
func (e *Engine) ListForDate(ctx context.Context, userID string, day time.Time) ([]reminder.Reminder, error) {
	if userID == "" {
		return nil, &ValidationError{Reason: "user id is empty"}
	}
	if day.IsZero() {
		return nil, &ValidationError{Reason: "date is missing"}
	}

	set, _, err := e.store.Read(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	var out []reminder.Reminder
	for _, r := range set {
		if r.OnDate(day, e.loc) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Rename gives every reminder named oldName the name newName, re-deriving
// IDs and re-arming timers. All matches move together or none do.
// It returns the number of renamed reminders.
func (e *Engine) Rename(ctx context.Context, userID, oldName, newName string) (int, error) {
	if userID == "" {
		return 0, &ValidationError{Reason: "user id is empty"}
	}
	if strings.TrimSpace(oldName) == "" || strings.TrimSpace(newName) == "" {
		return 0, &ValidationError{Reason: "both the current and the new name are required"}
	}

	return e.replace(ctx, userID, reminder.ByText(oldName), func(r reminder.Reminder) reminder.Reminder {
		return reminder.New(newName, r.Time)
	})
}

// Reschedule moves reminders from oldAt to newAt. With a name, only the
// named reminder at oldAt moves; without one, everything at oldAt moves.
// It returns the number of moved reminders.
func (e *Engine) Reschedule(ctx context.Context, userID, name string, oldAt, newAt time.Time) (int, error) {
	if userID == "" {
		return 0, &ValidationError{Reason: "user id is empty"}
	}
	if oldAt.IsZero() || newAt.IsZero() {
		return 0, &ValidationError{Reason: "both the current and the new time are required"}
	}

	filter := reminder.ByTime(oldAt)
	if name != "" {
		filter = reminder.ByTextAndTime(name, oldAt)
	}
	return e.replace(ctx, userID, filter, func(r reminder.Reminder) reminder.Reminder {
		return reminder.New(r.Text, newAt)
	})
}

// Remove deletes every reminder matching the given name and/or time,
// cancelling their timers. Supplying neither filter is rejected: an
// unfiltered remove would wipe the whole set.
//
// Removing from an absent set, or with a filter nothing matches, succeeds
// with count 0 (idempotent delete). This is also the cleanup path behind
// the alert Confirm button, which removes by exact text+time.
func (e *Engine) Remove(ctx context.Context, userID, name string, at time.Time) (int, error) {
	if userID == "" {
		return 0, &ValidationError{Reason: "user id is empty"}
	}
	if name == "" && at.IsZero() {
		return 0, &ValidationError{Reason: "remove needs a name or a time"}
	}

	filter := reminder.Filter{Text: name, Time: at}
	var (
		cancels []string
		removed int
	)
	err := e.store.RunTransaction(ctx, userID, func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
		// The function may rerun on conflict; start from a clean slate.
		cancels = nil
		removed = 0
		if !exists {
			return nil, errNothingToDo
		}
		next := make([]reminder.Reminder, 0, len(cur))
		for _, r := range cur {
			if filter.Matches(r) {
				cancels = append(cancels, r.ID)
				removed++
				continue
			}
			next = append(next, r)
		}
		if removed == 0 {
			return nil, errNothingToDo
		}
		return next, nil
	})
	if errors.Is(err, errNothingToDo) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}

	for _, id := range cancels {
		e.timers.Cancel(timerKey(userID, id))
	}
	e.log.Info("reminders removed",
		logx.String("user", userID), logx.Int("count", removed))
	return removed, nil
}

// replace runs the shared rename/reschedule shape: inside one transaction,
// every match is removed and its transformed successor inserted; after the
// commit, old timers are cancelled and new ones armed.
func (e *Engine) replace(ctx context.Context, userID string, filter reminder.Filter, transform func(reminder.Reminder) reminder.Reminder) (int, error) {
	var (
		cancels   []string
		schedules []reminder.Reminder
	)
	err := e.store.RunTransaction(ctx, userID, func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
		cancels = nil
		schedules = nil
		if !exists {
			return nil, ErrNotFound
		}
		matches := reminder.Match(cur, filter)
		if len(matches) == 0 {
			return nil, ErrNotFound
		}

		// Keep the non-matches first, then insert each transformed
		// successor against the complete set: a successor identical to a
		// surviving reminder merges into it (set semantics), so IDs stay
		// unique within the collection.
		next := make([]reminder.Reminder, 0, len(cur))
		for _, r := range cur {
			if filter.Matches(r) {
				cancels = append(cancels, r.ID)
				continue
			}
			next = append(next, r)
		}
		for _, r := range matches {
			nr := transform(r)
			before := len(next)
			next = insertUnique(next, nr)
			if len(next) > before {
				schedules = append(schedules, nr)
			}
		}
		return next, nil
	})
	if err != nil {
		return 0, classify(err)
	}

	for _, id := range cancels {
		e.timers.Cancel(timerKey(userID, id))
	}
	for _, r := range schedules {
		e.scheduleFuture(userID, r)
	}
	e.log.Info("reminders updated",
		logx.String("user", userID), logx.Int("count", len(schedules)))
	return len(schedules), nil
}

// scheduleFuture arms a timer for r unless its fire time already passed.
// Past-dated reminders stay listed for review but do not alert again.
func (e *Engine) scheduleFuture(userID string, r reminder.Reminder) {
	if !r.Time.After(time.Now()) {
		return
	}
	e.timers.Schedule(timerKey(userID, r.ID), fireMsg(userID, r))
}

// insertUnique appends r unless an identical value is already present
// (set semantics; mirrors the upstream array-union behavior).
func insertUnique(set []reminder.Reminder, r reminder.Reminder) []reminder.Reminder {
	for _, cur := range set {
		if cur.Equal(r) {
			return set
		}
	}
	return append(set, r)
}
