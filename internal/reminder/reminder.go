// Package reminder defines the reminder record, its derived identity and
// the partial-filter matching used by rename/reschedule/remove.
package reminder

import (
	"strconv"
	"time"
)

// Reminder is one alarm owned by one user.
//
// ID is derived from (Text, Time); changing either field means a new ID,
// so edits are modeled as remove-old + insert-new, never in place.
type Reminder struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// DeriveID returns the stable identifier for a (text, time) pair:
// the text concatenated with the decimal epoch milliseconds.
//
// Two reminders with identical text in the same millisecond collide.
// That is an accepted limitation; adding a uniqueness suffix would change
// observable IDs.
func DeriveID(text string, at time.Time) string {
	return text + strconv.FormatInt(at.UnixMilli(), 10)
}

// New builds a reminder with its derived ID.
func New(text string, at time.Time) Reminder {
	return Reminder{ID: DeriveID(text, at), Text: text, Time: at}
}

// Equal reports full value equality (text, instant and id).
// Set-remove during rename/reschedule/remove uses this, mirroring
// membership-by-exact-value semantics.
func (r Reminder) Equal(o Reminder) bool {
	return r.ID == o.ID && r.Text == o.Text && r.Time.Equal(o.Time)
}

// OnDate reports whether the reminder fires on the given calendar day,
// with both instants rendered in loc.
func (r Reminder) OnDate(day time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	ry, rm, rd := r.Time.In(loc).Date()
	dy, dm, dd := day.In(loc).Date()
	return ry == dy && rm == dm && rd == dd
}
