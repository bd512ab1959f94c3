package reminder

import "time"

// Filter selects reminders by text, by time, or by both.
// A zero field means "any". The zero Filter matches everything and is
// rejected by callers that mutate state.
type Filter struct {
	Text string
	Time time.Time
}

// ByText selects all reminders with the given display text, any time.
func ByText(text string) Filter { return Filter{Text: text} }

// ByTime selects all reminders firing at the given instant, any text.
func ByTime(at time.Time) Filter { return Filter{Time: at} }

// ByTextAndTime selects reminders matching both fields.
func ByTextAndTime(text string, at time.Time) Filter {
	return Filter{Text: text, Time: at}
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return f.Text == "" && f.Time.IsZero()
}

// Matches reports whether r satisfies every set field of the filter.
func (f Filter) Matches(r Reminder) bool {
	if f.Text != "" && r.Text != f.Text {
		return false
	}
	if !f.Time.IsZero() && !r.Time.Equal(f.Time) {
		return false
	}
	return true
}

// Match returns the reminders in set satisfying f, preserving order.
// An empty result is a "not found" condition for the caller, not an error.
func Match(set []Reminder, f Filter) []Reminder {
	var out []Reminder
	for _, r := range set {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
