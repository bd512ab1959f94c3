package router

import (
	"fmt"
	"strings"
	"time"
)

// Accepted timestamp layouts, tried in order. Zone-less layouts are read
// in the bot timezone.
var stampLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// parseStamp reads a reminder timestamp.
func parseStamp(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range stampLayouts {
		if strings.Contains(layout, "Z") {
			if at, err := time.Parse(layout, s); err == nil {
				return at, nil
			}
			continue
		}
		if at, err := time.ParseInLocation(layout, s, loc); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot read %q as a time; use e.g. 2026-01-02T15:04", s)
}

// parseDay reads a /list argument: "today", "tomorrow" or a date.
func parseDay(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "today":
		return now.In(loc), nil
	case "tomorrow":
		return now.In(loc).AddDate(0, 0, 1), nil
	}
	if day, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return day, nil
	}
	return time.Time{}, fmt.Errorf("cannot read %q as a date; use today, tomorrow or 2026-01-02", raw)
}

// splitArrow splits "left -> right" exactly once.
func splitArrow(s string) (left, right string, ok bool) {
	i := strings.Index(s, "->")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+2:]), true
}

// splitAt splits "text @ time" on the LAST " @ " so reminder texts may
// contain the separator themselves.
func splitAt(s string) (text, stamp string, ok bool) {
	i := strings.LastIndex(s, " @ ")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+3:]), true
}
