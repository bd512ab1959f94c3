package reminder

import (
	"testing"
	"time"
)

func TestDeriveIDDeterministic(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a := DeriveID("Buy milk", at)
	b := DeriveID("Buy milk", at)
	if a != b {
		t.Fatalf("DeriveID not deterministic: %q vs %q", a, b)
	}
	if want := "Buy milk1714554000000"; a != want {
		t.Fatalf("DeriveID = %q, want %q", a, want)
	}
}

func TestDeriveIDChangesWithEitherField(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	base := DeriveID("Buy milk", at)
	if got := DeriveID("Buy oat milk", at); got == base {
		t.Fatalf("text change did not change id: %q", got)
	}
	if got := DeriveID("Buy milk", at.Add(time.Millisecond)); got == base {
		t.Fatalf("time change did not change id: %q", got)
	}
}

func TestDeriveIDIgnoresSubMillisecond(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if DeriveID("x", at) != DeriveID("x", at.Add(500*time.Microsecond)) {
		t.Fatal("ids should agree within the same millisecond")
	}
}

func TestOnDate(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 23:30 UTC on Apr 30 is already May 1 in Berlin.
	r := New("late", time.Date(2024, 4, 30, 23, 30, 0, 0, time.UTC))
	mayFirst := time.Date(2024, 5, 1, 0, 0, 0, 0, loc)
	if !r.OnDate(mayFirst, loc) {
		t.Fatal("expected reminder to fall on May 1 in Berlin")
	}
	if r.OnDate(mayFirst, time.UTC) {
		t.Fatal("expected reminder to fall on Apr 30 in UTC")
	}
}

func TestMatchFilters(t *testing.T) {
	t.Parallel()
	t9 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	t10 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	set := []Reminder{
		New("Buy milk", t9),
		New("Buy milk", t10),
		New("Call mom", t9),
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "by text", filter: ByText("Buy milk"), want: 2},
		{name: "by time", filter: ByTime(t9), want: 2},
		{name: "by both", filter: ByTextAndTime("Buy milk", t9), want: 1},
		{name: "no match", filter: ByText("Feed cat"), want: 0},
		{name: "both no match", filter: ByTextAndTime("Call mom", t10), want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Match(set, tt.filter)
			if len(got) != tt.want {
				t.Fatalf("Match() returned %d reminders, want %d", len(got), tt.want)
			}
			for _, r := range got {
				if !tt.filter.Matches(r) {
					t.Fatalf("returned reminder %q does not satisfy filter", r.ID)
				}
			}
		})
	}
}

func TestMatchEqualInstantDifferentLocation(t *testing.T) {
	t.Parallel()
	utc := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	plus2 := utc.In(time.FixedZone("X", 2*3600))
	set := []Reminder{New("Buy milk", utc)}
	if got := Match(set, ByTime(plus2)); len(got) != 1 {
		t.Fatalf("same instant in another zone should match, got %d", len(got))
	}
}

func TestFilterEmpty(t *testing.T) {
	t.Parallel()
	if !(Filter{}).Empty() {
		t.Fatal("zero filter should be empty")
	}
	if ByText("x").Empty() || ByTime(time.Now()).Empty() {
		t.Fatal("set filters should not be empty")
	}
}
