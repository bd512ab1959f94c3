package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestReadAbsent(t *testing.T) {
	t.Parallel()
	for name, s := range drivers(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			set, exists, err := s.Read(context.Background(), "nobody")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if exists || set != nil {
				t.Fatalf("expected absent set, got exists=%v set=%v", exists, set)
			}
		})
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, s := range drivers(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.RunTransaction(ctx, "42", func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
				if exists {
					t.Fatalf("expected absent set on first write")
				}
				return []reminder.Reminder{reminder.New("Buy milk", at)}, nil
			})
			if err != nil {
				t.Fatalf("RunTransaction: %v", err)
			}

			set, exists, err := s.Read(ctx, "42")
			if err != nil || !exists {
				t.Fatalf("Read: set=%v exists=%v err=%v", set, exists, err)
			}
			if len(set) != 1 || set[0].Text != "Buy milk" || !set[0].Time.Equal(at) {
				t.Fatalf("unexpected set after round trip: %+v", set)
			}
			if set[0].ID != reminder.DeriveID("Buy milk", at) {
				t.Fatalf("id lost in round trip: %q", set[0].ID)
			}

			users, err := s.Users(ctx)
			if err != nil {
				t.Fatalf("Users: %v", err)
			}
			if len(users) != 1 || users[0] != "42" {
				t.Fatalf("Users = %v, want [42]", users)
			}
		})
	}
}

func TestTransactionFnErrorAborts(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	for name, s := range drivers(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.RunTransaction(ctx, "7", func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
				return nil, boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want %v", err, boom)
			}
			if _, exists, _ := s.Read(ctx, "7"); exists {
				t.Fatal("aborted transaction must not create the set")
			}
		})
	}
}

func TestConcurrentCreatesBothPresent(t *testing.T) {
	t.Parallel()
	for name, s := range drivers(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

			var wg sync.WaitGroup
			errs := make([]error, 4)
			for i := 0; i < 4; i++ {
				i := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					r := reminder.New("task", base.Add(time.Duration(i)*time.Minute))
					errs[i] = s.RunTransaction(ctx, "user", func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
						return append(cur, r), nil
					})
				}()
			}
			wg.Wait()
			for i, err := range errs {
				if err != nil {
					t.Fatalf("writer %d: %v", i, err)
				}
			}

			set, _, err := s.Read(ctx, "user")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(set) != 4 {
				t.Fatalf("lost updates: %d reminders present, want 4", len(set))
			}
		})
	}
}

func TestMemoryConflictRetries(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	at := time.Now().Add(time.Hour)

	seed := reminder.New("seed", at)
	if err := s.RunTransaction(ctx, "u", func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
		return []reminder.Reminder{seed}, nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// First attempt races a competing commit; the retry must observe it.
	attempts := 0
	err := s.RunTransaction(ctx, "u", func(cur []reminder.Reminder, exists bool) ([]reminder.Reminder, error) {
		attempts++
		if attempts == 1 {
			if err := s.RunTransaction(ctx, "u", func(inner []reminder.Reminder, _ bool) ([]reminder.Reminder, error) {
				return append(inner, reminder.New("rival", at.Add(time.Minute))), nil
			}); err != nil {
				return nil, err
			}
		}
		return append(cur, reminder.New("mine", at.Add(2*time.Minute))), nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected a conflict retry, fn ran %d times", attempts)
	}

	set, _, _ := s.Read(ctx, "u")
	if len(set) != 3 {
		t.Fatalf("final set has %d reminders, want 3 (seed+rival+mine)", len(set))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
