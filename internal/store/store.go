package store

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// ErrConflict is returned when the optimistic retry budget is exhausted.
// Callers may treat it as transient and resubmit.
var ErrConflict = errors.New("store: transaction conflict")

const (
	txMaxAttempts  = 5
	txBackoffBase  = 10 * time.Millisecond
	txBackoffLimit = 200 * time.Millisecond
)

// Config configures the store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process only; for tests and ephemeral runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TxFunc computes the next reminder set from the current one.
//
// It may run more than once when the commit races a concurrent write, so it
// must be side-effect free apart from values it recomputes on every call.
// exists is false when the user has no stored set yet (current is nil).
type TxFunc func(current []reminder.Reminder, exists bool) (next []reminder.Reminder, err error)

// Store is the durable source of truth for reminder sets.
type Store interface {
	// Read returns the user's reminder set. exists is false when the user
	// has never stored anything.
	Read(ctx context.Context, userID string) (set []reminder.Reminder, exists bool, err error)

	// RunTransaction applies fn atomically to the user's set.
	// Operations for different users never contend.
	RunTransaction(ctx context.Context, userID string, fn TxFunc) error

	// Users lists every user with a stored set. Used for timer rehydration.
	Users(ctx context.Context) ([]string, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

// txBackoff returns the jittered wait before retry attempt n (0-based).
func txBackoff(n int) time.Duration {
	d := txBackoffBase << uint(n)
	if d > txBackoffLimit {
		d = txBackoffLimit
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
