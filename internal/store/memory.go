package store

import (
	"context"
	"sort"
	"sync"

	"remindbot/internal/reminder"
)

type memRow struct {
	set     []reminder.Reminder
	version uint64
}

// memoryStore keeps reminder sets in process memory, running the same
// optimistic commit protocol as the sqlite driver. The transaction function
// executes outside the lock, so concurrent writers genuinely conflict.
type memoryStore struct {
	mu   sync.RWMutex
	rows map[string]memRow
}

// NewMemory returns an in-memory Store. Contents are lost on Close.
func NewMemory() Store {
	return &memoryStore{rows: map[string]memRow{}}
}

func (s *memoryStore) Read(ctx context.Context, userID string) ([]reminder.Reminder, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	row, ok := s.rows[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return cloneSet(row.set), true, nil
}

func (s *memoryStore) RunTransaction(ctx context.Context, userID string, fn TxFunc) error {
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.RLock()
		row, exists := s.rows[userID]
		ver := row.version
		cur := cloneSet(row.set)
		s.mu.RUnlock()

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}

		s.mu.Lock()
		now, nowExists := s.rows[userID]
		if nowExists != exists || now.version != ver {
			s.mu.Unlock()
			if err := sleepCtx(ctx, txBackoff(attempt)); err != nil {
				return err
			}
			continue
		}
		s.rows[userID] = memRow{set: cloneSet(next), version: ver + 1}
		s.mu.Unlock()
		return nil
	}
	return ErrConflict
}

func (s *memoryStore) Users(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	users := make([]string, 0, len(s.rows))
	for id := range s.rows {
		users = append(users, id)
	}
	s.mu.RUnlock()
	sort.Strings(users)
	return users, nil
}

func (s *memoryStore) Close() error { return nil }

func cloneSet(set []reminder.Reminder) []reminder.Reminder {
	if set == nil {
		return nil
	}
	out := make([]reminder.Reminder, len(set))
	copy(out, set)
	return out
}
