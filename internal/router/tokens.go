package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/timerset"
)

// Telegram callback data is capped at 64 bytes, far too small for a
// reminder id (text plus timestamp). Alert buttons therefore carry an
// opaque token and the reminder payload lives here until the button is
// pressed or the entry expires.

const (
	tokenTTL        = 48 * time.Hour
	tokenMaxEntries = 10000
)

type tokenEntry struct {
	msg     timerset.FireMessage
	expires time.Time
}

type Tokens struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
}

func NewTokens() *Tokens {
	return &Tokens{entries: map[string]tokenEntry{}}
}

// Issue stores msg and returns the token to embed in callback data.
func (t *Tokens) Issue(msg timerset.FireMessage) string {
	token := uuid.NewString()
	now := time.Now()

	t.mu.Lock()
	t.pruneLocked(now)
	t.entries[token] = tokenEntry{msg: msg, expires: now.Add(tokenTTL)}
	t.mu.Unlock()
	return token
}

// Lookup resolves a token without consuming it; Confirm and Snooze decide
// themselves when to Delete.
func (t *Tokens) Lookup(token string) (timerset.FireMessage, bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[token]
	if !ok || now.After(e.expires) {
		if ok {
			delete(t.entries, token)
		}
		return timerset.FireMessage{}, false
	}
	return e.msg, true
}

func (t *Tokens) Delete(token string) {
	t.mu.Lock()
	delete(t.entries, token)
	t.mu.Unlock()
}

func (t *Tokens) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// pruneLocked drops expired entries and, if still over cap, the ones
// expiring soonest.
func (t *Tokens) pruneLocked(now time.Time) {
	for k, e := range t.entries {
		if now.After(e.expires) {
			delete(t.entries, k)
		}
	}
	for len(t.entries) >= tokenMaxEntries {
		var (
			oldestKey string
			oldest    time.Time
			set       bool
		)
		for k, e := range t.entries {
			if !set || e.expires.Before(oldest) {
				oldestKey, oldest, set = k, e.expires, true
			}
		}
		if !set {
			return
		}
		delete(t.entries, oldestKey)
	}
}
