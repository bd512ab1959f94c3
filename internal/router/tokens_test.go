package router

import (
	"testing"
	"time"

	"remindbot/internal/timerset"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	tk := NewTokens()
	msg := timerset.FireMessage{UserID: "42", ReminderID: "x123", Text: "x", Time: time.Now()}

	token := tk.Issue(msg)
	if len(token) == 0 {
		t.Fatal("empty token")
	}
	got, ok := tk.Lookup(token)
	if !ok || got.ReminderID != msg.ReminderID {
		t.Fatalf("Lookup = %+v, %v", got, ok)
	}

	// Lookup does not consume.
	if _, ok := tk.Lookup(token); !ok {
		t.Fatal("second lookup failed")
	}

	tk.Delete(token)
	if _, ok := tk.Lookup(token); ok {
		t.Fatal("lookup after delete succeeded")
	}
}

func TestTokensAreUnique(t *testing.T) {
	t.Parallel()
	tk := NewTokens()
	msg := timerset.FireMessage{UserID: "42", ReminderID: "x123"}
	if tk.Issue(msg) == tk.Issue(msg) {
		t.Fatal("tokens collide")
	}
	if tk.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tk.Len())
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	t.Parallel()
	tk := NewTokens()
	token := tk.Issue(timerset.FireMessage{UserID: "42"})

	tk.mu.Lock()
	e := tk.entries[token]
	e.expires = time.Now().Add(-time.Minute)
	tk.entries[token] = e
	tk.mu.Unlock()

	if _, ok := tk.Lookup(token); ok {
		t.Fatal("expired token accepted")
	}
	if tk.Len() != 0 {
		t.Fatalf("expired entry not dropped, Len = %d", tk.Len())
	}
}
