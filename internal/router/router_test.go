package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/engine"
	"remindbot/internal/reminder"
	"remindbot/internal/store"
	"remindbot/internal/timerset"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []string
	edits  []string
	sentCh chan string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sentCh: make(chan string, 16)}
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	f.sentCh <- text
	return transport.MessageRef{ChatID: 1, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	f.edits = append(f.edits, text)
	f.mu.Unlock()
	f.sentCh <- text
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

type fixture struct {
	adapter *fakeAdapter
	engine  *engine.Engine
	timers  *timerset.TimerSet
	tokens  *Tokens
	updates chan transport.Update
	cancel  context.CancelFunc
}

func startRouter(t *testing.T) *fixture {
	t.Helper()
	ad := newFakeAdapter()
	ts := timerset.New(func(timerset.FireMessage) {}, logx.Nop())
	t.Cleanup(ts.Stop)
	eng := engine.New(store.NewMemory(), ts, time.UTC, logx.Nop())
	tokens := NewTokens()
	r := New(ad, eng, tokens, func() time.Duration { return 10 * time.Minute }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &fixture{adapter: ad, engine: eng, timers: ts, tokens: tokens, updates: updates, cancel: cancel}
}

func message(text string) transport.Update {
	return transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ID: 1, ChatID: 42, FromID: 42, Text: text},
	}
}

func (f *fixture) await(t *testing.T) string {
	t.Helper()
	select {
	case text := <-f.adapter.sentCh:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from router")
		return ""
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	f := startRouter(t)
	f.updates <- message("/frobnicate")
	if got := f.await(t); !strings.Contains(got, "Unknown command") {
		t.Fatalf("reply = %q", got)
	}
}

func TestNonCommandIgnored(t *testing.T) {
	t.Parallel()
	f := startRouter(t)
	f.updates <- message("just chatting")
	select {
	case got := <-f.adapter.sentCh:
		t.Fatalf("unexpected reply %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRemindCreatesAndReplies(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- message("/remind Pay rent @ 2030-01-02T09:00")
	if got := f.await(t); !strings.Contains(got, "Pay rent") {
		t.Fatalf("reply = %q", got)
	}

	day := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	items, err := f.engine.ListForDate(context.Background(), "42", day)
	if err != nil || len(items) != 1 || items[0].Text != "Pay rent" {
		t.Fatalf("stored = %+v, %v", items, err)
	}
}

func TestRemindUsageOnMissingSeparator(t *testing.T) {
	t.Parallel()
	f := startRouter(t)
	f.updates <- message("/remind no time given")
	if got := f.await(t); !strings.Contains(got, "Usage:") {
		t.Fatalf("reply = %q", got)
	}
}

func TestListShowsDayContents(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- message("/remind Dentist @ 2030-03-05T08:30")
	f.await(t)
	f.updates <- message("/list 2030-03-05")
	got := f.await(t)
	if !strings.Contains(got, "Dentist") || !strings.Contains(got, "08:30") {
		t.Fatalf("list reply = %q", got)
	}

	f.updates <- message("/list 2030-03-06")
	if got := f.await(t); !strings.Contains(got, "Nothing on 2030-03-06") {
		t.Fatalf("empty list reply = %q", got)
	}
}

func TestRenameFlow(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- message("/remind Standup @ 2030-03-05T09:00")
	f.await(t)
	f.updates <- message("/rename Standup -> Daily sync")
	if got := f.await(t); !strings.Contains(got, "Renamed 1 reminder") {
		t.Fatalf("rename reply = %q", got)
	}

	f.updates <- message("/rename Missing -> Elsewhere")
	if got := f.await(t); !strings.Contains(got, "Nothing matched") {
		t.Fatalf("rename-missing reply = %q", got)
	}
}

func TestMoveFlow(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- message("/remind Gym @ 2030-03-05T18:00")
	f.await(t)
	f.updates <- message("/move Gym @ 2030-03-05T18:00 -> 2030-03-05T19:00")
	if got := f.await(t); !strings.Contains(got, "Moved 1 reminder") {
		t.Fatalf("move reply = %q", got)
	}

	items, err := f.engine.ListForDate(context.Background(), "42",
		time.Date(2030, 3, 5, 0, 0, 0, 0, time.UTC))
	if err != nil || len(items) != 1 || items[0].Time.Hour() != 19 {
		t.Fatalf("after move = %+v, %v", items, err)
	}
}

func TestRemoveFlow(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- message("/remind Water plants @ 2030-03-05T10:00")
	f.await(t)
	f.updates <- message("/remove Water plants")
	if got := f.await(t); !strings.Contains(got, "Removed 1 reminder") {
		t.Fatalf("remove reply = %q", got)
	}

	f.updates <- message("/remove Water plants")
	if got := f.await(t); !strings.Contains(got, "Nothing matched") {
		t.Fatalf("second remove reply = %q", got)
	}
}

func TestStartListsCommands(t *testing.T) {
	t.Parallel()
	f := startRouter(t)
	f.updates <- message("/start")
	got := f.await(t)
	for _, want := range []string{"/remind", "/list", "/rename", "/move", "/remove"} {
		if !strings.Contains(got, want) {
			t.Fatalf("start reply missing %s: %q", want, got)
		}
	}
}

func callbackUpdate(data string) transport.Update {
	return transport.Update{
		Kind:     transport.UpdateCallback,
		Callback: &transport.Callback{ID: "cb1", ChatID: 42, FromID: 42, MessageID: 7, Data: data},
	}
}

func TestConfirmCallbackRemovesReminder(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	at := time.Date(2030, 3, 5, 10, 0, 0, 0, time.UTC)
	r, err := f.engine.Create(context.Background(), "42", "Take pills", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := timerset.FireMessage{UserID: "42", ReminderID: r.ID, Text: r.Text, Time: r.Time}

	f.updates <- callbackUpdate(AlertCallbackData(ActionConfirm, msg, f.tokens))
	if got := f.await(t); !strings.Contains(got, "Done") {
		t.Fatalf("edit = %q", got)
	}

	items, err := f.engine.ListForDate(context.Background(), "42", at)
	if err != nil || len(items) != 0 {
		t.Fatalf("after confirm = %+v, %v", items, err)
	}
}

func TestSnoozeCallbackReschedules(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	at := time.Now().Add(-time.Minute).Truncate(time.Second)
	r, err := f.engine.Create(context.Background(), "42", "Stretch", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := timerset.FireMessage{UserID: "42", ReminderID: r.ID, Text: r.Text, Time: r.Time}

	f.updates <- callbackUpdate(AlertCallbackData(ActionSnooze, msg, f.tokens))
	if got := f.await(t); !strings.Contains(got, "Snoozed until") {
		t.Fatalf("edit = %q", got)
	}

	// The new time is about ten minutes out; it may land on either side
	// of midnight.
	var items []reminder.Reminder
	for _, day := range []time.Time{time.Now(), time.Now().AddDate(0, 0, 1)} {
		got, err := f.engine.ListForDate(context.Background(), "42", day)
		if err != nil {
			t.Fatalf("ListForDate: %v", err)
		}
		items = append(items, got...)
	}
	if len(items) != 1 {
		t.Fatalf("after snooze = %+v", items)
	}
	if !items[0].Time.After(time.Now()) {
		t.Fatalf("snoozed time %v not in the future", items[0].Time)
	}
}

func TestStaleTokenEditsAlert(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- callbackUpdate("rem:confirm:no-such-token")
	if got := f.await(t); !strings.Contains(got, "no longer around") {
		t.Fatalf("edit = %q", got)
	}
}

func TestForeignCallbackDataIgnored(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- callbackUpdate("otherbot:do:thing")
	select {
	case got := <-f.adapter.sentCh:
		t.Fatalf("unexpected reply %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDetailsCallbackShowsReminder(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	at := time.Date(2030, 6, 1, 9, 30, 0, 0, time.UTC)
	r, err := f.engine.Create(context.Background(), "42", "Water plants", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := timerset.FireMessage{UserID: "42", ReminderID: r.ID, Text: r.Text, Time: r.Time}

	f.updates <- callbackUpdate(AlertCallbackData(ActionDetails, msg, f.tokens))
	got := f.await(t)
	if !strings.Contains(got, "Water plants") || !strings.Contains(got, "2030-06-01 09:30") {
		t.Fatalf("details = %q", got)
	}
}

func TestDeleteCallbackRemovesReminder(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	at := time.Date(2030, 6, 1, 9, 30, 0, 0, time.UTC)
	r, err := f.engine.Create(context.Background(), "42", "Call bank", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := timerset.FireMessage{UserID: "42", ReminderID: r.ID, Text: r.Text, Time: r.Time}

	f.updates <- callbackUpdate(AlertCallbackData(ActionDelete, msg, f.tokens))
	if got := f.await(t); !strings.Contains(got, "Removed") {
		t.Fatalf("reply = %q", got)
	}

	items, err := f.engine.ListForDate(context.Background(), "42", at)
	if err != nil || len(items) != 0 {
		t.Fatalf("after delete = %+v, %v", items, err)
	}
}

func TestRenameHintContainsCommand(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	at := time.Date(2030, 6, 1, 9, 30, 0, 0, time.UTC)
	r, err := f.engine.Create(context.Background(), "42", "Pay rent", at)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := timerset.FireMessage{UserID: "42", ReminderID: r.ID, Text: r.Text, Time: r.Time}

	f.updates <- callbackUpdate(AlertCallbackData(ActionRename, msg, f.tokens))
	if got := f.await(t); !strings.Contains(got, "/rename Pay rent ->") {
		t.Fatalf("hint = %q", got)
	}
}

func TestStaleRowCallbackAsksForFreshList(t *testing.T) {
	t.Parallel()
	f := startRouter(t)

	f.updates <- callbackUpdate("rem:info:gone-token")
	if got := f.await(t); !strings.Contains(got, "stale") {
		t.Fatalf("reply = %q", got)
	}
}
