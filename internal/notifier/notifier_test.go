package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/timerset"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends before succeeding
	gotCh chan string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{gotCh: make(chan string, 16)}
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return transport.MessageRef{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	f.gotCh <- text
	return transport.MessageRef{ChatID: 1, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func msgFor(user, text string) timerset.FireMessage {
	return timerset.FireMessage{UserID: user, ReminderID: text + "123", Text: text, Time: time.Now()}
}

func TestEnqueueDelivers(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Enqueue(ctx, msgFor("42", "Drink water")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case text := <-ad.gotCh:
		if text != "*Drink water*" {
			t.Fatalf("sent %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert never delivered")
	}
}

func TestBusEventsAreDelivered(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	bus := eventbus.New()
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, bus, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// The bus consumer subscribes inside Start; give it a beat.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(eventbus.Event{Topic: eventbus.TopicReminderDue, Data: msgFor("42", "Stand up")})

	select {
	case text := <-ad.gotCh:
		if text != "*Stand up*" {
			t.Fatalf("sent %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bus event not delivered")
	}
}

func TestRetryAfterTransientFailure(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.fails = 2
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Enqueue(ctx, msgFor("42", "Retry me")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case text := <-ad.gotCh:
		if text != "*Retry me*" {
			t.Fatalf("sent %q", text)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("alert never delivered after retries")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, nil, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)

	if err := s.Enqueue(ctx, msgFor("42", "too late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestNonNumericUserSkipped(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, ad, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Enqueue(ctx, msgFor("not-a-chat", "oops")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case text := <-ad.gotCh:
		t.Fatalf("unexpected delivery %q", text)
	case <-time.After(200 * time.Millisecond):
	}
}
