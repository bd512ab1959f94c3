// Package eventbus carries small in-process signals between components:
// the timer set publishes due reminders here and the notifier consumes
// them, so neither imports the other.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic names an event stream on the bus.
type Topic string

const (
	// TopicReminderDue carries a timerset.FireMessage in Data.
	TopicReminderDue Topic = "reminder.due"
	// TopicConfigReloaded carries the new *config.Config in Data.
	TopicConfigReloaded Topic = "config.reloaded"
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscriber channels are buffered; slow subscribers drop events.
//
// Data should be a small plain-data value.
type Event struct {
	Topic Topic
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events matching topic. An empty topic matches
	// everything.
	Subscribe(topic Topic, buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no background
// goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]subscriber{}}
}

type subscriber struct {
	topic Topic
	ch    chan Event
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot so Publish holds no lock while attempting sends.
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == "" || s.topic == e.Topic {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// Non-blocking delivery; a concurrently unsubscribed channel may be
		// closed, so recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(topic Topic, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = subscriber{topic: topic, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
