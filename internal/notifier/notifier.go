// Package notifier delivers reminder alerts. It consumes due-reminder
// events from the bus and pushes them through a worker pool with a shared
// rate limit and per-send retry, so a Telegram hiccup never blocks a
// firing timer.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/timerset"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	retryMax      = 3
	retryBase     = 500 * time.Millisecond
	retryMaxDelay = 10 * time.Second
	sendTimeout   = 10 * time.Second
)

// Config controls the delivery pipeline.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

// MarkupFunc builds the adapter-specific reply markup for an alert
// (the Snooze/Confirm buttons). Nil means no buttons.
type MarkupFunc func(msg timerset.FireMessage) any

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus
	markup  MarkupFunc

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan timerset.FireMessage
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

func New(cfg Config, adapter transport.Adapter, bus eventbus.Bus, markup MarkupFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, bus: bus, markup: markup, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	s.cfg = cfg
	// Token bucket with burst = rate so short spikes don't stall alerts.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Apply updates tunables on config reload. Queue and worker counts take
// effect on the next Start; the rate limit applies immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan timerset.FireMessage, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))))
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(eventbus.TopicReminderDue, s.cfg.QueueSize)
		sup.Go0("bus.consume", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					msg, ok := ev.Data.(timerset.FireMessage)
					if !ok {
						continue
					}
					if err := s.Enqueue(c, msg); err != nil {
						s.log.Warn("alert dropped",
							logx.String("user", msg.UserID),
							logx.String("id", msg.ReminderID), logx.Err(err))
					}
				}
			}
		})
	}

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return context.Canceled
			}
			return errors.New("notifier worker exited unexpectedly")
		}, 250*time.Millisecond, 10*time.Second)
	}
}

// Stop blocks intake and drains the queue best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Let in-flight enqueues finish, then close the queue so workers
		// drain and exit.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Enqueue queues one alert for delivery.
func (s *Service) Enqueue(ctx context.Context, msg timerset.FireMessage) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan timerset.FireMessage) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, msg)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, msg timerset.FireMessage) {
	s.mu.Lock()
	lim := s.limiter
	ad := s.adapter
	markup := s.markup
	s.mu.Unlock()
	if ad == nil {
		return
	}

	chatID, err := strconv.ParseInt(msg.UserID, 10, 64)
	if err != nil {
		s.log.Warn("alert for non-numeric user id skipped",
			logx.String("user", msg.UserID), logx.Err(err))
		return
	}

	opt := &transport.SendOptions{ParseMode: "Markdown"}
	if markup != nil {
		opt.ReplyMarkup = markup(msg)
	}
	text := AlertText(msg.Text)
	target := transport.ChatTarget{ChatID: chatID}

	var lastErr error
	for attempt := 1; attempt <= 1+retryMax; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := ad.SendText(callCtx, target, text, opt)
		cancel()
		if err == nil {
			s.log.Info("alert delivered",
				logx.String("user", msg.UserID), logx.String("id", msg.ReminderID))
			return
		}
		lastErr = err
		s.log.Debug("alert send failed",
			logx.Err(err), logx.Int("attempt", attempt))

		if attempt > retryMax {
			break
		}
		t := time.NewTimer(retryDelay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	s.log.Warn("alert delivery gave up",
		logx.String("user", msg.UserID), logx.String("id", msg.ReminderID),
		logx.Err(lastErr))
}

// AlertText renders the alert body. Matches the conversational style of
// the rest of the bot: just the reminder text, emphasized.
func AlertText(text string) string {
	return "*" + text + "*"
}

func retryDelay(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			d = retryMaxDelay
			break
		}
	}
	// 0.7..1.3 jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d = time.Duration(float64(d) * (0.7 + rng.Float64()*0.6))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}
