// Package router turns transport updates into engine calls: slash commands
// for the conversational surface and callback routes for the alert buttons.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/timerset"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// EnginePort is the slice of the engine the router needs.
type EnginePort interface {
	Create(ctx context.Context, userID, text string, at time.Time) (reminder.Reminder, error)
	ListForDate(ctx context.Context, userID string, day time.Time) ([]reminder.Reminder, error)
	Rename(ctx context.Context, userID, oldName, newName string) (int, error)
	Reschedule(ctx context.Context, userID, name string, oldAt, newAt time.Time) (int, error)
	Remove(ctx context.Context, userID, name string, at time.Time) (int, error)
	Location() *time.Location
}

type Command struct {
	Name        string
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	UserID  string // engine user id; the chat id as a string
	Command string
	Args    string // everything after the command word
	Payload string // callback payload

	Adapter transport.Adapter
	Logger  logx.Logger
}

// callbackPrefix namespaces the bot's callback data; old buttons from
// other bots in the same chat are ignored.
const callbackPrefix = "rem"

type Router struct {
	log     logx.Logger
	adapter transport.Adapter
	engine  EnginePort
	tokens  *Tokens

	// snoozeOffset is read per press so config reloads apply immediately.
	snoozeOffset func() time.Duration

	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute

	jobs chan func()
}

func New(adapter transport.Adapter, engine EnginePort, tokens *Tokens, snoozeOffset func() time.Duration, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if snoozeOffset == nil {
		snoozeOffset = func() time.Duration { return 10 * time.Minute }
	}
	r := &Router{
		log:          log,
		adapter:      adapter,
		engine:       engine,
		tokens:       tokens,
		snoozeOffset: snoozeOffset,
		commands:     map[string]Command{},
		callbacks:    map[string]CallbackRoute{},
		jobs:         make(chan func(), 256),
	}
	r.registerCommands()
	r.registerCallbacks()
	return r
}

// MenuCommands lists the registered commands for the platform menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.commands))
	for _, c := range commandOrder {
		cmd, ok := r.commands[c]
		if !ok {
			continue
		}
		out = append(out, transport.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	return out
}

// DispatchLoop consumes updates until ctx ends or the channel closes.
// Handlers run on a bounded worker pool so one slow storage call cannot
// stall the poll loop.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in handler job",
									logx.Int("worker", idx), logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}(i)
	}
	r.log.Info("dispatcher started", logx.Int("workers", workers))

	defer func() {
		close(r.jobs)
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case transport.UpdateMessage:
				r.routeMessage(ctx, up)
			case transport.UpdateCallback:
				r.routeCallback(ctx, up)
			}
		}
	}
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	word, args := splitCommandLine(text)

	r.mu.RLock()
	cmd, ok := r.commands[word]
	r.mu.RUnlock()
	if !ok {
		chat := transport.ChatTarget{ChatID: msg.ChatID}
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help.", nil)
		return
	}

	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID},
		FromID:  msg.FromID,
		UserID:  strconv.FormatInt(msg.ChatID, 10),
		Command: cmd.Name,
		Args:    args,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", cmd.Name)),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, req.Chat, "Busy, try again.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up transport.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return
	}
	action, payload := parts[1], parts[2]

	r.mu.RLock()
	route, ok := r.callbacks[action]
	r.mu.RUnlock()
	if !ok {
		return
	}

	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		UserID:  strconv.FormatInt(cb.ChatID, 10),
		Command: "cb:" + action,
		Payload: payload,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.Int64("chat_id", cb.ChatID),
			logx.String("cmd", "cb:"+action)),
	}

	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, payload) }
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(route.Timeout),
	)
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		// stop the "loading" spinner
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

// AlertCallbackData builds the callback data for one alert button.
func AlertCallbackData(action string, msg timerset.FireMessage, tokens *Tokens) string {
	return rowCallbackData(action, tokens.Issue(msg))
}

func rowCallbackData(action, token string) string {
	return callbackPrefix + ":" + action + ":" + token
}

// splitCommandLine separates the command word from its argument tail and
// strips a trailing @botname mention.
func splitCommandLine(text string) (word, args string) {
	word = text
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		word, args = text[:i], strings.TrimSpace(text[i+1:])
	}
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), args
}
