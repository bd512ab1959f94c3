package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/engine"
	"remindbot/internal/timerset"
	"remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

const handlerTimeout = 15 * time.Second

// listButtonRows caps how many /list rows get their own button row.
const listButtonRows = 20

// commandOrder fixes the /help and menu ordering.
var commandOrder = []string{"start", "remind", "list", "rename", "move", "remove", "help"}

func (r *Router) registerCommands() {
	cmds := []Command{
		{
			Name:        "start",
			Description: "what this bot does",
			Usage:       "/start",
			Handle:      r.cmdStart,
		},
		{
			Name:        "remind",
			Description: "create a reminder",
			Usage:       "/remind <text> @ <time>",
			Handle:      r.cmdRemind,
		},
		{
			Name:        "list",
			Description: "reminders for a day",
			Usage:       "/list [today|tomorrow|2026-01-02]",
			Handle:      r.cmdList,
		},
		{
			Name:        "rename",
			Description: "rename reminders",
			Usage:       "/rename <old name> -> <new name>",
			Handle:      r.cmdRename,
		},
		{
			Name:        "move",
			Description: "reschedule reminders",
			Usage:       "/move [name @] <old time> -> <new time>",
			Handle:      r.cmdMove,
		},
		{
			Name:        "remove",
			Description: "delete reminders",
			Usage:       "/remove <name>[ @ <time>] or /remove @ <time>",
			Handle:      r.cmdRemove,
		},
		{
			Name:        "help",
			Description: "show help",
			Usage:       "/help",
			Handle:      r.cmdHelp,
		},
	}

	r.mu.Lock()
	for _, c := range cmds {
		c.Timeout = handlerTimeout
		r.commands[c.Name] = c
	}
	r.mu.Unlock()
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	return r.replyWith(ctx, req, text, nil)
}

func (r *Router) replyWith(ctx context.Context, req *Request, text string, markup any) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text,
		&transport.SendOptions{ParseMode: "Markdown", DisablePreview: true, ReplyMarkup: markup})
	return err
}

// renderErr maps engine errors to user-facing text. The error itself is
// already logged by the request middleware.
func renderErr(err error) string {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return "Can't do that: " + verr.Reason + "."
	}
	if errors.Is(err, engine.ErrNotFound) {
		return "Nothing matched that."
	}
	var cerr *engine.ConcurrencyError
	if errors.As(err, &cerr) {
		return "Things changed underneath me, please try again."
	}
	return "Storage trouble, please try again later."
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Hi! I keep your reminders and ping you when they are due.\n\n")
	r.mu.RLock()
	for _, name := range commandOrder {
		if c, ok := r.commands[name]; ok {
			fmt.Fprintf(&b, "%s — %s\n", c.Usage, c.Description)
		}
	}
	r.mu.RUnlock()
	b.WriteString("\nTimes look like 2026-01-02T15:04 (bot timezone: ")
	b.WriteString(r.engine.Location().String())
	b.WriteString(").")
	kb := tgui.ReplyKeyboard(
		[]string{"/list today", "/list tomorrow"},
		[]string{"/remind", "/help"},
	)
	return r.replyWith(ctx, req, b.String(), kb)
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	return r.cmdStart(ctx, req)
}

func (r *Router) cmdRemind(ctx context.Context, req *Request) error {
	text, stamp, ok := splitAt(req.Args)
	if !ok {
		return r.reply(ctx, req, "Usage: /remind <text> @ <time>")
	}
	at, err := parseStamp(stamp, r.engine.Location())
	if err != nil {
		return r.reply(ctx, req, err.Error())
	}

	rem, err := r.engine.Create(ctx, req.UserID, text, at)
	if err != nil {
		return r.reply(ctx, req, renderErr(err))
	}
	return r.reply(ctx, req, fmt.Sprintf("Noted. I'll remind you about *%s* %s (%s).",
		rem.Text, humanize.Time(rem.Time), stampText(rem.Time, r.engine.Location())))
}

func (r *Router) cmdList(ctx context.Context, req *Request) error {
	day, err := parseDay(req.Args, r.engine.Location(), time.Now())
	if err != nil {
		return r.reply(ctx, req, err.Error())
	}

	items, err := r.engine.ListForDate(ctx, req.UserID, day)
	if err != nil {
		return r.reply(ctx, req, renderErr(err))
	}
	if len(items) == 0 {
		return r.reply(ctx, req, fmt.Sprintf("Nothing on %s.", day.Format("2006-01-02")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reminders for %s:\n", day.Format("2006-01-02"))
	loc := r.engine.Location()
	kb := tgui.NewInline()
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s *%s* (%s)\n",
			i+1, it.Time.In(loc).Format("15:04"), it.Text, humanize.Time(it.Time))
		// One callback token per row; the four buttons share it, and a
		// delete invalidates them together. Telegram allows at most 100
		// buttons per message, so long days fall back to text-only rows.
		if i >= listButtonRows {
			continue
		}
		token := r.tokens.Issue(timerset.FireMessage{
			UserID:     req.UserID,
			ReminderID: it.ID,
			Text:       it.Text,
			Time:       it.Time,
		})
		tag := strconv.Itoa(i + 1)
		kb.Row(
			tgui.Btn(tag+" info", rowCallbackData(ActionDetails, token)),
			tgui.Btn("rename", rowCallbackData(ActionRename, token)),
			tgui.Btn("move", rowCallbackData(ActionMove, token)),
			tgui.Btn("delete", rowCallbackData(ActionDelete, token)),
		)
	}
	return r.replyWith(ctx, req, b.String(), kb.Markup())
}

func (r *Router) cmdRename(ctx context.Context, req *Request) error {
	oldName, newName, ok := splitArrow(req.Args)
	if !ok || oldName == "" || newName == "" {
		return r.reply(ctx, req, "Usage: /rename <old name> -> <new name>")
	}

	n, err := r.engine.Rename(ctx, req.UserID, oldName, newName)
	if err != nil {
		return r.reply(ctx, req, renderErr(err))
	}
	return r.reply(ctx, req, fmt.Sprintf("Renamed %s to *%s*.", countNoun(n, "reminder"), newName))
}

func (r *Router) cmdMove(ctx context.Context, req *Request) error {
	left, right, ok := splitArrow(req.Args)
	if !ok || left == "" || right == "" {
		return r.reply(ctx, req, "Usage: /move [name @] <old time> -> <new time>")
	}

	// left side may be "name @ time" or just a time
	name := ""
	oldRaw := left
	if t, stamp, hasName := splitAt(left); hasName {
		name, oldRaw = t, stamp
	}

	loc := r.engine.Location()
	oldAt, err := parseStamp(oldRaw, loc)
	if err != nil {
		return r.reply(ctx, req, err.Error())
	}
	newAt, err := parseStamp(right, loc)
	if err != nil {
		return r.reply(ctx, req, err.Error())
	}

	n, err := r.engine.Reschedule(ctx, req.UserID, name, oldAt, newAt)
	if err != nil {
		return r.reply(ctx, req, renderErr(err))
	}
	return r.reply(ctx, req, fmt.Sprintf("Moved %s to %s (%s).",
		countNoun(n, "reminder"), stampText(newAt, loc), humanize.Time(newAt)))
}

func (r *Router) cmdRemove(ctx context.Context, req *Request) error {
	args := strings.TrimSpace(req.Args)
	if args == "" {
		return r.reply(ctx, req, "Usage: /remove <name>[ @ <time>] or /remove @ <time>")
	}

	name := args
	var at time.Time
	loc := r.engine.Location()
	if strings.HasPrefix(args, "@ ") {
		// time-only removal
		parsed, err := parseStamp(args[2:], loc)
		if err != nil {
			return r.reply(ctx, req, err.Error())
		}
		name, at = "", parsed
	} else if t, stamp, ok := splitAt(args); ok {
		parsed, err := parseStamp(stamp, loc)
		if err != nil {
			return r.reply(ctx, req, err.Error())
		}
		name, at = t, parsed
	}

	n, err := r.engine.Remove(ctx, req.UserID, name, at)
	if err != nil {
		return r.reply(ctx, req, renderErr(err))
	}
	if n == 0 {
		return r.reply(ctx, req, "Nothing matched; nothing removed.")
	}
	return r.reply(ctx, req, fmt.Sprintf("Removed %s.", countNoun(n, "reminder")))
}

func stampText(at time.Time, loc *time.Location) string {
	return at.In(loc).Format("2006-01-02 15:04")
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
