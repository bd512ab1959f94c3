package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/engine"
	"remindbot/internal/notifier"
	"remindbot/internal/transport"
)

// Button actions. Snooze/Confirm sit on alerts, the rest on /list rows.
const (
	ActionSnooze  = "snooze"
	ActionConfirm = "confirm"
	ActionDetails = "info"
	ActionRename  = "rename"
	ActionMove    = "move"
	ActionDelete  = "del"
)

func (r *Router) registerCallbacks() {
	routes := []CallbackRoute{
		{Action: ActionSnooze, Timeout: handlerTimeout, Handle: r.cbSnooze},
		{Action: ActionConfirm, Timeout: handlerTimeout, Handle: r.cbConfirm},
		{Action: ActionDetails, Timeout: handlerTimeout, Handle: r.cbDetails},
		{Action: ActionRename, Timeout: handlerTimeout, Handle: r.cbRenameHint},
		{Action: ActionMove, Timeout: handlerTimeout, Handle: r.cbMoveHint},
		{Action: ActionDelete, Timeout: handlerTimeout, Handle: r.cbDelete},
	}
	r.mu.Lock()
	for _, rt := range routes {
		r.callbacks[rt.Action] = rt
	}
	r.mu.Unlock()
}

// editAlert rewrites the alert message, dropping its buttons.
func (r *Router) editAlert(ctx context.Context, req *Request, text string) {
	if req.Update.Callback == nil {
		return
	}
	ref := transport.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.Update.Callback.MessageID}
	_ = req.Adapter.EditText(ctx, ref, text, &transport.SendOptions{ParseMode: "Markdown"})
}

func (r *Router) cbSnooze(ctx context.Context, req *Request, token string) error {
	msg, ok := r.tokens.Lookup(token)
	if !ok {
		r.editAlert(ctx, req, "This reminder is no longer around.")
		return nil
	}
	// Alerts are delivered to the owner's chat; anything else is stale data.
	if msg.UserID != req.UserID {
		return nil
	}

	offset := r.snoozeOffset()
	newAt := time.Now().Add(offset).Truncate(time.Second)
	_, err := r.engine.Reschedule(ctx, msg.UserID, msg.Text, msg.Time, newAt)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			r.tokens.Delete(token)
			r.editAlert(ctx, req, "This reminder is no longer around.")
			return nil
		}
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, renderErr(err))
		return err
	}

	r.tokens.Delete(token)
	loc := r.engine.Location()
	r.editAlert(ctx, req, fmt.Sprintf("%s\nSnoozed until %s.",
		notifier.AlertText(msg.Text), newAt.In(loc).Format("15:04")))
	return nil
}

func (r *Router) cbConfirm(ctx context.Context, req *Request, token string) error {
	msg, ok := r.tokens.Lookup(token)
	if !ok {
		r.editAlert(ctx, req, "This reminder is no longer around.")
		return nil
	}
	if msg.UserID != req.UserID {
		return nil
	}

	_, err := r.engine.Remove(ctx, msg.UserID, msg.Text, msg.Time)
	if err != nil {
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, renderErr(err))
		return err
	}

	r.tokens.Delete(token)
	r.editAlert(ctx, req, notifier.AlertText(msg.Text)+"\nDone ✓")
	return nil
}

// staleRow answers a /list row press whose token has expired. The list
// message itself stays as it was, it may cover other rows too.
func (r *Router) staleRow(ctx context.Context, req *Request) error {
	return r.reply(ctx, req, "That list is stale, run /list again.")
}

func (r *Router) cbDetails(ctx context.Context, req *Request, token string) error {
	msg, ok := r.tokens.Lookup(token)
	if !ok {
		return r.staleRow(ctx, req)
	}
	if msg.UserID != req.UserID {
		return nil
	}

	loc := r.engine.Location()
	status := humanize.Time(msg.Time)
	return r.reply(ctx, req, fmt.Sprintf("*%s*\n%s (%s)",
		msg.Text, stampText(msg.Time, loc), status))
}

// cbRenameHint and cbMoveHint cannot collect free text through a button
// press, so they hand back a ready-to-edit command instead.
func (r *Router) cbRenameHint(ctx context.Context, req *Request, token string) error {
	msg, ok := r.tokens.Lookup(token)
	if !ok {
		return r.staleRow(ctx, req)
	}
	if msg.UserID != req.UserID {
		return nil
	}
	return r.reply(ctx, req, fmt.Sprintf("To rename, send:\n/rename %s -> <new name>", msg.Text))
}

func (r *Router) cbMoveHint(ctx context.Context, req *Request, token string) error {
	msg, ok := r.tokens.Lookup(token)
	if !ok {
		return r.staleRow(ctx, req)
	}
	if msg.UserID != req.UserID {
		return nil
	}
	stamp := msg.Time.In(r.engine.Location()).Format("2006-01-02T15:04")
	return r.reply(ctx, req, fmt.Sprintf("To reschedule, send:\n/move %s @ %s -> <new time>", msg.Text, stamp))
}

func (r *Router) cbDelete(ctx context.Context, req *Request, token string) error {
	msg, ok := r.tokens.Lookup(token)
	if !ok {
		return r.staleRow(ctx, req)
	}
	if msg.UserID != req.UserID {
		return nil
	}

	n, err := r.engine.Remove(ctx, msg.UserID, msg.Text, msg.Time)
	if err != nil {
		return r.reply(ctx, req, renderErr(err))
	}
	r.tokens.Delete(token)
	if n == 0 {
		return r.reply(ctx, req, "Nothing matched; nothing removed.")
	}
	return r.reply(ctx, req, fmt.Sprintf("Removed *%s*.", msg.Text))
}
