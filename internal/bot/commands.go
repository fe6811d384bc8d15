package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pepperbot/internal/category"
	"pepperbot/internal/dispatch"
	"pepperbot/internal/storage"
	"pepperbot/internal/transport"
	"pepperbot/internal/transport/telegram/router"
	logx "pepperbot/pkg/logx"
)

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	if err := h.dir.Set(ctx, dispatch.Address(req.Chat), nil); err != nil {
		req.Logger.Warn("subscribe failed", logx.Err(err))
		return req.Reply(ctx, msgServiceDown)
	}
	return req.Reply(ctx, msgSignedUp)
}

func (h *Handlers) stop(ctx context.Context, req *router.Request) error {
	if err := h.dir.Delete(ctx, dispatch.Address(req.Chat)); err != nil {
		req.Logger.Warn("unsubscribe failed", logx.Err(err))
		return req.Reply(ctx, msgServiceDown)
	}
	return req.Reply(ctx, msgStopped)
}

// categories replaces the chat's filter. No recognised category resets it
// to "everything", and also subscribes a chat that was not signed up yet.
func (h *Handlers) categories(ctx context.Context, req *router.Request) error {
	matched := category.MatchList(req.Text)
	req.Logger.Debug("categories matched", logx.String("input", req.Text), logx.Any("matched", matched))

	addr := dispatch.Address(req.Chat)
	if err := h.dir.Set(ctx, addr, matched); err != nil {
		req.Logger.Warn("set categories failed", logx.Err(err))
		return req.Reply(ctx, msgServiceDown)
	}
	if len(matched) == 0 {
		return req.Reply(ctx, msgFilterReset)
	}
	return req.Reply(ctx, "Signed up for "+strings.Join(matched, ", "))
}

func (h *Handlers) availableCategories(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "The following categories are available for signups: \n\n"+strings.Join(category.Canonical, "\n"))
}

func (h *Handlers) stopBot(ctx context.Context, req *router.Request) error {
	return h.toggle(ctx, req, false)
}

func (h *Handlers) startBot(ctx context.Context, req *router.Request) error {
	return h.toggle(ctx, req, true)
}

func (h *Handlers) toggle(ctx context.Context, req *router.Request, on bool) error {
	e := storage.AuditEntry{Action: req.Command}
	if err := h.flag.SetOperational(ctx, on); err != nil {
		e.Fail, e.Error = 1, err.Error()
		h.record(ctx, req, e)
		req.Logger.Warn("operational toggle failed", logx.Bool("on", on), logx.Err(err))
		return req.Reply(ctx, msgServiceDown)
	}
	e.OK = 1
	h.record(ctx, req, e)
	req.Logger.Info("operational flag changed", logx.Bool("on", on))
	if on {
		return req.Reply(ctx, msgBotStarted)
	}
	return req.Reply(ctx, msgBotStopped)
}

// broadcast sends req.Text to every subscriber, ignoring category filters.
func (h *Handlers) broadcast(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return req.Reply(ctx, msgBroadcastUse)
	}
	start := time.Now()
	e := storage.AuditEntry{Action: req.Command}

	subs, err := h.dir.List(ctx)
	if err != nil {
		e.Error = err.Error()
		h.record(ctx, req, e)
		req.Logger.Warn("list subscribers failed", logx.Err(err))
		return req.Reply(ctx, msgServiceDown)
	}
	targets := Targets(subs)

	id, err := h.bc.Submit(req.Command, targets, text, &transport.SendOptions{DisablePreview: true})
	e.Target = id
	e.TookMS = time.Since(start).Milliseconds()
	if err != nil {
		e.Fail, e.Error = len(targets), err.Error()
		h.record(ctx, req, e)
		return req.Reply(ctx, "Broadcast failed: "+err.Error())
	}
	e.OK = len(targets)
	h.record(ctx, req, e)
	return req.Reply(ctx, fmt.Sprintf("Broadcast %s queued for %d subscribers", id, len(targets)))
}

// Targets converts subscriber addresses to chat targets in a stable order.
// Unparseable addresses are skipped.
func Targets(subs map[string][]string) []transport.ChatTarget {
	addrs := make([]string, 0, len(subs))
	for a := range subs {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	out := make([]transport.ChatTarget, 0, len(addrs))
	for _, a := range addrs {
		if t, ok := dispatch.ParseAddress(a); ok {
			out = append(out, t)
		}
	}
	return out
}
