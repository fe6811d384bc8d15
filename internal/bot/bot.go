// Package bot implements the chat commands users and the operator send.
package bot

import (
	"context"
	"time"

	"pepperbot/internal/eventbus"
	"pepperbot/internal/storage"
	"pepperbot/internal/transport"
	"pepperbot/internal/transport/telegram/router"
	logx "pepperbot/pkg/logx"
)

const (
	msgSignedUp     = "Signup was successful. You will now receive new updates from Pepper"
	msgStopped      = "Subscription was stopped successfully. You will now receive new updates from Pepper"
	msgFilterReset  = "No categories passed, disabled your category filters"
	msgServiceDown  = "Our service is currently down, please try again later."
	msgBotStopped   = "Stopped bot"
	msgBotStarted   = "Started bot"
	msgBroadcastUse = "Usage: /broadcast <text>"
)

// Directory is the subscriber store as the commands use it.
type Directory interface {
	List(ctx context.Context) (map[string][]string, error)
	Set(ctx context.Context, addr string, categories []string) error
	Delete(ctx context.Context, addr string) error
}

// Switch toggles delivery.
type Switch interface {
	SetOperational(ctx context.Context, on bool) error
}

// Broadcaster runs a send-to-many job in the background.
type Broadcaster interface {
	Submit(name string, targets []transport.ChatTarget, text string, opt *transport.SendOptions) (string, error)
}

type Handlers struct {
	dir   Directory
	flag  Switch
	bc    Broadcaster
	audit storage.Store // nil when storage is disabled
	bus   eventbus.Bus
	log   logx.Logger
}

func New(dir Directory, flag Switch, bc Broadcaster, audit storage.Store, bus eventbus.Bus, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{dir: dir, flag: flag, bc: bc, audit: audit, bus: bus, log: log}
}

// Commands returns the command table. /help is added by the router.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Signup for Pepperbot to receive messages when a new deal is listed", Handle: h.start},
		{Name: "stop", Description: "Cancel subscription for Pepperbot", Handle: h.stop},
		{Name: "categories", Description: "Signup for one of the Pepper categories. Only accepts comma-separated categories", Handle: h.categories},
		{Name: "available_categories", Description: "List available Pepper categories", Handle: h.availableCategories},
		{Name: "stop_bot", Description: "Stop bot from sending messages", Access: router.AccessAdmin, Handle: h.stopBot},
		{Name: "start_bot", Description: "Allow bot to send messages again", Access: router.AccessAdmin, Handle: h.startBot},
		{Name: "broadcast", Aliases: []string{"admin_broadcast"}, Description: "Broadcast to all subscribed users", Access: router.AccessAdmin, Timeout: 10 * time.Second, Handle: h.broadcast},
	}
}

func (h *Handlers) record(ctx context.Context, req *router.Request, e storage.AuditEntry) {
	e.At = time.Now()
	e.ActorID = req.FromID
	e.ChatID = req.Chat.ChatID
	if m := req.Update.Message; m != nil {
		e.ActorUsername = m.FromUsername
	}
	eventbus.Publish(h.bus, eventbus.TypeAdminAction, e)
	if h.audit == nil {
		return
	}
	if err := h.audit.AppendAudit(ctx, e); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}
