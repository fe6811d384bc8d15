package app

import (
	"context"
	"strings"

	"pepperbot/internal/config"
	logx "pepperbot/pkg/logx"
)

// startReload applies hot-reloadable settings: logging, the admin chat,
// the dispatcher rate and mark-when-disabled. Other sections are logged as
// needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.apply(last, next)
				last = next
			}
		}
	})
}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetTelegramTarget(next.Telegram.AdminChatID)
	a.logs.Apply(mapLogConfig(next))

	if a.cmdm != nil {
		a.cmdm.SetAdmin(next.Telegram.AdminChatID)
	}
	if a.bc != nil {
		a.bc.Apply(mapBroadcastConfig(next))
	}
	if a.disp != nil {
		a.disp.SetRate(dispatchRate(next))
		a.disp.SetMarkWhenDisabled(next.MarkWhenDisabled())
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
