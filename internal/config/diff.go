package config

import (
	"reflect"

	logx "pepperbot/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"redis":   true,
	"feed":    true,
	"queue":   true,
	"ops":     true,
	"storage": true,
}

// SummarizeConfigChange lists the changed top-level sections, a set of
// log-safe fields (never secrets), and the subset that needs a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(section string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if restartSections[section] {
			restart = append(restart, section)
		}
	}

	mark("telegram",
		oldCfg.Telegram.AdminChatID != newCfg.Telegram.AdminChatID ||
			oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
			oldCfg.Telegram.Token != newCfg.Telegram.Token,
		logx.Bool("telegram.admin_set", newCfg.Telegram.AdminChatID != 0),
		logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
	)
	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)
	mark("dispatcher", !reflect.DeepEqual(oldCfg.Dispatcher, newCfg.Dispatcher),
		logx.Int("dispatcher.rate_per_sec", newCfg.Dispatcher.RatePerSec),
	)
	mark("redis", !reflect.DeepEqual(oldCfg.Redis, newCfg.Redis))
	mark("feed", oldCfg.Feed != newCfg.Feed, logx.String("feed.url", newCfg.Feed.URL))
	mark("queue", oldCfg.Queue != newCfg.Queue, logx.String("queue.backend", newCfg.Queue.Backend))
	mark("ops", oldCfg.Ops != newCfg.Ops, logx.Bool("ops.enabled", newCfg.Ops.Enabled))
	mark("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage))
	return changed, attrs, restart
}
