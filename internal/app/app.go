// Package app wires the pipeline together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pepperbot/internal/bot"
	"pepperbot/internal/broadcast"
	"pepperbot/internal/config"
	"pepperbot/internal/dispatch"
	"pepperbot/internal/eventbus"
	"pepperbot/internal/feed"
	"pepperbot/internal/ops"
	"pepperbot/internal/queue"
	"pepperbot/internal/runtime/supervisor"
	"pepperbot/internal/storage"
	"pepperbot/internal/store"
	"pepperbot/internal/task/scheduler"
	kit "pepperbot/internal/transport"
	telegram "pepperbot/internal/transport/telegram/adapter"
	"pepperbot/internal/transport/telegram/router"
	logx "pepperbot/pkg/logx"
	"pepperbot/pkg/systemd"
)

// Roles selects which loops this process runs. The zero value runs none.
type Roles struct {
	Poller     bool
	Dispatcher bool
	Bot        bool
}

func AllRoles() Roles { return Roles{Poller: true, Dispatcher: true, Bot: true} }

func (r Roles) String() string {
	var out []string
	if r.Poller {
		out = append(out, "poller")
	}
	if r.Dispatcher {
		out = append(out, "dispatcher")
	}
	if r.Bot {
		out = append(out, "bot")
	}
	return strings.Join(out, ",")
}

func (r Roles) needsTelegram() bool { return r.Dispatcher || r.Bot }

// Info is the build identity logged at startup.
type Info struct {
	Version string
	Commit  string
}

type App struct {
	roles Roles
	info  Info

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	ns       *store.Namespaces
	markers  *store.Markers
	settings *store.Settings
	dir      *store.Directory
	q        queue.Queue
	audit    storage.Store

	adapter kit.Adapter // nil for a poller-only process

	sched *scheduler.Service
	poll  *feed.Poller
	disp  *dispatch.Dispatcher
	bc    *broadcast.Service
	cmdm  *router.CommandManager
	ops   *ops.Server

	cmdRegistry []router.Command

	updates chan kit.Update
}

// New loads the configuration and connects to Redis. Nothing runs until Run.
func New(ctx context.Context, cfgPath string, roles Roles, info Info) (*App, error) {
	if roles == (Roles{}) {
		return nil, errors.New("no roles selected")
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a := &App{roles: roles, info: info, cfgm: cfgm, bus: eventbus.New(), updates: make(chan kit.Update, 256)}

	if roles.needsTelegram() {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
	}

	// The Telegram sink needs its target before it is enabled, so bootstrap
	// with it off and Apply the real config afterwards.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	var sink kit.Sender
	if a.adapter != nil {
		sink = a.adapter
	}
	a.logs, a.log = logx.New(boot, sink)
	a.logs.SetTelegramTarget(cfg.Telegram.AdminChatID)
	a.logs.Apply(logCfg)
	a.log = a.log.With(logx.String("comp", "app"))

	if err := a.connect(ctx, cfg); err != nil {
		_ = a.logs.Close()
		return nil, err
	}
	if err := a.build(cfg); err != nil {
		a.closeStores()
		_ = a.logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context, cfg *config.Config) error {
	ns, err := store.OpenNamespaces(ctx, cfg.RedisURL(), store.NamespaceDBs{
		Subscribers: config.DB(cfg.Redis.SubscriberDB, config.DefaultSubscriberDB),
		Messages:    config.DB(cfg.Redis.MessageDB, config.DefaultMessageDB),
		Config:      config.DB(cfg.Redis.ConfigDB, config.DefaultConfigDB),
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.ns = ns
	a.markers = store.NewMarkers(ns.Messages)
	a.settings = store.NewSettings(ns.Config)
	a.dir = store.NewDirectory(ns.Subscribers)

	if err := a.settings.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}

	block, err := config.ParseDurationField("queue.block_timeout", cfg.Queue.BlockTimeout)
	if err != nil {
		return err
	}
	claim, err := config.ParseDurationOrDefault("queue.claim_min_idle", cfg.Queue.ClaimMinIdle, config.DefaultClaimMinIdle)
	if err != nil {
		return err
	}
	q, err := queue.New(cfg.Backend(), ns.Messages, queue.Options{Block: block, ClaimMinIdle: claim, MaxLen: cfg.Queue.MaxLen})
	if err != nil {
		return err
	}
	if err := q.EnsureReady(ctx); err != nil {
		return fmt.Errorf("queue %s: %w", q.Name(), err)
	}
	a.q = q

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	audit, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.audit = audit
	return nil
}

func (a *App) build(cfg *config.Config) error {
	if a.roles.Poller {
		timeout, err := config.ParseDurationOrDefault("feed.timeout", cfg.Feed.Timeout, config.DefaultFeedTimeout)
		if err != nil {
			return err
		}
		url := strings.TrimSpace(cfg.Feed.URL)
		if url == "" {
			url = config.DefaultFeedURL
		}
		f := feed.NewHTTPFetcher(url, cfg.Feed.UserAgent, timeout)
		a.poll = feed.NewPoller(f, a.q, a.markers, a.bus, a.log.With(logx.String("comp", "feed")))
		a.sched = scheduler.New(scheduler.Config{}, a.log.With(logx.String("comp", "scheduler")))
	}

	if a.roles.Dispatcher {
		sendTimeout, err := config.ParseDurationOrDefault("dispatcher.send_timeout", cfg.Dispatcher.SendTimeout, config.DefaultSendTimeout)
		if err != nil {
			return err
		}
		a.disp = dispatch.New(a.q, a.markers, a.settings, a.dir, a.adapter, a.bus,
			a.log.With(logx.String("comp", "dispatcher")),
			dispatch.Options{
				Consumer:         uuid.NewString(),
				SendTimeout:      sendTimeout,
				RatePerSec:       dispatchRate(cfg),
				MarkWhenDisabled: cfg.MarkWhenDisabled(),
			})
	}

	if a.roles.Bot {
		a.bc = broadcast.New(mapBroadcastConfig(cfg), a.adapter, a.log.With(logx.String("comp", "broadcast")))
		h := bot.New(a.dir, a.settings, a.bc, a.audit, a.bus, a.log.With(logx.String("comp", "bot")))
		a.cmdm = router.NewCommandManager(a.log.With(logx.String("comp", "commands")), a.adapter, cfg.Telegram.AdminChatID)
		a.cmdRegistry = h.Commands()
	}

	if cfg.Ops.Enabled {
		oc, err := mapOpsConfig(cfg)
		if err != nil {
			return err
		}
		deps := ops.Deps{
			Stats:       a.settings,
			Subscribers: a.dir,
			Audit:       a.audit,
			Health:      a.Err,
		}
		if a.bc != nil {
			deps.Broadcasts = a.bc
		}
		a.ops = ops.New(oc, deps, a.log.With(logx.String("comp", "ops")))
	}
	return nil
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Run starts every selected loop and blocks until ctx is cancelled or a
// loop fails. The returned error is the first fatal one.
func (a *App) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		a.stop(context.Background())
		return err
	}
	<-a.sup.Context().Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.stop(stopCtx)
	return a.sup.Err()
}

func (a *App) start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.log.Info("starting",
		logx.String("version", a.info.Version),
		logx.String("commit", a.info.Commit),
		logx.String("roles", a.roles.String()),
		logx.String("queue", a.q.Name()),
	)

	cfg := a.cfgm.Get()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapOpsConfig(c); err != nil {
			return err
		}
		if a.roles.Bot && c.Telegram.AdminChatID == 0 {
			return errors.New("telegram.admin_chat_id cannot be cleared while the bot runs")
		}
		return nil
	})

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return err
		}
	}

	if a.poll != nil {
		every, err := config.ParseDurationOrDefault("feed.interval", cfg.Feed.Interval, config.DefaultFeedInterval)
		if err != nil {
			return err
		}
		timeout, _ := config.ParseDurationOrDefault("feed.timeout", cfg.Feed.Timeout, config.DefaultFeedTimeout)
		if err := a.poll.Register(a.sched, every, timeout); err != nil {
			return err
		}
		a.sched.Start(run)
		// a lost store is fatal; the scheduler hands it over instead of dying itself
		a.sup.Go("feed.poller", func(c context.Context) error {
			select {
			case <-c.Done():
				return nil
			case err := <-a.sched.Fatal():
				return err
			}
		})
	}

	if a.disp != nil {
		a.sup.Go("dispatcher", a.disp.Run)
	}

	if a.cmdm != nil {
		a.bc.Start(run)
		a.cmdm.SetRegistry(run, a.cmdRegistry)
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
	}

	if a.ops != nil {
		a.sup.GoRestart("ops.http", a.ops.Serve,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, iv, func() bool { return a.Err() == nil })
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

// stop tears down in reverse dependency order. Each step is bounded so one
// stuck component cannot stall shutdown.
func (a *App) stop(ctx context.Context) {
	_, _ = systemd.Stopping()
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.sched != nil {
		step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	if a.bc != nil {
		step("broadcast", 2*time.Second, func(c context.Context) error { a.bc.Stop(c); return nil })
	}
	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	// closing the clients also unblocks a pop waiting forever
	step("stores", time.Second, func(context.Context) error { return a.closeStores() })
	if a.sup != nil {
		step("supervisor", 3*time.Second, a.sup.Wait)
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
}

func (a *App) closeStores() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.ns != nil {
		errs = append(errs, a.ns.Close())
	}
	return errors.Join(errs...)
}
