// Package dispatch consumes queue entries and fans them out to subscribers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pepperbot/internal/eventbus"
	"pepperbot/internal/metrics"
	"pepperbot/internal/queue"
	"pepperbot/internal/store"
	"pepperbot/internal/transport"
	logx "pepperbot/pkg/logx"
)

type Outcome string

const (
	OutcomeMalformed Outcome = "malformed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeGated     Outcome = "gated"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDelivered Outcome = "delivered"
)

// Claimer is the consumer's view of the idempotency store.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Flags is the consumer's view of the config store.
type Flags interface {
	Operational(ctx context.Context) (bool, error)
	Incr(ctx context.Context, key string, n int64) (int64, error)
}

type Subscribers interface {
	List(ctx context.Context) (map[string][]string, error)
}

type Options struct {
	// Consumer identifies this process inside the consumer group.
	Consumer    string
	SendTimeout time.Duration
	RatePerSec  int
	// MarkWhenDisabled keeps the marker and acks entries while delivery is
	// switched off. When false the entry is handed back for later.
	MarkWhenDisabled bool
	// DeferPause is how long the loop waits after handing an entry back.
	DeferPause time.Duration
}

type Dispatcher struct {
	q       queue.Queue
	claims  Claimer
	flags   Flags
	subs    Subscribers
	sender  transport.Sender
	bus     eventbus.Bus
	log     logx.Logger
	opt     Options
	limiter *rate.Limiter

	markWhenDisabled atomic.Bool
}

func New(q queue.Queue, c Claimer, f Flags, s Subscribers, sender transport.Sender, bus eventbus.Bus, log logx.Logger, opt Options) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 10 * time.Second
	}
	if opt.DeferPause <= 0 {
		opt.DeferPause = 5 * time.Second
	}
	d := &Dispatcher{
		q: q, claims: c, flags: f, subs: s, sender: sender, bus: bus,
		log: log, opt: opt,
		limiter: rate.NewLimiter(limitFor(opt.RatePerSec), burstFor(opt.RatePerSec)),
	}
	d.markWhenDisabled.Store(opt.MarkWhenDisabled)
	return d
}

func limitFor(perSec int) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

func burstFor(perSec int) int {
	if perSec <= 0 {
		return 1
	}
	return perSec
}

// SetRate changes the send rate limit live.
func (d *Dispatcher) SetRate(perSec int) {
	d.limiter.SetLimit(limitFor(perSec))
	d.limiter.SetBurst(burstFor(perSec))
}

func (d *Dispatcher) SetMarkWhenDisabled(v bool) { d.markWhenDisabled.Store(v) }

// Run pops and handles entries until ctx is done. Any store failure other
// than an empty block timeout ends the loop with an error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started",
		logx.String("backend", d.q.Name()),
		logx.String("consumer", d.opt.Consumer),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		e, err := d.q.Pop(ctx, d.opt.Consumer)
		if errors.Is(err, queue.ErrNoEntry) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pop: %w", err)
		}
		out, err := d.Handle(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if out == OutcomeDeferred {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.opt.DeferPause):
			}
		}
	}
}

// Handle processes one popped entry. Only a lost store connection is
// returned as an error; other store failures are logged and tolerated.
func (d *Dispatcher) Handle(ctx context.Context, e queue.Entry) (Outcome, error) {
	ev := e.Event
	log := d.log.With(logx.String("id", ev.ID))

	if ev.ID == "" {
		if err := d.ack(ctx, e); err != nil {
			return "", err
		}
		log.Warn("skipping malformed entry", logx.String("entry", e.StreamID))
		return d.done(OutcomeMalformed), nil
	}

	claimed, err := d.claims.Claim(ctx, ev.ID)
	if err != nil {
		if store.IsConnectionError(err) {
			return "", fmt.Errorf("claim %s: %w", ev.ID, err)
		}
		log.Warn("marker write failed; delivering anyway", logx.Err(err))
		claimed = true
	}
	if !claimed {
		if err := d.ack(ctx, e); err != nil {
			return "", err
		}
		log.Debug("duplicate entry")
		eventbus.Publish(d.bus, eventbus.TypeDealDuplicate, eventbus.DealData{ID: ev.ID, Category: ev.Category})
		return d.done(OutcomeDuplicate), nil
	}

	markWhenDisabled := d.markWhenDisabled.Load()
	if markWhenDisabled {
		if err := d.ack(ctx, e); err != nil {
			return "", err
		}
	}

	on, err := d.flags.Operational(ctx)
	if err != nil {
		if store.IsConnectionError(err) {
			return "", fmt.Errorf("read operational flag: %w", err)
		}
		log.Warn("operational flag unreadable; assuming enabled", logx.Err(err))
		on = true
	}
	if !on {
		eventbus.Publish(d.bus, eventbus.TypeDealGated, eventbus.DealData{ID: ev.ID, Category: ev.Category})
		if markWhenDisabled {
			log.Debug("delivery disabled; entry consumed")
			return d.done(OutcomeGated), nil
		}
		return d.deferEntry(ctx, e)
	}
	if !markWhenDisabled {
		if err := d.ack(ctx, e); err != nil {
			return "", err
		}
	}

	if err := d.incr(ctx, store.KeyDealsSent, 1); err != nil {
		return "", err
	}
	sent, failed, err := d.fanout(ctx, ev)
	if err != nil {
		return "", err
	}
	if sent > 0 {
		if err := d.incr(ctx, store.KeyMessagesSent, int64(sent)); err != nil {
			return "", err
		}
	}
	eventbus.Publish(d.bus, eventbus.TypeDealDelivered, eventbus.DealData{ID: ev.ID, Category: ev.Category, Sent: sent, Failed: failed})
	log.Info("deal dispatched", logx.Int("sent", sent), logx.Int("failed", failed), logx.String("category", ev.Category))
	return d.done(OutcomeDelivered), nil
}

func (d *Dispatcher) deferEntry(ctx context.Context, e queue.Entry) (Outcome, error) {
	if err := d.claims.Release(ctx, e.Event.ID); err != nil {
		if store.IsConnectionError(err) {
			return "", fmt.Errorf("release %s: %w", e.Event.ID, err)
		}
		d.log.Warn("marker release failed", logx.String("id", e.Event.ID), logx.Err(err))
	}
	if err := d.q.Requeue(ctx, e); err != nil {
		return "", fmt.Errorf("requeue %s: %w", e.Event.ID, err)
	}
	d.log.Debug("delivery disabled; entry deferred", logx.String("id", e.Event.ID))
	return d.done(OutcomeDeferred), nil
}

func (d *Dispatcher) fanout(ctx context.Context, ev queue.Event) (sent, failed int, err error) {
	start := time.Now()
	defer func() { metrics.FanoutDuration.Observe(time.Since(start).Seconds()) }()

	subs, err := d.subs.List(ctx)
	if err != nil {
		if store.IsConnectionError(err) {
			return 0, 0, fmt.Errorf("list subscribers: %w", err)
		}
		d.log.Warn("listing subscribers failed", logx.String("id", ev.ID), logx.Err(err))
		return 0, 0, nil
	}

	addrs := make([]string, 0, len(subs))
	for addr := range subs {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)

	text := Format(ev.Title, ev.Link)
	for _, addr := range addrs {
		if !Wants(subs[addr], ev.Category) {
			continue
		}
		target, ok := ParseAddress(addr)
		if !ok {
			d.log.Warn("invalid subscriber address", logx.String("addr", addr))
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return sent, failed, nil
		}
		if err := d.send(ctx, target, text); err != nil {
			failed++
			metrics.SendErrors.Inc()
			d.log.Warn("send failed", logx.String("id", ev.ID), logx.String("addr", addr), logx.Err(err))
			continue
		}
		sent++
		metrics.MessagesSent.Inc()
	}
	return sent, failed, nil
}

func (d *Dispatcher) send(ctx context.Context, to transport.ChatTarget, text string) error {
	sctx, cancel := context.WithTimeout(ctx, d.opt.SendTimeout)
	defer cancel()
	_, err := d.sender.SendText(sctx, to, text, &transport.SendOptions{ParseMode: transport.ParseMarkdownV2})
	return err
}

func (d *Dispatcher) ack(ctx context.Context, e queue.Entry) error {
	err := d.q.Ack(ctx, e)
	if err == nil {
		return nil
	}
	if store.IsConnectionError(err) {
		return err
	}
	d.log.Warn("ack failed", logx.String("entry", e.StreamID), logx.Err(err))
	return nil
}

// incr is best effort unless the connection is gone.
func (d *Dispatcher) incr(ctx context.Context, key string, n int64) error {
	if _, err := d.flags.Incr(ctx, key, n); err != nil {
		if store.IsConnectionError(err) {
			return fmt.Errorf("incr %s: %w", key, err)
		}
		d.log.Warn("counter increment failed", logx.String("key", key), logx.Err(err))
	}
	return nil
}

func (d *Dispatcher) done(o Outcome) Outcome {
	metrics.EntriesProcessed.WithLabelValues(string(o)).Inc()
	return o
}

// Wants reports whether a subscriber filter accepts category.
// A nil or empty filter accepts everything.
func Wants(filter []string, category string) bool {
	return len(filter) == 0 || slices.Contains(filter, category)
}

// ParseAddress turns a stored subscriber key into a chat target.
// "chat" and "chat:thread" are accepted.
func ParseAddress(addr string) (transport.ChatTarget, bool) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(addr), ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, false
	}
	t := transport.ChatTarget{ChatID: id}
	if hasThread {
		n, err := strconv.Atoi(thread)
		if err != nil || n < 0 {
			return transport.ChatTarget{}, false
		}
		t.ThreadID = n
	}
	return t, true
}

// Address is the inverse of ParseAddress.
func Address(t transport.ChatTarget) string {
	if t.ThreadID > 0 {
		return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}
