package feed

import (
	"context"
	"fmt"
	"time"

	"pepperbot/internal/category"
	"pepperbot/internal/eventbus"
	"pepperbot/internal/metrics"
	"pepperbot/internal/queue"
	"pepperbot/internal/store"
	logx "pepperbot/pkg/logx"
)

// Dedup is the producer's view of the idempotency store.
type Dedup interface {
	Seen(ctx context.Context, id string) (bool, error)
	Enqueued(ctx context.Context, id string) (bool, error)
	MarkEnqueued(ctx context.Context, id string) error
}

type Pusher interface {
	Push(ctx context.Context, ev queue.Event) (string, error)
}

type CycleReport struct {
	Fetched  int           `json:"fetched"`
	Enqueued int           `json:"enqueued"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

type Poller struct {
	fetch Fetcher
	queue Pusher
	dedup Dedup
	bus   eventbus.Bus
	log   logx.Logger
}

func NewPoller(f Fetcher, q Pusher, d Dedup, bus eventbus.Bus, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{fetch: f, queue: q, dedup: d, bus: bus, log: log}
}

// Cycle runs one poll. A fetch failure abandons the cycle and returns nil;
// the next tick retries. Only a lost store connection is returned.
func (p *Poller) Cycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	var rep CycleReport

	items, err := p.fetch.Fetch(ctx)
	metrics.FeedFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedCycles.WithLabelValues("fetch_error").Inc()
		p.log.Warn("feed fetch failed; skipping cycle", logx.Err(err))
		return rep, nil
	}
	rep.Fetched = len(items)

	// The feed is newest first; push oldest unseen first.
	for i := len(items) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		ev, ok := toEvent(items[i])
		if !ok {
			rep.Skipped++
			continue
		}
		out, err := p.offer(ctx, ev)
		switch {
		case store.IsConnectionError(err):
			metrics.FeedCycles.WithLabelValues("store_lost").Inc()
			return rep, fmt.Errorf("feed cycle: %w", err)
		case err != nil:
			rep.Failed++
			p.log.Warn("enqueue failed", logx.String("id", ev.ID), logx.Err(err))
		case out:
			rep.Enqueued++
		default:
			rep.Skipped++
		}
	}

	rep.Took = time.Since(start)
	metrics.FeedCycles.WithLabelValues("ok").Inc()
	metrics.FeedItems.WithLabelValues("enqueued").Add(float64(rep.Enqueued))
	metrics.FeedItems.WithLabelValues("skipped").Add(float64(rep.Skipped))
	metrics.FeedItems.WithLabelValues("failed").Add(float64(rep.Failed))
	eventbus.Publish(p.bus, eventbus.TypeFeedCycle, rep)
	if rep.Enqueued > 0 || rep.Failed > 0 {
		p.log.Info("feed cycle",
			logx.Int("fetched", rep.Fetched),
			logx.Int("enqueued", rep.Enqueued),
			logx.Int("failed", rep.Failed),
			logx.Duration("took", rep.Took),
		)
	}
	return rep, nil
}

// offer pushes ev unless either marker says it was already handled.
func (p *Poller) offer(ctx context.Context, ev queue.Event) (bool, error) {
	seen, err := p.dedup.Seen(ctx, ev.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	enq, err := p.dedup.Enqueued(ctx, ev.ID)
	if err != nil {
		return false, err
	}
	if enq {
		return false, nil
	}
	entryID, err := p.queue.Push(ctx, ev)
	if err != nil {
		return false, err
	}
	if err := p.dedup.MarkEnqueued(ctx, ev.ID); err != nil {
		if store.IsConnectionError(err) {
			return true, err
		}
		p.log.Debug("enqueued marker write failed", logx.String("id", ev.ID), logx.Err(err))
	}
	p.log.Debug("enqueued", logx.String("id", ev.ID), logx.String("entry", entryID))
	return true, nil
}

func toEvent(it Item) (queue.Event, bool) {
	if it.Link == "" {
		return queue.Event{}, false
	}
	var cat string
	if len(it.Categories) > 0 {
		cat = category.Normalize(it.Categories[0])
	}
	return queue.Event{ID: it.Link, Link: it.Link, Title: it.Title, Category: cat}, true
}
