package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"pepperbot/internal/store"
)

const (
	StreamKey   = "messages_stream_v2"
	StreamGroup = "messages_consumer_v2"

	defaultMaxLen = 100
)

// Stream is the grouped log backend. Entries stay pending for their
// claimant until acked; entries idle longer than ClaimMinIdle move to
// whichever consumer asks next.
type Stream struct {
	rdb   *redis.Client
	key   string
	group string
	opt   Options
}

func NewStream(rdb *redis.Client, opt Options) *Stream {
	if opt.MaxLen <= 0 {
		opt.MaxLen = defaultMaxLen
	}
	return &Stream{rdb: rdb, key: StreamKey, group: StreamGroup, opt: opt}
}

func (s *Stream) Name() string { return BackendStream }

// EnsureReady creates the stream and its group. BUSYGROUP counts as success.
func (s *Stream) EnsureReady(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.key, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", s.group, store.Classify(err))
	}
	return nil
}

func (s *Stream) Push(ctx context.Context, ev Event) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: s.opt.MaxLen,
		Approx: true,
		Values: []any{
			"message_id", ev.ID,
			"link", ev.Link,
			"title", ev.Title,
			"category", ev.Category,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", s.key, store.Classify(err))
	}
	return id, nil
}

func (s *Stream) Pop(ctx context.Context, consumer string) (Entry, error) {
	if s.opt.ClaimMinIdle > 0 {
		e, ok, err := s.reclaim(ctx, consumer)
		if err != nil {
			return Entry{}, err
		}
		if ok {
			return e, nil
		}
	}
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.key, ">"},
		Count:    1,
		Block:    s.opt.Block,
	}).Result()
	if err != nil {
		return Entry{}, popError(err)
	}
	for _, st := range res {
		for _, msg := range st.Messages {
			return Entry{Event: decodeFields(msg.Values), StreamID: msg.ID}, nil
		}
	}
	return Entry{}, ErrNoEntry
}

// reclaim takes over one entry left pending by a consumer that went away.
func (s *Stream) reclaim(ctx context.Context, consumer string) (Entry, bool, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.key,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  s.opt.ClaimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("xautoclaim %s: %w", s.key, store.Classify(err))
	}
	if len(msgs) == 0 {
		return Entry{}, false, nil
	}
	msg := msgs[0]
	return Entry{Event: decodeFields(msg.Values), StreamID: msg.ID, Redelivered: true}, true, nil
}

func decodeFields(v map[string]any) Event {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	return Event{
		ID:       str("message_id"),
		Link:     str("link"),
		Title:    str("title"),
		Category: str("category"),
	}
}

func (s *Stream) Ack(ctx context.Context, e Entry) error {
	if e.StreamID == "" {
		return nil
	}
	if err := s.rdb.XAck(ctx, s.key, s.group, e.StreamID).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", e.StreamID, store.Classify(err))
	}
	return nil
}

// Requeue leaves the entry pending; it is reclaimed once it has been idle
// for ClaimMinIdle.
func (s *Stream) Requeue(context.Context, Entry) error { return nil }

// Pending reports how many entries are delivered but not acked.
func (s *Stream) Pending(ctx context.Context) (int64, error) {
	p, err := s.rdb.XPending(ctx, s.key, s.group).Result()
	if err != nil {
		return 0, store.Classify(err)
	}
	return p.Count, nil
}
