package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pepperbot/internal/store"
)

const ListKey = "messages_list"

// List is the simple backend: RPUSH on one end, BLPOP on the other.
// Pop removes the entry, so there is nothing to ack and no redelivery.
type List struct {
	rdb *redis.Client
	key string
	opt Options
}

func NewList(rdb *redis.Client, opt Options) *List {
	return &List{rdb: rdb, key: ListKey, opt: opt}
}

func (l *List) Name() string { return BackendList }

func (l *List) EnsureReady(context.Context) error { return nil }

func (l *List) Push(ctx context.Context, ev Event) (string, error) {
	env := Envelope{ID: uuid.NewString(), List: l.key, Payload: ev}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if err := l.rdb.RPush(ctx, l.key, b).Err(); err != nil {
		return "", fmt.Errorf("rpush %s: %w", l.key, store.Classify(err))
	}
	return env.ID, nil
}

func (l *List) Pop(ctx context.Context, _ string) (Entry, error) {
	res, err := l.rdb.BLPop(ctx, l.opt.Block, l.key).Result()
	if err != nil {
		return Entry{}, popError(err)
	}
	if len(res) < 2 {
		return Entry{}, nil
	}
	return Entry{Event: decodeEnvelope(res[1])}, nil
}

// decodeEnvelope never fails; a broken payload yields an empty event.
func decodeEnvelope(raw string) Event {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Event{}
	}
	ev := env.Payload
	if ev.ID == "" {
		ev.ID = ev.Link
	}
	return ev
}

func (l *List) Ack(context.Context, Entry) error { return nil }

// Requeue puts the event back at the head so single-consumer order holds.
func (l *List) Requeue(ctx context.Context, e Entry) error {
	b, err := json.Marshal(Envelope{ID: uuid.NewString(), List: l.key, Payload: e.Event})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return store.Classify(l.rdb.LPush(ctx, l.key, b).Err())
}

// Len reports the number of queued envelopes.
func (l *List) Len(ctx context.Context) (int64, error) {
	n, err := l.rdb.LLen(ctx, l.key).Result()
	return n, store.Classify(err)
}
