package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerTTL is how long an event id is remembered as delivered.
const MarkerTTL = 172800 * time.Second

const enqueuedPrefix = "enqueued:"

// Markers is the idempotency store: one key per event id, value "1".
//
// Claim is the authoritative check used by consumers. The enqueued keys are
// a producer-only hint and never make a consumer skip an event.
type Markers struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMarkers(rdb *redis.Client) *Markers {
	return &Markers{rdb: rdb, ttl: MarkerTTL}
}

// Claim atomically records id. It returns false if id was already recorded.
func (m *Markers) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, id, "1", m.ttl).Result()
	if err != nil {
		return false, Classify(err)
	}
	return ok, nil
}

// Seen reports whether id has been claimed by a consumer.
func (m *Markers) Seen(ctx context.Context, id string) (bool, error) {
	n, err := m.rdb.Exists(ctx, id).Result()
	if err != nil {
		return false, Classify(err)
	}
	return n > 0, nil
}

// Release forgets a claim so the event can be delivered again.
func (m *Markers) Release(ctx context.Context, id string) error {
	return Classify(m.rdb.Del(ctx, id).Err())
}

// MarkEnqueued records that the producer already pushed id.
func (m *Markers) MarkEnqueued(ctx context.Context, id string) error {
	return Classify(m.rdb.Set(ctx, enqueuedPrefix+id, "1", m.ttl).Err())
}

// Enqueued reports whether the producer already pushed id.
func (m *Markers) Enqueued(ctx context.Context, id string) (bool, error) {
	n, err := m.rdb.Exists(ctx, enqueuedPrefix+id).Result()
	if err != nil {
		return false, Classify(err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of the marker for id.
func (m *Markers) TTL(ctx context.Context, id string) (time.Duration, error) {
	d, err := m.rdb.TTL(ctx, id).Result()
	return d, Classify(err)
}
