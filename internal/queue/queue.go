// Package queue carries events from the feed poller to the dispatcher.
//
// Two backends share one contract: a blocking FIFO list with no redelivery,
// and a capped stream read through a consumer group with explicit acks.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pepperbot/internal/store"
)

// ErrNoEntry is returned by Pop when the block timeout passed without data.
var ErrNoEntry = errors.New("queue: no entry")

const (
	BackendList   = "list"
	BackendStream = "stream"
)

// Event is one observed feed item. ID is the idempotency key.
type Event struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Category string `json:"category"`
	Title    string `json:"title"`
}

// Envelope is the list backend wire format.
type Envelope struct {
	ID      string `json:"id"`
	List    string `json:"list"`
	Payload Event  `json:"payload"`
}

// Entry is a popped event plus the handle needed to ack it.
// An Entry with an empty Event.ID is malformed and must be skipped.
type Entry struct {
	Event    Event
	StreamID string
	// Redelivered is set when the entry was reclaimed from another consumer.
	Redelivered bool
}

type Queue interface {
	// EnsureReady provisions backend resources. Safe to call repeatedly.
	EnsureReady(ctx context.Context) error
	// Push appends ev and returns the backend entry id.
	Push(ctx context.Context, ev Event) (string, error)
	// Pop blocks until an entry is available for consumer.
	Pop(ctx context.Context, consumer string) (Entry, error)
	// Ack marks the entry as processed.
	Ack(ctx context.Context, e Entry) error
	// Requeue hands an entry back so it is delivered again later.
	Requeue(ctx context.Context, e Entry) error
	Name() string
}

type Options struct {
	// Block is how long Pop waits. Zero waits forever.
	Block        time.Duration
	ClaimMinIdle time.Duration
	MaxLen       int64
}

// New selects a backend by name.
func New(backend string, rdb *redis.Client, opt Options) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendList:
		return NewList(rdb, opt), nil
	case "", BackendStream:
		return NewStream(rdb, opt), nil
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", backend)
	}
}

// popError maps go-redis results of a blocking read.
func popError(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNoEntry
	}
	return store.Classify(err)
}
