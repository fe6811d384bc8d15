package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	KeyOperational  = "is_operational"
	KeyMessagesSent = "messages_sent_count"
	KeyDealsSent    = "deals_sent_count"
)

// Settings holds the operational flag and the delivery counters.
type Settings struct {
	rdb *redis.Client
}

type Stats struct {
	Operational  bool  `json:"operational"`
	MessagesSent int64 `json:"messages_sent"`
	DealsSent    int64 `json:"deals_sent"`
}

func NewSettings(rdb *redis.Client) *Settings {
	return &Settings{rdb: rdb}
}

// EnsureDefaults writes the initial values without touching existing keys.
func (s *Settings) EnsureDefaults(ctx context.Context) error {
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, KeyOperational, "1", 0)
		p.SetNX(ctx, KeyMessagesSent, "0", 0)
		p.SetNX(ctx, KeyDealsSent, "0", 0)
		return nil
	})
	return Classify(err)
}

// Get returns the raw value and whether it exists.
func (s *Settings) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, Classify(err)
	}
	return v, true, nil
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	return Classify(s.rdb.Set(ctx, key, value, 0).Err())
}

// Incr adds n to a counter atomically and returns the new value.
func (s *Settings) Incr(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, key, n).Result()
	return v, Classify(err)
}

// Operational reports the kill-switch. A missing key means enabled.
func (s *Settings) Operational(ctx context.Context) (bool, error) {
	v, ok, err := s.Get(ctx, KeyOperational)
	if err != nil || !ok {
		return true, err
	}
	return v != "0", nil
}

func (s *Settings) SetOperational(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return s.Set(ctx, KeyOperational, v)
}

// Stats reads the flag and both counters in one round trip.
func (s *Settings) Stats(ctx context.Context) (Stats, error) {
	vals, err := s.rdb.MGet(ctx, KeyOperational, KeyMessagesSent, KeyDealsSent).Result()
	if err != nil {
		return Stats{}, Classify(err)
	}
	st := Stats{Operational: true}
	if v, ok := vals[0].(string); ok {
		st.Operational = v != "0"
	}
	st.MessagesSent = parseCount(vals[1])
	st.DealsSent = parseCount(vals[2])
	return st, nil
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
