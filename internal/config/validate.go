package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults for the fields that may be omitted.
const (
	DefaultFeedURL       = "https://nl.pepper.com/rss/nieuw"
	DefaultFeedInterval  = 5 * time.Second
	DefaultFeedTimeout   = 15 * time.Second
	DefaultBackend       = "stream"
	DefaultStreamMaxLen  = 100
	DefaultClaimMinIdle  = time.Minute
	DefaultSendTimeout   = 10 * time.Second
	DefaultDispatchRate  = 25
	DefaultOpsAddr       = "127.0.0.1:8080"
	DefaultSubscriberDB  = 0
	DefaultMessageDB     = 1
	DefaultConfigDB      = 2
	DefaultPollTimeout   = 10 * time.Second
	DefaultRedisURL      = "redis://127.0.0.1:6379"
	DefaultLogLevel      = "info"
	DefaultAuditFilePath = "./data/pepperbot"
)

// Validate checks everything that can be checked without I/O.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	dur("feed.interval", c.Feed.Interval)
	dur("feed.timeout", c.Feed.Timeout)
	dur("queue.block_timeout", c.Queue.BlockTimeout)
	dur("queue.claim_min_idle", c.Queue.ClaimMinIdle)
	dur("dispatcher.send_timeout", c.Dispatcher.SendTimeout)
	dur("ops.read_timeout", c.Ops.ReadTimeout)
	dur("ops.write_timeout", c.Ops.WriteTimeout)

	switch strings.ToLower(strings.TrimSpace(c.Queue.Backend)) {
	case "", "stream", "list":
	default:
		check(fmt.Errorf("queue.backend: unknown backend %q (want stream or list)", c.Queue.Backend))
	}
	if c.Queue.MaxLen < 0 {
		check(errors.New("queue.max_len must be >= 0"))
	}
	if c.Dispatcher.RatePerSec < 0 {
		check(errors.New("dispatcher.rate_per_sec must be >= 0"))
	}
	for name, db := range map[string]*int{
		"redis.subscriber_db": c.Redis.SubscriberDB,
		"redis.message_db":    c.Redis.MessageDB,
		"redis.config_db":     c.Redis.ConfigDB,
	} {
		if db != nil && (*db < 0 || *db > 15) {
			check(fmt.Errorf("%s must be within 0..15", name))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			check(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		check(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)
	return errors.Join(errs...)
}

// Backend returns the normalized queue backend name.
func (c *Config) Backend() string {
	b := strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if b == "" {
		return DefaultBackend
	}
	return b
}

// RedisURL returns the configured server URL or the local default.
func (c *Config) RedisURL() string {
	if u := strings.TrimSpace(c.Redis.URL); u != "" {
		return u
	}
	return DefaultRedisURL
}

// DB resolves a database pointer against its default.
func DB(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// MarkWhenDisabled resolves dispatcher.mark_when_disabled (default true).
func (c *Config) MarkWhenDisabled() bool {
	if c.Dispatcher.MarkWhenDisabled == nil {
		return true
	}
	return *c.Dispatcher.MarkWhenDisabled
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for an empty or zero duration.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
