package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  admin_chat_id: 42
redis:
  url: redis://cache:6379
  message_db: 5
queue:
  backend: list
  block_timeout: 2s
`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.AdminChatID != 42 {
		t.Fatalf("admin = %d", cfg.Telegram.AdminChatID)
	}
	if got := DB(cfg.Redis.MessageDB, DefaultMessageDB); got != 5 {
		t.Fatalf("message db = %d, want 5", got)
	}
	if got := DB(cfg.Redis.SubscriberDB, DefaultSubscriberDB); got != 0 {
		t.Fatalf("subscriber db = %d, want 0", got)
	}
	if cfg.Backend() != "list" {
		t.Fatalf("backend = %s", cfg.Backend())
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"tokn":"x"}}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{} {}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "config.json", `{"redis":{"url":"redis://file:6379"},"telegram":{"admin_chat_id":1}}`)
	t.Setenv("REDIS_URL", "redis://env:6379")
	t.Setenv("ADMIN_CHAT_ID", "99")

	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL() != "redis://env:6379" {
		t.Fatalf("redis url = %s", cfg.RedisURL())
	}
	if cfg.Telegram.AdminChatID != 99 {
		t.Fatalf("admin = %d", cfg.Telegram.AdminChatID)
	}
}

func TestMissingFileIsEnvOnly(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("REDIS_URL", "")
	t.Setenv("QUEUE_BACKEND", "")
	cfg, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Backend() != DefaultBackend || cfg.RedisURL() != DefaultRedisURL {
		t.Fatalf("defaults not applied: %s %s", cfg.Backend(), cfg.RedisURL())
	}
	if !cfg.MarkWhenDisabled() {
		t.Fatal("mark_when_disabled should default to true")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	bad := 16
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "backend", cfg: Config{Queue: QueueConfig{Backend: "kafka"}}, want: "queue.backend"},
		{name: "duration", cfg: Config{Queue: QueueConfig{BlockTimeout: "soon"}}, want: "queue.block_timeout"},
		{name: "negative", cfg: Config{Feed: FeedConfig{Interval: "-5s"}}, want: "feed.interval"},
		{name: "db", cfg: Config{Redis: RedisConfig{ConfigDB: &bad}}, want: "redis.config_db"},
		{name: "sqlite path", cfg: Config{Storage: StorageConfig{Driver: "sqlite"}}, want: "storage.path"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}

	ok := Config{Queue: QueueConfig{Backend: "stream", BlockTimeout: "0s", ClaimMinIdle: "30s"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("set: %v %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Queue: QueueConfig{Backend: "stream"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Queue: QueueConfig{Backend: "list"}}

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,queue" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "queue" {
		t.Fatalf("restart = %v", restart)
	}
}
