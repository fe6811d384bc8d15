package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pepperbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	got  []string
	to   []int64
	sent chan struct{}
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	c.got = append(c.got, text)
	c.to = append(c.to, to.ChatID)
	c.mu.Unlock()
	c.sent <- struct{}{}
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTelegramRecord(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"2024-01-01T00:00:00Z","message":"send failed","chat":"42","comp":"dispatch"}`
	got := formatTelegramRecord([]byte(line))
	want := "[WARN] send failed\n- chat=42\n- comp=dispatch"
	if got != want {
		t.Fatalf("formatTelegramRecord = %q, want %q", got, want)
	}

	if got := formatTelegramRecord([]byte("  not json  ")); got != "not json" {
		t.Fatalf("raw passthrough = %q", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("discarded", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestTelegramSinkForwardsAboveMinLevel(t *testing.T) {
	sender := &captureSender{sent: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetTelegramTarget(777)

	log.Info("below threshold")
	log.Error("dispatcher stopped", String("reason", "redis"))

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a forwarded record")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.got) != 1 {
		t.Fatalf("forwarded %d records, want 1", len(sender.got))
	}
	if sender.to[0] != 777 {
		t.Fatalf("chat = %d, want 777", sender.to[0])
	}
	if !strings.HasPrefix(sender.got[0], "[ERROR] dispatcher stopped") {
		t.Fatalf("unexpected text %q", sender.got[0])
	}
}
