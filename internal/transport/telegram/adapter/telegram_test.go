package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	logx "pepperbot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split: %q", got)
	}

	runes := strings.Repeat("€", 25)
	got = splitTelegramText(runes, 10)
	if len(got) != 3 || got[2] != strings.Repeat("€", 5) {
		t.Fatalf("rune split: %q", got)
	}
}

func TestFromTele(t *testing.T) {
	t.Parallel()
	m := fromTele(&tele.Message{
		ID:       7,
		Text:     "/start",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100},
		Sender:   &tele.User{ID: 42, Username: "alice"},
	})
	if m.ChatID != -100 || m.FromID != 42 || m.FromUsername != "alice" || m.ThreadID != 3 || m.Text != "/start" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m := fromTele(&tele.Message{ID: 1}); m.ChatID != 0 || m.FromID != 0 {
		t.Fatalf("nil chat/sender should map to zero ids: %+v", m)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, nilLog()); err == nil {
		t.Fatal("expected error for empty token")
	}
	a, err := New(Config{Token: "123:abc", Offline: true}, nilLog())
	if err != nil {
		t.Fatalf("New offline: %v", err)
	}
	if a.Supervisor() != nil {
		t.Fatal("supervisor must be nil before Start")
	}
}

func nilLog() logx.Logger { return logx.Nop() }
