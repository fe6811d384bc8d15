package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "pepperbot/internal/transport"
	logx "pepperbot/pkg/logx"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (r *recorder) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recorder) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menu = cmds
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in         string
		name, rest string
		ok         bool
	}{
		{in: "/start", name: "start", ok: true},
		{in: "/Categories gaming, mode", name: "categories", rest: "gaming, mode", ok: true},
		{in: "/broadcast@pepper_bot  hello\nworld ", name: "broadcast", rest: "hello\nworld", ok: true},
		{in: "/broadcast\nline two", name: "broadcast", rest: "line two", ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
	}
	for _, tt := range tests {
		name, rest, ok := parseCommand(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		require.Equal(t, tt.name, name, tt.in)
		require.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	require.Equal(t, "available_categories", sanitizeTelegramCommand("Available Categories"))
	require.Equal(t, "stop_bot", sanitizeTelegramCommand("/stop-bot/"))
	require.Len(t, sanitizeTelegramCommand(strings.Repeat("a", 40)), 32)
}

func testCommands(calls chan<- *Request) []Command {
	return []Command{
		{Name: "start", Description: "Signup", Handle: func(ctx context.Context, req *Request) error {
			calls <- req
			return req.Reply(ctx, "ok")
		}},
		{Name: "stop_bot", Description: "Stop bot from sending messages", Access: AccessAdmin, Handle: func(ctx context.Context, req *Request) error {
			calls <- req
			return nil
		}},
	}
}

func TestMenuSkipsAdminCommands(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &recorder{}, 1)
	m.SetRegistry(context.Background(), testCommands(make(chan *Request, 1)))

	var order []*Command
	for _, c := range m.Commands() {
		c := c
		order = append(order, &c)
	}
	menu := buildTelegramMenuCommands(order)
	names := make([]string, 0, len(menu))
	for _, c := range menu {
		names = append(names, c.Command)
	}
	require.Equal(t, []string{"help", "start"}, names)
}

func TestHelpHidesAdminLines(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &recorder{}, 1)
	m.SetRegistry(context.Background(), testCommands(make(chan *Request, 1)))

	public := m.helpText(false)
	require.True(t, strings.HasPrefix(public, "These commands are supported:"))
	require.Contains(t, public, "/start - Signup")
	require.NotContains(t, public, "stop_bot")

	admin := m.helpText(true)
	require.Contains(t, admin, "/stop_bot - Admin - Stop bot from sending messages")
}

func TestDispatchLoopRoutesByAccess(t *testing.T) {
	rec := &recorder{}
	m := NewCommandManager(logx.Nop(), rec, 42)
	calls := make(chan *Request, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.SetRegistry(ctx, testCommands(calls))

	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Message: &kit.Message{ChatID: 7, Text: "/stop_bot"}}
	updates <- kit.Update{Message: &kit.Message{ChatID: 7, FromID: 9, Text: "/start now please"}}

	select {
	case req := <-calls:
		require.Equal(t, "start", req.Command)
		require.Equal(t, "now please", req.Text)
		require.Equal(t, []string{"now", "please"}, req.Args)
		require.False(t, req.IsAdmin)
		require.NotEmpty(t, req.ReqID)
	case <-time.After(2 * time.Second):
		t.Fatal("start handler not called")
	}

	updates <- kit.Update{Message: &kit.Message{ChatID: 42, Text: "/stop_bot"}}
	select {
	case req := <-calls:
		require.Equal(t, "stop_bot", req.Command)
		require.True(t, req.IsAdmin)
	case <-time.After(2 * time.Second):
		t.Fatal("admin handler not called")
	}

	updates <- kit.Update{Message: &kit.Message{ChatID: 7, Text: "/nope"}}
	require.Eventually(t, func() bool {
		for _, s := range rec.messages() {
			if strings.HasPrefix(s, "Unknown command") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestNewReqIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newReqID()
		require.False(t, seen[id])
		seen[id] = true
	}
}
